package push

import (
	"context"
	"fmt"
	"time"
)

// cascadeState is the explicit state machine behind the iOS
// encrypted -> unencrypted -> self-download fallback sequence.
type cascadeState int

const (
	stateEncrypted cascadeState = iota
	stateUnencrypted
	stateSelfDownload
	stateDone
)

// nextCascadeState is the pure transition function. Only a PayloadTooLarge
// outcome advances the cascade; success and every other error are terminal.
func nextCascadeState(current cascadeState, out Outcome, retryWithoutEnc bool) cascadeState {
	if out.Success || !out.PayloadTooLarge {
		return stateDone
	}
	switch current {
	case stateEncrypted:
		if retryWithoutEnc {
			return stateUnencrypted
		}
		return stateSelfDownload
	case stateUnencrypted:
		return stateSelfDownload
	default:
		// The self-download variant is always expected to fit the size
		// limit; its own failure has no further fallback.
		return stateDone
	}
}

func variantFor(state cascadeState) Variant {
	switch state {
	case stateUnencrypted:
		return VariantUnencrypted
	case stateSelfDownload:
		return VariantSelfDownload
	default:
		return VariantEncrypted
	}
}

// RunCascade drives the fallback sequence for a single device, building and
// sending one payload variant per state until a terminal outcome. The send
// function may talk to the local APNs client or to a passthrough server; the
// cascade owns only the ordering. The returned outcome is the terminal one.
func RunCascade(
	ctx context.Context,
	retryWithoutEnc bool,
	build func(variant Variant) ([]byte, error),
	send func(ctx context.Context, payload []byte, variant Variant) Outcome,
) (Outcome, CascadeFlags, []Attempt) {
	var (
		flags    CascadeFlags
		attempts []Attempt
		out      Outcome
	)

	for state := stateEncrypted; state != stateDone; {
		variant := variantFor(state)

		payload, err := build(variant)
		if err != nil {
			out = Outcome{Err: fmt.Sprintf("building %s payload: %v", variant, err), Variant: variant}
			attempts = append(attempts, Attempt{Variant: variant, Outcome: out})
			break
		}

		start := time.Now()
		out = send(ctx, payload, variant)
		out.Variant = variant
		attempts = append(attempts, Attempt{Variant: variant, Outcome: out, Duration: time.Since(start)})

		switch variant {
		case VariantEncrypted:
			flags.SentWithEncryption = true
		case VariantUnencrypted:
			flags.SentWithoutEncryption = true
			flags.RetryAttempted = true
		case VariantSelfDownload:
			flags.SentWithSelfDownload = true
		}
		if out.PayloadTooLarge {
			flags.PayloadTooLargeDetected = true
		}

		state = nextCascadeState(state, out, retryWithoutEnc)
	}

	return out, flags, attempts
}

package push

import (
	"context"
	"errors"
	"testing"
)

func TestNextCascadeState(t *testing.T) {
	success := Outcome{Success: true}
	tooLarge := Outcome{PayloadTooLarge: true}
	transport := Outcome{Err: "connection reset"}

	tests := []struct {
		name            string
		current         cascadeState
		out             Outcome
		retryWithoutEnc bool
		want            cascadeState
	}{
		{"encrypted success terminates", stateEncrypted, success, true, stateDone},
		{"encrypted too large with retry goes unencrypted", stateEncrypted, tooLarge, true, stateUnencrypted},
		{"encrypted too large without retry goes self-download", stateEncrypted, tooLarge, false, stateSelfDownload},
		{"encrypted transport error terminates", stateEncrypted, transport, true, stateDone},
		{"unencrypted success terminates", stateUnencrypted, success, true, stateDone},
		{"unencrypted too large goes self-download", stateUnencrypted, tooLarge, true, stateSelfDownload},
		{"unencrypted transport error terminates", stateUnencrypted, transport, true, stateDone},
		{"self-download failure has no fallback", stateSelfDownload, tooLarge, true, stateDone},
		{"self-download success terminates", stateSelfDownload, success, true, stateDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextCascadeState(tt.current, tt.out, tt.retryWithoutEnc); got != tt.want {
				t.Errorf("nextCascadeState() = %v, want %v", got, tt.want)
			}
		})
	}
}

// scriptedSender returns a canned outcome per variant.
func scriptedSender(outcomes map[Variant]Outcome) func(context.Context, []byte, Variant) Outcome {
	return func(_ context.Context, _ []byte, v Variant) Outcome {
		return outcomes[v]
	}
}

func passthroughBuilder(v Variant) ([]byte, error) {
	return []byte(string(v)), nil
}

func TestRunCascade_EncryptedSuccess(t *testing.T) {
	out, flags, attempts := RunCascade(context.Background(), true, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted: {Success: true},
		}))

	if !out.Success {
		t.Fatal("expected terminal success")
	}
	if len(attempts) != 1 || attempts[0].Variant != VariantEncrypted {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
	want := CascadeFlags{SentWithEncryption: true}
	if flags != want {
		t.Errorf("flags = %+v, want %+v", flags, want)
	}
}

func TestRunCascade_RetryEnabledUnencryptedFits(t *testing.T) {
	out, flags, attempts := RunCascade(context.Background(), true, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted:   {PayloadTooLarge: true, Err: "too large"},
			VariantUnencrypted: {Success: true},
		}))

	if !out.Success || out.Variant != VariantUnencrypted {
		t.Fatalf("expected unencrypted success, got %+v", out)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	want := CascadeFlags{
		PayloadTooLargeDetected: true,
		RetryAttempted:          true,
		SentWithEncryption:      true,
		SentWithoutEncryption:   true,
	}
	if flags != want {
		t.Errorf("flags = %+v, want %+v", flags, want)
	}
}

func TestRunCascade_RetryEnabledUnencryptedAlsoTooLarge(t *testing.T) {
	out, flags, attempts := RunCascade(context.Background(), true, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted:    {PayloadTooLarge: true, Err: "too large"},
			VariantUnencrypted:  {PayloadTooLarge: true, Err: "still too large"},
			VariantSelfDownload: {Success: true},
		}))

	if !out.Success || out.Variant != VariantSelfDownload {
		t.Fatalf("expected self-download success, got %+v", out)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	want := CascadeFlags{
		PayloadTooLargeDetected: true,
		RetryAttempted:          true,
		SentWithEncryption:      true,
		SentWithoutEncryption:   true,
		SentWithSelfDownload:    true,
	}
	if flags != want {
		t.Errorf("flags = %+v, want %+v", flags, want)
	}
}

func TestRunCascade_RetryDisabledSkipsUnencrypted(t *testing.T) {
	out, flags, attempts := RunCascade(context.Background(), false, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted:    {PayloadTooLarge: true, Err: "too large"},
			VariantSelfDownload: {Success: true},
		}))

	if !out.Success || out.Variant != VariantSelfDownload {
		t.Fatalf("expected self-download success, got %+v", out)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if flags.SentWithoutEncryption || flags.RetryAttempted {
		t.Errorf("unencrypted variant must be skipped when retry is disabled: %+v", flags)
	}
	if !flags.SentWithSelfDownload || !flags.PayloadTooLargeDetected {
		t.Errorf("flags = %+v", flags)
	}
}

func TestRunCascade_TransportErrorIsTerminal(t *testing.T) {
	out, _, attempts := RunCascade(context.Background(), true, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted: {Err: "bad device token"},
		}))

	if out.Success {
		t.Fatal("expected failure")
	}
	if len(attempts) != 1 {
		t.Fatalf("non-size errors must not cascade, got %d attempts", len(attempts))
	}
}

func TestRunCascade_SelfDownloadFailureIsFatal(t *testing.T) {
	out, _, attempts := RunCascade(context.Background(), false, passthroughBuilder,
		scriptedSender(map[Variant]Outcome{
			VariantEncrypted:    {PayloadTooLarge: true},
			VariantSelfDownload: {Err: "provider unavailable"},
		}))

	if out.Success {
		t.Fatal("expected failure")
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if out.Variant != VariantSelfDownload {
		t.Errorf("terminal outcome variant = %s", out.Variant)
	}
}

func TestRunCascade_BuildErrorIsTerminal(t *testing.T) {
	out, flags, attempts := RunCascade(context.Background(), true,
		func(Variant) ([]byte, error) { return nil, errors.New("no encryption key") },
		scriptedSender(nil))

	if out.Success {
		t.Fatal("expected failure")
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if flags.SentWithEncryption {
		t.Error("nothing was sent, flags must stay clear")
	}
}

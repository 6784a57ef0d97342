package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// APNSClient is the subset of apns2.Client the strategy uses, narrow enough
// to mock in tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// IOSStrategy delivers over APNs and owns the encrypted -> unencrypted ->
// self-download payload cascade.
type IOSStrategy struct {
	client    APNSClient
	topic     string
	encryptor Encryptor
}

// NewIOSStrategy parses the P8 key immediately so bad credentials fail at
// startup, not on the first dispatch. An empty key leaves the client unset;
// payload building still works, which passthrough dispatch relies on.
func NewIOSStrategy(cfg config.APNS) (*IOSStrategy, error) {
	s := &IOSStrategy{topic: cfg.BundleID, encryptor: envelopeEncryptor{}}
	if cfg.P8Key == "" {
		return s, nil
	}

	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8Key))
	if err != nil {
		return nil, fmt.Errorf("parsing APNs P8 key: %w", err)
	}
	s.client = apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	return s, nil
}

func NewIOSStrategyWithClient(client APNSClient, topic string) *IOSStrategy {
	return &IOSStrategy{client: client, topic: topic, encryptor: envelopeEncryptor{}}
}

func (s *IOSStrategy) Send(ctx context.Context, msg *models.Message, devices []models.UserDevice, settings Settings) SendResult {
	var result SendResult

	for _, device := range devices {
		device := device
		out, flags, attempts := RunCascade(ctx, settings.RetryWithoutEnc,
			func(variant Variant) ([]byte, error) {
				return s.BuildPayload(msg, device, variant, settings)
			},
			func(ctx context.Context, payload []byte, variant Variant) Outcome {
				return s.push(ctx, payload, device, msg.DeliveryType, variant)
			},
		)
		for i := range attempts {
			attempts[i].DeviceID = device.ID
		}
		result.Attempts = append(result.Attempts, attempts...)
		result.Flags.merge(flags)

		if out.Success {
			result.SuccessCount++
		} else {
			result.ErrorCount++
			result.DeviceErrors = append(result.DeviceErrors, DeviceError{DeviceID: device.ID, Err: out.Err})
		}
	}

	result.Success = result.SuccessCount > 0
	return result
}

func (s *IOSStrategy) SendPrebuilt(ctx context.Context, payload []byte, device models.UserDevice) Outcome {
	variant := VariantUnencrypted
	if isSelfDownloadPayload(payload) {
		variant = VariantSelfDownload
	}
	return s.push(ctx, payload, device, models.DeliveryNormal, variant)
}

// BuildPayload renders one cascade variant. The encrypted variant seals the
// full content and shows a placeholder alert the notification extension
// replaces after decrypting; the self-download variant carries no inline
// content at all.
func (s *IOSStrategy) BuildPayload(msg *models.Message, device models.UserDevice, variant Variant, settings Settings) ([]byte, error) {
	content := contentFor(msg, settings)

	switch variant {
	case VariantEncrypted:
		plaintext, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		ciphertext, err := s.encryptor.Encrypt(plaintext, device)
		if err != nil {
			return nil, fmt.Errorf("encrypting payload: %w", err)
		}
		p := apnspayload.NewPayload().
			MutableContent().
			Custom("encrypted", base64.StdEncoding.EncodeToString(ciphertext)).
			Custom("message-id", msg.PublicID)
		if content.Silent {
			p.ContentAvailable()
		} else {
			p.AlertBody("You have a new message.")
			p.Sound("default")
		}
		return json.Marshal(p)

	case VariantSelfDownload:
		p := apnspayload.NewPayload().
			ContentAvailable().
			Custom("self-download", 1).
			Custom("message-id", msg.PublicID)
		return json.Marshal(p)

	default:
		p := apnspayload.NewPayload().
			AlertTitle(content.Title).
			AlertSubtitle(content.Subtitle).
			AlertBody(content.Body).
			MutableContent().
			Custom("message-id", msg.PublicID)
		if content.Silent {
			p = apnspayload.NewPayload().
				ContentAvailable().
				Custom("message-id", msg.PublicID)
		} else {
			p.Sound("default")
		}
		if len(content.Actions) > 0 {
			actions, err := json.Marshal(content.Actions)
			if err != nil {
				return nil, err
			}
			p.Custom("actions", string(actions))
		}
		if len(content.Attachments) > 0 {
			attachments, err := json.Marshal(content.Attachments)
			if err != nil {
				return nil, err
			}
			p.Custom("attachments", string(attachments))
		}
		return json.Marshal(p)
	}
}

func (s *IOSStrategy) push(ctx context.Context, raw []byte, device models.UserDevice, deliveryType string, variant Variant) Outcome {
	if s.client == nil {
		return Outcome{Err: "APNs client not configured"}
	}

	n := &apns2.Notification{
		DeviceToken: device.APNSToken,
		Topic:       s.topic,
		Payload:     raw,
		Expiration:  time.Now().Add(24 * time.Hour),
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
	}
	if deliveryType == models.DeliverySilent || variant == VariantSelfDownload {
		n.Priority = apns2.PriorityLow
		n.PushType = apns2.PushTypeBackground
	}

	res, err := s.client.Push(n)
	if err != nil {
		return Outcome{Err: fmt.Sprintf("APNs transport: %v", err)}
	}

	response := fmt.Sprintf(`{"apnsId":%q,"status":%d,"reason":%q}`, res.ApnsID, res.StatusCode, res.Reason)
	if res.Sent() {
		return Outcome{Success: true, Response: response}
	}

	out := Outcome{
		Err:      fmt.Sprintf("APNs rejected: %s (status %d)", res.Reason, res.StatusCode),
		Response: response,
	}
	if res.Reason == apns2.ReasonPayloadTooLarge || res.StatusCode == http.StatusRequestEntityTooLarge {
		out.PayloadTooLarge = true
	}
	return out
}

func isSelfDownloadPayload(raw []byte) bool {
	return bytes.Contains(raw, []byte(`"self-download"`))
}

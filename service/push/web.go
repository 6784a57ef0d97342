package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// WebPushSender matches webpush.SendNotificationWithContext, so tests can
// substitute a fake without a network.
type WebPushSender func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// WebStrategy delivers over Web Push with VAPID auth. Single attempt per
// subscription; a rejected push is terminal.
type WebStrategy struct {
	send WebPushSender
	cfg  config.WebPush
}

func NewWebStrategy(cfg config.WebPush) *WebStrategy {
	return &WebStrategy{send: webpush.SendNotificationWithContext, cfg: cfg}
}

func NewWebStrategyWithSender(send WebPushSender, cfg config.WebPush) *WebStrategy {
	return &WebStrategy{send: send, cfg: cfg}
}

func (s *WebStrategy) Send(ctx context.Context, msg *models.Message, devices []models.UserDevice, settings Settings) SendResult {
	var result SendResult

	for _, device := range devices {
		payload, err := s.BuildPayload(msg, device, VariantUnencrypted, settings)
		if err != nil {
			result.ErrorCount++
			result.DeviceErrors = append(result.DeviceErrors, DeviceError{DeviceID: device.ID, Err: err.Error()})
			continue
		}
		out := s.SendPrebuilt(ctx, payload, device)
		result.Attempts = append(result.Attempts, Attempt{DeviceID: device.ID, Variant: VariantUnencrypted, Outcome: out})
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

func (s *WebStrategy) SendPrebuilt(ctx context.Context, payload []byte, device models.UserDevice) Outcome {
	if s.cfg.VAPIDPrivateKey == "" {
		return Outcome{Err: "Web Push VAPID keys not configured", Variant: VariantUnencrypted}
	}

	sub := &webpush.Subscription{
		Endpoint: device.WebPushEndpoint,
		Keys: webpush.Keys{
			P256dh: device.WebPushP256dh,
			Auth:   device.WebPushAuth,
		},
	}
	resp, err := s.send(ctx, payload, sub, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return Outcome{Err: fmt.Sprintf("Web Push transport: %v", err), Variant: VariantUnencrypted}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	response := fmt.Sprintf(`{"status":%d}`, resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{Success: true, Variant: VariantUnencrypted, Response: response}
	}

	out := Outcome{
		Err:      fmt.Sprintf("push service returned %d: %s", resp.StatusCode, string(body)),
		Variant:  VariantUnencrypted,
		Response: response,
	}
	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		out.PayloadTooLarge = true
	}
	return out
}

func (s *WebStrategy) BuildPayload(msg *models.Message, device models.UserDevice, variant Variant, settings Settings) ([]byte, error) {
	return json.Marshal(contentFor(msg, settings))
}

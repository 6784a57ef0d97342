package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appleboy/go-fcm"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// FCMClient is the subset of the go-fcm client the strategy uses.
type FCMClient interface {
	Send(msg *fcm.Message) (*fcm.Response, error)
}

// AndroidStrategy delivers over FCM. Single attempt per device; FCM has no
// size-fallback cascade and push-service errors are terminal.
type AndroidStrategy struct {
	client FCMClient
}

func NewAndroidStrategy(cfg config.FCM) (*AndroidStrategy, error) {
	if cfg.ServerKey == "" {
		return &AndroidStrategy{}, nil
	}
	client, err := fcm.NewClient(cfg.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("creating FCM client: %w", err)
	}
	return &AndroidStrategy{client: client}, nil
}

func NewAndroidStrategyWithClient(client FCMClient) *AndroidStrategy {
	return &AndroidStrategy{client: client}
}

func (s *AndroidStrategy) Send(ctx context.Context, msg *models.Message, devices []models.UserDevice, settings Settings) SendResult {
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

	// Success means at least one registration accepted the message.
	result.Success = result.SuccessCount > 0
	return result
}

func (s *AndroidStrategy) SendPrebuilt(ctx context.Context, payload []byte, device models.UserDevice) Outcome {
	if s.client == nil {
		return Outcome{Err: "FCM client not configured", Variant: VariantUnencrypted}
	}

	var fcmMsg fcm.Message
	if err := json.Unmarshal(payload, &fcmMsg); err != nil {
		return Outcome{Err: fmt.Sprintf("invalid FCM payload: %v", err), Variant: VariantUnencrypted}
	}
	fcmMsg.To = device.FCMToken

	resp, err := s.client.Send(&fcmMsg)
	if err != nil {
		return Outcome{Err: fmt.Sprintf("FCM transport: %v", err), Variant: VariantUnencrypted}
	}

	response := fmt.Sprintf(`{"success":%d,"failure":%d}`, resp.Success, resp.Failure)
	if resp.Success > 0 {
		return Outcome{Success: true, Variant: VariantUnencrypted, Response: response}
	}

	errText := "FCM rejected the message"
	for _, r := range resp.Results {
		if r.Error != nil {
			errText = fmt.Sprintf("FCM rejected: %v", r.Error)
			break
		}
	}
	return Outcome{Err: errText, Variant: VariantUnencrypted, Response: response}
}

// BuildPayload renders the FCM message without a target token; the sender
// fills in the destination so one build serves local and passthrough paths.
func (s *AndroidStrategy) BuildPayload(msg *models.Message, device models.UserDevice, variant Variant, settings Settings) ([]byte, error) {
	content := contentFor(msg, settings)

	data := map[string]interface{}{
		"messageId": content.MessageID,
	}
	if content.Subtitle != "" {
		data["subtitle"] = content.Subtitle
	}
	if len(content.Actions) > 0 {
		actions, err := json.Marshal(content.Actions)
		if err != nil {
			return nil, err
		}
		data["actions"] = string(actions)
	}
	if len(content.Attachments) > 0 {
		attachments, err := json.Marshal(content.Attachments)
		if err != nil {
			return nil, err
		}
		data["attachments"] = string(attachments)
	}

	fcmMsg := fcm.Message{
		Priority:         priorityFor(msg.DeliveryType),
		ContentAvailable: content.Silent,
		Data:             data,
	}
	if !content.Silent {
		fcmMsg.Notification = &fcm.Notification{
			Title: content.Title,
			Body:  content.Body,
			Sound: "default",
		}
	}
	return json.Marshal(&fcmMsg)
}

func priorityFor(deliveryType string) string {
	if deliveryType == models.DeliveryCritical {
		return "high"
	}
	return "normal"
}

package push

import (
	"context"
	"testing"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
)

func testMessage() *models.Message {
	return &models.Message{
		PublicID:     "11111111-2222-3333-4444-555555555555",
		BucketID:     1,
		Title:        "Backup finished",
		Body:         "Nightly backup completed without errors.",
		DeliveryType: models.DeliveryNormal,
	}
}

func testIOSDevice() models.UserDevice {
	return models.UserDevice{
		UserID:    7,
		Platform:  models.PlatformIOS,
		APNSToken: "f00d0000000000000000000000000000",
	}
}

// The observable cascade scenarios, given the mock transport mode and the
// UnencryptOnBigPayload gate.
func TestIOSStrategy_CascadeScenarios(t *testing.T) {
	tests := []struct {
		name            string
		mockMode        string
		retryWithoutEnc bool
		wantSuccess     bool
		wantFlags       CascadeFlags
		wantAttempts    int
	}{
		{
			name:            "success mode sends encrypted only",
			mockMode:        config.MockSuccess,
			retryWithoutEnc: true,
			wantSuccess:     true,
			wantFlags:       CascadeFlags{SentWithEncryption: true},
			wantAttempts:    1,
		},
		{
			name:            "too large with retry walks the full cascade",
			mockMode:        config.MockPayloadTooLarge,
			retryWithoutEnc: true,
			wantSuccess:     true,
			wantFlags: CascadeFlags{
				PayloadTooLargeDetected: true,
				RetryAttempted:          true,
				SentWithEncryption:      true,
				SentWithoutEncryption:   true,
				SentWithSelfDownload:    true,
			},
			wantAttempts: 3,
		},
		{
			name:            "too large without retry jumps to self-download",
			mockMode:        config.MockPayloadTooLarge,
			retryWithoutEnc: false,
			wantSuccess:     true,
			wantFlags: CascadeFlags{
				PayloadTooLargeDetected: true,
				SentWithEncryption:      true,
				SentWithSelfDownload:    true,
			},
			wantAttempts: 2,
		},
		{
			name:            "transport error does not cascade",
			mockMode:        config.MockError,
			retryWithoutEnc: true,
			wantSuccess:     false,
			wantFlags:       CascadeFlags{SentWithEncryption: true},
			wantAttempts:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockAPNSClient(tt.mockMode)
			strategy := NewIOSStrategyWithClient(client, "com.pushbucket.app")

			result := strategy.Send(context.Background(), testMessage(),
				[]models.UserDevice{testIOSDevice()},
				Settings{RetryWithoutEnc: tt.retryWithoutEnc})

			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if result.Flags != tt.wantFlags {
				t.Errorf("Flags = %+v, want %+v", result.Flags, tt.wantFlags)
			}
			if len(result.Attempts) != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", len(result.Attempts), tt.wantAttempts)
			}
			if len(client.Pushed) != tt.wantAttempts {
				t.Errorf("provider pushes = %d, want %d", len(client.Pushed), tt.wantAttempts)
			}
		})
	}
}

func TestIOSStrategy_SelfDownloadPayloadIsBackground(t *testing.T) {
	client := NewMockAPNSClient(config.MockPayloadTooLarge)
	strategy := NewIOSStrategyWithClient(client, "com.pushbucket.app")

	strategy.Send(context.Background(), testMessage(),
		[]models.UserDevice{testIOSDevice()}, Settings{})

	if len(client.Pushed) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(client.Pushed))
	}
	last := client.Pushed[1]
	if last.PushType != "background" {
		t.Errorf("self-download push type = %q, want background", last.PushType)
	}
	raw, ok := last.Payload.([]byte)
	if !ok {
		t.Fatalf("payload not raw bytes: %T", last.Payload)
	}
	if !isSelfDownloadPayload(raw) {
		t.Errorf("self-download payload missing marker: %s", raw)
	}
}

func TestIOSStrategy_MultipleDevicesAggregates(t *testing.T) {
	client := NewMockAPNSClient(config.MockSuccess)
	strategy := NewIOSStrategyWithClient(client, "com.pushbucket.app")

	devices := []models.UserDevice{testIOSDevice(), testIOSDevice(), testIOSDevice()}
	result := strategy.Send(context.Background(), testMessage(), devices, Settings{})

	if result.SuccessCount != 3 || result.ErrorCount != 0 {
		t.Errorf("counts = %d/%d, want 3/0", result.SuccessCount, result.ErrorCount)
	}
}

func TestIOSStrategy_NoClientConfigured(t *testing.T) {
	strategy := &IOSStrategy{topic: "com.pushbucket.app", encryptor: envelopeEncryptor{}}

	result := strategy.Send(context.Background(), testMessage(),
		[]models.UserDevice{testIOSDevice()}, Settings{})

	if result.Success {
		t.Fatal("send without a client must fail")
	}
	if len(result.DeviceErrors) != 1 {
		t.Fatalf("expected 1 device error, got %d", len(result.DeviceErrors))
	}
}

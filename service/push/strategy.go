package push

import (
	"context"
	"fmt"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// Variant names one payload shape of the iOS size-fallback cascade. Android
// and Web only ever send the unencrypted variant.
type Variant string

const (
	VariantEncrypted    Variant = "ENCRYPTED"
	VariantUnencrypted  Variant = "UNENCRYPTED"
	VariantSelfDownload Variant = "SELF_DOWNLOAD"
)

// Outcome is the result of one transport attempt for one device.
type Outcome struct {
	Success         bool
	Err             string
	PayloadTooLarge bool
	Variant         Variant
	Response        string // provider response, kept for the audit trail
}

type DeviceError struct {
	DeviceID uint   `json:"deviceId"`
	Err      string `json:"error"`
}

// CascadeFlags records which payload variants a dispatch touched. Together
// with the retry gate they fully determine the observable cascade scenario.
type CascadeFlags struct {
	PayloadTooLargeDetected bool `json:"payloadTooLargeDetected"`
	RetryAttempted          bool `json:"retryAttempted"`
	SentWithEncryption      bool `json:"sentWithEncryption"`
	SentWithoutEncryption   bool `json:"sentWithoutEncryption"`
	SentWithSelfDownload    bool `json:"sentWithSelfDownload"`
}

func (f *CascadeFlags) merge(other CascadeFlags) {
	f.PayloadTooLargeDetected = f.PayloadTooLargeDetected || other.PayloadTooLargeDetected
	f.RetryAttempted = f.RetryAttempted || other.RetryAttempted
	f.SentWithEncryption = f.SentWithEncryption || other.SentWithEncryption
	f.SentWithoutEncryption = f.SentWithoutEncryption || other.SentWithoutEncryption
	f.SentWithSelfDownload = f.SentWithSelfDownload || other.SentWithSelfDownload
}

// Attempt is one audited transport attempt, including cascade retries.
type Attempt struct {
	DeviceID uint
	Variant  Variant
	Outcome  Outcome
	Duration time.Duration
}

type SendResult struct {
	Success      bool
	SuccessCount int
	ErrorCount   int
	DeviceErrors []DeviceError
	Flags        CascadeFlags
	Attempts     []Attempt
}

// Settings carries the per-user/device toggles that shape a dispatch. Only
// RetryWithoutEnc affects delivery semantics (the iOS cascade gate); the
// rest shape the rendered action buttons.
type Settings struct {
	RetryWithoutEnc        bool
	AutoDeleteAction       bool
	AutoMarkReadAction     bool
	AutoOpenAction         bool
	DefaultSnoozeMinutes   int
	DefaultPostponeMinutes int
}

// Strategy is the per-platform delivery capability. The orchestrator depends
// only on this interface, never on a concrete platform type.
type Strategy interface {
	Send(ctx context.Context, msg *models.Message, devices []models.UserDevice, settings Settings) SendResult
	SendPrebuilt(ctx context.Context, payload []byte, device models.UserDevice) Outcome
	BuildPayload(msg *models.Message, device models.UserDevice, variant Variant, settings Settings) ([]byte, error)
}

// NewStrategies builds one strategy per platform tag. When a mock transport
// mode is configured the provider clients are replaced by in-memory fakes;
// payload building is unaffected either way, so passthrough dispatch can
// always delegate to a strategy's builder.
func NewStrategies(cfg config.Push) (map[string]Strategy, error) {
	strategies := make(map[string]Strategy, 3)

	if cfg.MockMode != config.MockOff {
		strategies[models.PlatformIOS] = NewIOSStrategyWithClient(NewMockAPNSClient(cfg.MockMode), cfg.APNS.BundleID)
		strategies[models.PlatformAndroid] = NewAndroidStrategyWithClient(NewMockFCMClient(cfg.MockMode))
		strategies[models.PlatformWeb] = NewWebStrategyWithSender(MockWebPushSender(cfg.MockMode), cfg.WebPush)
		return strategies, nil
	}

	ios, err := NewIOSStrategy(cfg.APNS)
	if err != nil {
		return nil, fmt.Errorf("iOS strategy: %w", err)
	}
	strategies[models.PlatformIOS] = ios

	android, err := NewAndroidStrategy(cfg.FCM)
	if err != nil {
		return nil, fmt.Errorf("Android strategy: %w", err)
	}
	strategies[models.PlatformAndroid] = android

	strategies[models.PlatformWeb] = NewWebStrategy(cfg.WebPush)
	return strategies, nil
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/service/push"
	"github.com/pushbucket/pushbucket-server/service/snooze"
)

// DispatchStats aggregates one fan-out for observability.
type DispatchStats struct {
	SuccessCount    int            `json:"successCount"`
	ErrorCount      int            `json:"errorCount"`
	SnoozedCount    int            `json:"snoozedCount"`
	SkippedCount    int            `json:"skippedCount"`
	PerPlatformSent map[string]int `json:"perPlatformSent"`
}

// Orchestrator fans a message out into per-device delivery attempts. Devices
// are processed sequentially; no two attempts for the same (notification,
// device) pair ever run concurrently from here.
type Orchestrator struct {
	store      Store
	audit      AuditSink
	strategies map[string]push.Strategy
	delegate   *push.PassthroughDelegate
	pushCfg    config.Push
	now        func() time.Time
}

func NewOrchestrator(store Store, audit AuditSink, strategies map[string]push.Strategy, delegate *push.PassthroughDelegate, pushCfg config.Push) *Orchestrator {
	return &Orchestrator{
		store:      store,
		audit:      audit,
		strategies: strategies,
		delegate:   delegate,
		pushCfg:    pushCfg,
		now:        time.Now,
	}
}

// Dispatch resolves the authorized devices for the message's bucket,
// creates one notification row per device up front, then attempts delivery
// per device. Skips (local-only, NO_PUSH, snoozed, mode off/local) leave the
// row without sentAt and are not errors.
func (o *Orchestrator) Dispatch(ctx context.Context, msg *models.Message, requesterID uint, targetUserIDs []uint) ([]models.Notification, DispatchStats, error) {
	stats := DispatchStats{PerPlatformSent: make(map[string]int)}

	devices, err := o.store.DevicesForBucket(msg.BucketID, targetUserIDs)
	if err != nil {
		return nil, stats, fmt.Errorf("resolving devices for bucket %d: %w", msg.BucketID, err)
	}
	if len(devices) == 0 {
		return []models.Notification{}, stats, nil
	}

	// All rows exist before the first push attempt, so a crash mid-dispatch
	// still leaves every device with an addressable delivery record.
	notifications := make([]models.Notification, len(devices))
	for i, device := range devices {
		notifications[i] = models.Notification{
			MessageID: msg.ID,
			DeviceID:  device.ID,
			UserID:    device.UserID,
		}
		if err := o.store.CreateNotification(&notifications[i]); err != nil {
			return nil, stats, fmt.Errorf("creating notification row for device %d: %w", device.ID, err)
		}
	}

	for i := range notifications {
		o.deliver(ctx, msg, &notifications[i], devices[i], &stats)
	}

	log.Printf("Dispatched message %s to %d devices: %d sent, %d failed, %d snoozed",
		msg.PublicID, len(devices), stats.SuccessCount, stats.ErrorCount, stats.SnoozedCount)
	return notifications, stats, nil
}

// Resend re-attempts delivery of one existing notification.
func (o *Orchestrator) Resend(ctx context.Context, notificationID, userID uint) (*models.Notification, error) {
	n, err := o.store.NotificationByID(notificationID)
	if err != nil {
		return nil, fmt.Errorf("loading notification %d: %w", notificationID, err)
	}
	if n.UserID != userID {
		return nil, fmt.Errorf("notification %d does not belong to user %d", notificationID, userID)
	}
	msg, err := o.store.MessageByID(n.MessageID)
	if err != nil {
		return nil, fmt.Errorf("loading message %d: %w", n.MessageID, err)
	}
	device, err := o.store.DeviceByID(n.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("loading device %d: %w", n.DeviceID, err)
	}

	stats := DispatchStats{PerPlatformSent: make(map[string]int)}
	o.deliver(ctx, msg, n, *device, &stats)
	return n, nil
}

// ResendDeferred re-delivers a postponed notification (one device) or a
// message reminder (all of the user's devices, reusing existing rows). A nil
// return means at least one device accepted and the deferred record can go.
func (o *Orchestrator) ResendDeferred(ctx context.Context, rec models.DeferredDelivery) error {
	msg, err := o.store.MessageByID(rec.MessageID)
	if err != nil {
		return fmt.Errorf("loading message %d: %w", rec.MessageID, err)
	}

	decorated := *msg
	decorated.Title = decorateTitle(msg.Title, rec.Kind, o.localeFor(rec.UserID))

	stats := DispatchStats{PerPlatformSent: make(map[string]int)}

	if rec.Kind == models.DeferredPostpone && rec.NotificationID != 0 {
		n, err := o.store.NotificationByID(rec.NotificationID)
		if err != nil {
			return fmt.Errorf("loading notification %d: %w", rec.NotificationID, err)
		}
		device, err := o.store.DeviceByID(n.DeviceID)
		if err != nil {
			return fmt.Errorf("loading device %d: %w", n.DeviceID, err)
		}
		o.deliver(ctx, &decorated, n, *device, &stats)
		if stats.SuccessCount == 0 {
			return fmt.Errorf("postponed resend of notification %d did not reach the device", n.ID)
		}
		return nil
	}

	devices, err := o.store.DevicesForUser(rec.UserID)
	if err != nil {
		return fmt.Errorf("loading devices for user %d: %w", rec.UserID, err)
	}
	attempted := 0
	for _, device := range devices {
		// The sweeper never creates rows; devices registered after the
		// original fan-out are skipped.
		n, err := o.store.NotificationFor(msg.ID, device.ID)
		if err != nil {
			continue
		}
		attempted++
		o.deliver(ctx, &decorated, n, device, &stats)
	}
	if attempted == 0 {
		return fmt.Errorf("reminder for message %d has no notification rows for user %d", msg.ID, rec.UserID)
	}
	if stats.SuccessCount == 0 {
		return fmt.Errorf("reminder for message %d did not reach any device", msg.ID)
	}
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, msg *models.Message, n *models.Notification, device models.UserDevice, stats *DispatchStats) {
	if reason, snoozed := o.skipReason(msg, device); reason != "" {
		if snoozed {
			stats.SnoozedCount++
		} else {
			stats.SkippedCount++
		}
		o.audit.Record(&models.ExecutionRecord{
			Type:     models.ExecutionTypeNotification,
			Status:   models.ExecutionSkipped,
			EntityID: n.ID,
			Input:    preview(msg),
			Output:   fmt.Sprintf(`{"reason":%q}`, reason),
		})
		return
	}

	settings := o.settingsFor(device.UserID, device.ID)

	var out push.Outcome
	var attempts []push.Attempt

	switch o.pushCfg.Mode(device.Platform) {
	case config.ModeOff, config.ModeLocal:
		// Not an error and not an attempt; the row stays addressable for
		// local delivery and later resends.
		stats.SkippedCount++
		return
	case config.ModePassthrough:
		out, attempts = o.dispatchPassthrough(ctx, msg, device, settings)
	case config.ModeOnboard:
		out, attempts = o.dispatchOnboard(ctx, msg, device, settings)
	default:
		out = push.Outcome{Err: fmt.Sprintf("unknown push mode for platform %s", device.Platform)}
	}

	for _, a := range attempts {
		o.recordAttempt(msg, n, a)
	}

	if out.Success {
		now := o.now()
		n.SentAt = &now
		n.Error = ""
		stats.SuccessCount++
		stats.PerPlatformSent[device.Platform]++
	} else {
		n.Error = out.Err
		stats.ErrorCount++
	}
	if err := o.store.SaveNotification(n); err != nil {
		log.Printf("Error saving notification %d: %v", n.ID, err)
	}
}

// skipReason decides the no-transport cases. The second return marks the
// snooze case, which is counted separately.
func (o *Orchestrator) skipReason(msg *models.Message, device models.UserDevice) (string, bool) {
	if device.OnlyLocal {
		return "device is local-only", false
	}
	if msg.DeliveryType == models.DeliveryNoPush {
		return "message excludes push delivery", false
	}
	state, err := o.store.SnoozeState(device.UserID, msg.BucketID)
	if err != nil {
		// Fail open: deliver rather than silently drop.
		log.Printf("Warning: snooze lookup failed for user %d bucket %d: %v", device.UserID, msg.BucketID, err)
		return "", false
	}
	if snooze.IsSuppressed(state, o.now()) {
		return "bucket is snoozed", true
	}
	return "", false
}

func (o *Orchestrator) dispatchOnboard(ctx context.Context, msg *models.Message, device models.UserDevice, settings push.Settings) (push.Outcome, []push.Attempt) {
	strategy, ok := o.strategies[device.Platform]
	if !ok {
		return push.Outcome{Err: fmt.Sprintf("no push strategy for platform %s", device.Platform)}, nil
	}

	result := strategy.Send(ctx, msg, []models.UserDevice{device}, settings)
	if len(result.Attempts) > 0 {
		return result.Attempts[len(result.Attempts)-1].Outcome, result.Attempts
	}
	if len(result.DeviceErrors) > 0 {
		return push.Outcome{Err: result.DeviceErrors[0].Err}, nil
	}
	return push.Outcome{Err: "strategy produced no attempts"}, nil
}

func (o *Orchestrator) dispatchPassthrough(ctx context.Context, msg *models.Message, device models.UserDevice, settings push.Settings) (push.Outcome, []push.Attempt) {
	strategy, ok := o.strategies[device.Platform]
	if !ok {
		return push.Outcome{Err: fmt.Sprintf("no push strategy for platform %s", device.Platform)}, nil
	}
	if !o.delegate.Configured() {
		log.Printf("ERROR: platform %s is in passthrough mode but no passthrough server is configured", device.Platform)
		out := push.Outcome{Err: "passthrough mode set but server not configured"}
		return out, []push.Attempt{{DeviceID: device.ID, Variant: push.VariantEncrypted, Outcome: out}}
	}

	if device.Platform == models.PlatformIOS {
		out, _, attempts := push.RunCascade(ctx, settings.RetryWithoutEnc,
			func(variant push.Variant) ([]byte, error) {
				return strategy.BuildPayload(msg, device, variant, settings)
			},
			func(ctx context.Context, payload []byte, variant push.Variant) push.Outcome {
				return o.delegate.Dispatch(ctx, device.Platform, payload, device, settings.RetryWithoutEnc)
			},
		)
		for i := range attempts {
			attempts[i].DeviceID = device.ID
		}
		return out, attempts
	}

	payload, err := strategy.BuildPayload(msg, device, push.VariantUnencrypted, settings)
	if err != nil {
		return push.Outcome{Err: fmt.Sprintf("building payload: %v", err)}, nil
	}
	start := time.Now()
	out := o.delegate.Dispatch(ctx, device.Platform, payload, device, false)
	out.Variant = push.VariantUnencrypted
	return out, []push.Attempt{{
		DeviceID: device.ID,
		Variant:  push.VariantUnencrypted,
		Outcome:  out,
		Duration: time.Since(start),
	}}
}

func (o *Orchestrator) recordAttempt(msg *models.Message, n *models.Notification, a push.Attempt) {
	status := models.ExecutionSuccess
	errText := ""
	if !a.Outcome.Success {
		status = models.ExecutionError
		errText = a.Outcome.Err
	}
	o.audit.Record(&models.ExecutionRecord{
		Type:       models.ExecutionTypeNotification,
		Status:     status,
		EntityID:   n.ID,
		Input:      preview(msg),
		Output:     a.Outcome.Response,
		Errors:     errText,
		DurationMs: a.Duration.Milliseconds(),
	})
}

func (o *Orchestrator) settingsFor(userID, deviceID uint) push.Settings {
	return push.Settings{
		RetryWithoutEnc:        o.boolSetting(userID, deviceID, models.SettingUnencryptOnBigPayload),
		AutoDeleteAction:       o.boolSetting(userID, deviceID, models.SettingAutoDeleteAction),
		AutoMarkReadAction:     o.boolSetting(userID, deviceID, models.SettingAutoMarkReadAction),
		AutoOpenAction:         o.boolSetting(userID, deviceID, models.SettingAutoOpenAction),
		DefaultSnoozeMinutes:   o.intSetting(userID, deviceID, models.SettingDefaultSnoozeMinutes),
		DefaultPostponeMinutes: o.intSetting(userID, deviceID, models.SettingDefaultPostponeMins),
	}
}

func (o *Orchestrator) boolSetting(userID, deviceID uint, key string) bool {
	value, ok := o.store.Setting(userID, deviceID, key)
	if !ok {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

func (o *Orchestrator) intSetting(userID, deviceID uint, key string) int {
	value, ok := o.store.Setting(userID, deviceID, key)
	if !ok {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}

func (o *Orchestrator) localeFor(userID uint) string {
	locale, ok := o.store.Setting(userID, 0, models.SettingLocale)
	if !ok {
		return "en"
	}
	return locale
}

var deferredPrefixes = map[string]map[string]string{
	"en": {models.DeferredPostpone: "Postponed", models.DeferredReminder: "Reminder"},
	"de": {models.DeferredPostpone: "Zurückgestellt", models.DeferredReminder: "Erinnerung"},
}

func decorateTitle(title, kind, locale string) string {
	prefixes, ok := deferredPrefixes[locale]
	if !ok {
		prefixes = deferredPrefixes["en"]
	}
	prefix, ok := prefixes[kind]
	if !ok {
		return title
	}
	return prefix + ": " + title
}

// preview is the redacted message view kept in the audit trail: enough to
// identify the dispatch, none of the body content.
func preview(msg *models.Message) string {
	title := msg.Title
	if len(title) > 40 {
		title = title[:40] + "…"
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"messageId":  msg.PublicID,
		"bucketId":   msg.BucketID,
		"title":      title,
		"bodyLength": len(msg.Body),
	})
	return string(raw)
}

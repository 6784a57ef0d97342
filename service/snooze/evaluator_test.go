package snooze

import (
	"testing"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// 2026-03-04 is a Wednesday.
var wednesdayNoon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestIsSuppressed_NoState(t *testing.T) {
	if IsSuppressed(nil, wednesdayNoon) {
		t.Error("nil state must never suppress")
	}
}

func TestIsSuppressed_OneShot(t *testing.T) {
	tests := []struct {
		name        string
		snoozeUntil time.Time
		want        bool
	}{
		{"snoozed until one hour from now", wednesdayNoon.Add(time.Hour), true},
		{"snooze expired one hour ago", wednesdayNoon.Add(-time.Hour), false},
		{"snooze until exactly now", wednesdayNoon, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &models.SnoozeState{SnoozeUntil: timePtr(tt.snoozeUntil)}
			if got := IsSuppressed(state, wednesdayNoon); got != tt.want {
				t.Errorf("IsSuppressed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSuppressed_RecurringWindow(t *testing.T) {
	window := models.SnoozeWindow{
		Days:     "wed",
		TimeFrom: "09:00",
		TimeTill: "17:00",
		Enabled:  true,
	}

	tests := []struct {
		name   string
		window models.SnoozeWindow
		now    time.Time
		want   bool
	}{
		{"inside window on listed day", window, wednesdayNoon, true},
		{"after window on listed day", window, wednesdayNoon.Add(6 * time.Hour), false},
		{"inside window on non-listed day", window, wednesdayNoon.Add(24 * time.Hour), false},
		{"window start boundary is inclusive", window, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), true},
		{"window end boundary is inclusive", window, time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC), true},
		{
			"disabled window never suppresses",
			models.SnoozeWindow{Days: "wed", TimeFrom: "09:00", TimeTill: "17:00", Enabled: false},
			wednesdayNoon,
			false,
		},
		{
			"full weekday names accepted",
			models.SnoozeWindow{Days: "monday,wednesday", TimeFrom: "09:00", TimeTill: "17:00", Enabled: true},
			wednesdayNoon,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &models.SnoozeState{Windows: []models.SnoozeWindow{tt.window}}
			if got := IsSuppressed(state, tt.now); got != tt.want {
				t.Errorf("IsSuppressed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSuppressed_InvalidWindowFailsOpen(t *testing.T) {
	state := &models.SnoozeState{Windows: []models.SnoozeWindow{
		{Days: "wed", TimeFrom: "not-a-time", TimeTill: "17:00", Enabled: true},
	}}
	if IsSuppressed(state, wednesdayNoon) {
		t.Error("unparseable window must fail open")
	}
}

func TestIsSuppressed_OneShotExpiredButWindowActive(t *testing.T) {
	state := &models.SnoozeState{
		SnoozeUntil: timePtr(wednesdayNoon.Add(-time.Hour)),
		Windows: []models.SnoozeWindow{
			{Days: "wed", TimeFrom: "09:00", TimeTill: "17:00", Enabled: true},
		},
	}
	if !IsSuppressed(state, wednesdayNoon) {
		t.Error("recurring window must suppress independently of expired one-shot")
	}
}

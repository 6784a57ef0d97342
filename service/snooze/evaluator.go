package snooze

import (
	"log"
	"strings"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// IsSuppressed reports whether now falls inside a quiet window of the given
// snooze configuration. A nil state means the user never configured snoozing
// and is always notified. Evaluation errors fail open: delivering a
// notification is preferred over silently dropping one.
func IsSuppressed(state *models.SnoozeState, now time.Time) bool {
	if state == nil {
		return false
	}

	if state.SnoozeUntil != nil && now.Before(*state.SnoozeUntil) {
		return true
	}

	for _, window := range state.Windows {
		if !window.Enabled {
			continue
		}
		if !containsWeekday(window.Days, now.Weekday()) {
			continue
		}
		from, err := minutesOfDay(window.TimeFrom)
		if err != nil {
			log.Printf("Warning: invalid snooze window start %q: %v", window.TimeFrom, err)
			continue
		}
		till, err := minutesOfDay(window.TimeTill)
		if err != nil {
			log.Printf("Warning: invalid snooze window end %q: %v", window.TimeTill, err)
			continue
		}
		nowMinutes := now.Hour()*60 + now.Minute()
		// Boundaries are inclusive. Windows never span midnight.
		if nowMinutes >= from && nowMinutes <= till {
			return true
		}
	}

	return false
}

func containsWeekday(days string, day time.Weekday) bool {
	for _, part := range strings.Split(days, ",") {
		if wd, ok := weekdays[strings.ToLower(strings.TrimSpace(part))]; ok && wd == day {
			return true
		}
	}
	return false
}

func minutesOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

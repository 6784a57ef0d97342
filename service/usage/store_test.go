package usage

import (
	"testing"
)

func int64Ptr(n int64) *int64 { return &n }

func TestHashFields_OmitsAbsentValues(t *testing.T) {
	stats := Stats{
		TokenID:   "tok-1",
		Calls:     int64Ptr(3),
		Remaining: int64Ptr(97),
	}

	fields := hashFields(stats)

	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d: %v", len(fields), fields)
	}
	if fields["calls"] != int64(3) || fields["remaining"] != int64(97) {
		t.Errorf("unexpected field values: %v", fields)
	}
	if _, ok := fields["max_calls"]; ok {
		t.Error("absent max_calls must not be written")
	}
}

func TestStatsFromHash(t *testing.T) {
	values := map[string]string{
		"calls":      "12",
		"max_calls":  "100",
		"last_reset": "2026-08-01T00:00:00Z",
		"remaining":  "not-a-number",
	}

	stats := statsFromHash("tok-2", values)

	if stats.TokenID != "tok-2" {
		t.Errorf("TokenID = %q", stats.TokenID)
	}
	if stats.Calls == nil || *stats.Calls != 12 {
		t.Errorf("Calls = %v", stats.Calls)
	}
	if stats.MaxCalls == nil || *stats.MaxCalls != 100 {
		t.Errorf("MaxCalls = %v", stats.MaxCalls)
	}
	if stats.LastReset != "2026-08-01T00:00:00Z" {
		t.Errorf("LastReset = %q", stats.LastReset)
	}
	if stats.Remaining != nil {
		t.Error("unparseable remaining must come back nil")
	}
	if stats.TotalCalls != nil {
		t.Error("missing total_calls must come back nil")
	}
}

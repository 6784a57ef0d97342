package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/service/usage"
)

type mockUsageSink struct {
	merged []usage.Stats
}

func (m *mockUsageSink) Merge(_ context.Context, tokenID string, stats usage.Stats) error {
	m.merged = append(m.merged, stats)
	return nil
}

func passthroughDeviceFixture() models.UserDevice {
	return models.UserDevice{
		UserID:    3,
		Platform:  models.PlatformIOS,
		APNSToken: "beef0000000000000000000000000000",
	}
}

func TestPassthroughDelegate_Success(t *testing.T) {
	var received PassthroughRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("X-Token-Id", "remote-tok")
		w.Header().Set("X-Token-Calls", "5")
		w.Header().Set("X-Token-Remaining", "95")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer server.Close()

	sink := &mockUsageSink{}
	delegate := NewPassthroughDelegate(server.URL, "secret-token", sink)

	out := delegate.Dispatch(context.Background(), models.PlatformIOS,
		[]byte(`{"aps":{}}`), passthroughDeviceFixture(), true)

	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if received.Platform != models.PlatformIOS {
		t.Errorf("wire platform = %q", received.Platform)
	}
	if received.RetryWithoutEncEnabled == nil || !*received.RetryWithoutEncEnabled {
		t.Error("retryWithoutEncEnabled not forwarded")
	}
	if received.DeviceData.APNSToken == "" {
		t.Error("device credentials not forwarded")
	}

	if len(sink.merged) != 1 {
		t.Fatalf("expected 1 usage merge, got %d", len(sink.merged))
	}
	stats := sink.merged[0]
	if stats.TokenID != "remote-tok" {
		t.Errorf("TokenID = %q", stats.TokenID)
	}
	if stats.Calls == nil || *stats.Calls != 5 {
		t.Errorf("Calls = %v", stats.Calls)
	}
	if stats.MaxCalls != nil {
		t.Error("absent MaxCalls header must stay nil")
	}
}

func TestPassthroughDelegate_NonJSONSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	delegate := NewPassthroughDelegate(server.URL, "secret-token", nil)
	out := delegate.Dispatch(context.Background(), models.PlatformAndroid,
		[]byte(`{}`), models.UserDevice{FCMToken: "tok"}, false)

	if !out.Success {
		t.Fatalf("non-JSON 200 body must be tolerated, got %+v", out)
	}
}

func TestPassthroughDelegate_PayloadTooLargeStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payload exceeds limit", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	delegate := NewPassthroughDelegate(server.URL, "secret-token", nil)
	out := delegate.Dispatch(context.Background(), models.PlatformIOS,
		[]byte(`{"aps":{}}`), passthroughDeviceFixture(), false)

	if out.Success {
		t.Fatal("expected failure")
	}
	if !out.PayloadTooLarge {
		t.Error("413 must surface as PayloadTooLarge so the cascade can advance")
	}
}

func TestPassthroughDelegate_ReportedFailureInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "APNs rejected: PayloadTooLarge (status 413)",
		})
	}))
	defer server.Close()

	delegate := NewPassthroughDelegate(server.URL, "secret-token", nil)
	out := delegate.Dispatch(context.Background(), models.PlatformIOS,
		[]byte(`{"aps":{}}`), passthroughDeviceFixture(), true)

	if out.Success {
		t.Fatal("expected failure")
	}
	if !out.PayloadTooLarge {
		t.Error("remote PayloadTooLarge must propagate through the body")
	}
}

func TestPassthroughDelegate_ServerErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	delegate := NewPassthroughDelegate(server.URL, "secret-token", nil)
	out := delegate.Dispatch(context.Background(), models.PlatformWeb,
		[]byte(`{}`), models.UserDevice{}, false)

	if out.Success || out.PayloadTooLarge {
		t.Fatalf("expected plain terminal failure, got %+v", out)
	}
}

func TestPassthroughDelegate_NotConfigured(t *testing.T) {
	delegate := NewPassthroughDelegate("", "", nil)
	out := delegate.Dispatch(context.Background(), models.PlatformIOS,
		[]byte(`{}`), models.UserDevice{}, false)

	if out.Success {
		t.Fatal("unconfigured delegate must fail the attempt")
	}
}

func TestParseUsageHeaders_CaseInsensitive(t *testing.T) {
	h := http.Header{}
	// Lowercase keys set through Set are canonicalized by net/http.
	h.Set("x-token-id", "tok-9")
	h.Set("x-token-maxcalls", "1000")
	h.Set("x-token-lastreset", "2026-08-30T00:00:00Z")

	stats, ok := ParseUsageHeaders(h)
	if !ok {
		t.Fatal("expected headers to parse")
	}
	if stats.TokenID != "tok-9" {
		t.Errorf("TokenID = %q", stats.TokenID)
	}
	if stats.MaxCalls == nil || *stats.MaxCalls != 1000 {
		t.Errorf("MaxCalls = %v", stats.MaxCalls)
	}
	if stats.LastReset != "2026-08-30T00:00:00Z" {
		t.Errorf("LastReset = %q", stats.LastReset)
	}
}

func TestParseUsageHeaders_MissingTokenID(t *testing.T) {
	h := http.Header{}
	h.Set("X-Token-Calls", "3")

	if _, ok := ParseUsageHeaders(h); ok {
		t.Error("headers without a token id carry nothing to account")
	}
}

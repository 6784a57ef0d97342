package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/service/usage"
)

// UsageSink receives the quota accounting a passthrough server reports.
type UsageSink interface {
	Merge(ctx context.Context, tokenID string, stats usage.Stats) error
}

// PassthroughRequest is the wire body of the stateless dispatch endpoint,
// shared by the outbound delegate and the inbound handler.
type PassthroughRequest struct {
	Platform               string            `json:"platform"`
	Payload                json.RawMessage   `json:"payload"`
	DeviceData             PassthroughDevice `json:"deviceData"`
	RetryWithoutEncEnabled *bool             `json:"retryWithoutEncEnabled,omitempty"`
}

// PassthroughDevice carries just the transport credentials of the target
// device; the remote server never learns anything else about it.
type PassthroughDevice struct {
	APNSToken       string `json:"apnsToken,omitempty"`
	FCMToken        string `json:"fcmToken,omitempty"`
	WebPushEndpoint string `json:"webPushEndpoint,omitempty"`
	WebPushP256dh   string `json:"webPushP256dh,omitempty"`
	WebPushAuth     string `json:"webPushAuth,omitempty"`
}

// WireDevice strips a device down to its passthrough representation.
func WireDevice(device models.UserDevice) PassthroughDevice {
	return PassthroughDevice{
		APNSToken:       device.APNSToken,
		FCMToken:        device.FCMToken,
		WebPushEndpoint: device.WebPushEndpoint,
		WebPushP256dh:   device.WebPushP256dh,
		WebPushAuth:     device.WebPushAuth,
	}
}

// Device reverses WireDevice on the receiving side.
func (d PassthroughDevice) Device(platform string) models.UserDevice {
	return models.UserDevice{
		Platform:        platform,
		APNSToken:       d.APNSToken,
		FCMToken:        d.FCMToken,
		WebPushEndpoint: d.WebPushEndpoint,
		WebPushP256dh:   d.WebPushP256dh,
		WebPushAuth:     d.WebPushAuth,
	}
}

// PassthroughDelegate forwards prebuilt payloads to a remote server that
// holds the provider credentials. It never retries; the caller owns retry
// policy and re-enters with the next cascade variant when needed.
type PassthroughDelegate struct {
	server string
	token  string
	client *http.Client
	usage  UsageSink
}

func NewPassthroughDelegate(server, token string, sink UsageSink) *PassthroughDelegate {
	return &PassthroughDelegate{
		server: strings.TrimRight(server, "/"),
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
		usage:  sink,
	}
}

// Configured reports whether a server and token are set. Dispatching while
// unconfigured is an operator error and fails the attempt loudly.
func (d *PassthroughDelegate) Configured() bool {
	return d != nil && d.server != "" && d.token != ""
}

func (d *PassthroughDelegate) Dispatch(ctx context.Context, platform string, payload []byte, device models.UserDevice, retryWithoutEnc bool) Outcome {
	if !d.Configured() {
		log.Printf("ERROR: passthrough dispatch requested for platform %s but no server/token configured", platform)
		return Outcome{Err: "passthrough server not configured"}
	}

	body, err := json.Marshal(PassthroughRequest{
		Platform:               platform,
		Payload:                payload,
		DeviceData:             WireDevice(device),
		RetryWithoutEncEnabled: &retryWithoutEnc,
	})
	if err != nil {
		return Outcome{Err: fmt.Sprintf("encoding passthrough request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.server+"/api/v1/notifications/notify-external", bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Sprintf("building passthrough request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{Err: fmt.Sprintf("passthrough request: %v", err)}
	}
	defer resp.Body.Close()

	if stats, ok := ParseUsageHeaders(resp.Header); ok && d.usage != nil {
		if err := d.usage.Merge(ctx, stats.TokenID, stats); err != nil {
			log.Printf("Error recording passthrough usage stats: %v", err)
		}
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out := Outcome{
			Err:      fmt.Sprintf("passthrough returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			Response: string(raw),
		}
		if resp.StatusCode == http.StatusRequestEntityTooLarge || bytes.Contains(raw, []byte("PayloadTooLarge")) {
			out.PayloadTooLarge = true
		}
		return out
	}

	// A non-JSON success body is tolerated and treated as empty.
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = map[string]interface{}{}
	}

	out := Outcome{Success: true, Response: string(raw)}
	if success, ok := parsed["success"].(bool); ok && !success {
		out.Success = false
		if errText, ok := parsed["error"].(string); ok {
			out.Err = errText
			if strings.Contains(errText, "PayloadTooLarge") {
				out.PayloadTooLarge = true
			}
		} else {
			out.Err = "passthrough reported failure"
		}
	}
	return out
}

// ParseUsageHeaders extracts the X-Token-* accounting headers. Header lookup
// is case-insensitive per net/http canonicalization.
func ParseUsageHeaders(h http.Header) (usage.Stats, bool) {
	tokenID := h.Get("X-Token-Id")
	if tokenID == "" {
		return usage.Stats{}, false
	}
	stats := usage.Stats{
		TokenID:   tokenID,
		LastReset: h.Get("X-Token-LastReset"),
	}
	stats.Calls = headerInt(h, "X-Token-Calls")
	stats.MaxCalls = headerInt(h, "X-Token-MaxCalls")
	stats.TotalCalls = headerInt(h, "X-Token-TotalCalls")
	stats.Remaining = headerInt(h, "X-Token-Remaining")
	return stats, true
}

// SetUsageHeaders writes the accounting headers on an inbound passthrough
// response, mirroring ParseUsageHeaders.
func SetUsageHeaders(h http.Header, stats usage.Stats) {
	h.Set("X-Token-Id", stats.TokenID)
	if stats.Calls != nil {
		h.Set("X-Token-Calls", strconv.FormatInt(*stats.Calls, 10))
	}
	if stats.MaxCalls != nil {
		h.Set("X-Token-MaxCalls", strconv.FormatInt(*stats.MaxCalls, 10))
	}
	if stats.TotalCalls != nil {
		h.Set("X-Token-TotalCalls", strconv.FormatInt(*stats.TotalCalls, 10))
	}
	if stats.Remaining != nil {
		h.Set("X-Token-Remaining", strconv.FormatInt(*stats.Remaining, 10))
	}
	if stats.LastReset != "" {
		h.Set("X-Token-LastReset", stats.LastReset)
	}
}

func headerInt(h http.Header, name string) *int64 {
	raw := h.Get(name)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

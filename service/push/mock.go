package push

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/appleboy/go-fcm"
	"github.com/sideshow/apns2"

	"github.com/pushbucket/pushbucket-server/cmd/config"
)

// In-memory provider fakes, selected by the mock transport mode. The
// payloadtoolarge mode rejects every variant carrying inline content and
// accepts the self-download variant, matching how APNs behaves when only the
// minimal payload fits the size limit.

type MockAPNSClient struct {
	Mode   string
	Pushed []*apns2.Notification
}

func NewMockAPNSClient(mode string) *MockAPNSClient {
	return &MockAPNSClient{Mode: mode}
}

func (m *MockAPNSClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	m.Pushed = append(m.Pushed, n)

	switch m.Mode {
	case config.MockPayloadTooLarge:
		if raw, ok := n.Payload.([]byte); ok && bytes.Contains(raw, []byte(`"self-download"`)) {
			return &apns2.Response{StatusCode: http.StatusOK, ApnsID: "mock-apns-id"}, nil
		}
		return &apns2.Response{
			StatusCode: http.StatusRequestEntityTooLarge,
			Reason:     apns2.ReasonPayloadTooLarge,
		}, nil
	case config.MockError:
		return &apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil
	default:
		return &apns2.Response{StatusCode: http.StatusOK, ApnsID: "mock-apns-id"}, nil
	}
}

type MockFCMClient struct {
	Mode string
	Sent []*fcm.Message
}

func NewMockFCMClient(mode string) *MockFCMClient {
	return &MockFCMClient{Mode: mode}
}

func (m *MockFCMClient) Send(msg *fcm.Message) (*fcm.Response, error) {
	m.Sent = append(m.Sent, msg)

	if m.Mode == config.MockError {
		return &fcm.Response{
			Failure: 1,
			Results: []fcm.Result{{Error: errors.New("mock registration rejected")}},
		}, nil
	}
	return &fcm.Response{Success: 1, Results: []fcm.Result{{MessageID: "mock-fcm-id"}}}, nil
}

// MockWebPushSender fakes the push service endpoint response.
func MockWebPushSender(mode string) WebPushSender {
	return func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		if mode == config.MockError {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("mock subscription rejected")),
			}, nil
		}
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader("")),
		}, nil
	}
}

package push

import (
	"encoding/base64"
	"encoding/json"
	"log"

	"github.com/pushbucket/pushbucket-server/cmd/models"
)

// Encryptor seals the full message content for the receiving device. Key
// management lives with the clients; the strategies only invoke the
// capability when building the encrypted payload variant.
type Encryptor interface {
	Encrypt(plaintext []byte, device models.UserDevice) ([]byte, error)
}

// envelopeEncryptor is the default stand-in: it wraps the plaintext in a
// marker envelope without sealing it, keeping the wire shape identical to a
// real deployment.
type envelopeEncryptor struct{}

func (envelopeEncryptor) Encrypt(plaintext []byte, _ models.UserDevice) ([]byte, error) {
	envelope := map[string]string{
		"v":    "1",
		"data": base64.StdEncoding.EncodeToString(plaintext),
	}
	return json.Marshal(envelope)
}

// messageContent is the full inline content of a push payload, shared by all
// platforms and by the plaintext fed to the encryptor.
type messageContent struct {
	MessageID   string                 `json:"messageId"`
	Title       string                 `json:"title"`
	Subtitle    string                 `json:"subtitle,omitempty"`
	Body        string                 `json:"body"`
	Attachments []string               `json:"attachments,omitempty"`
	Actions     []models.MessageAction `json:"actions,omitempty"`
	Silent      bool                   `json:"silent,omitempty"`
	Critical    bool                   `json:"critical,omitempty"`
	SnoozeMins  int                    `json:"defaultSnoozeMinutes,omitempty"`
	PostponeMin int                    `json:"defaultPostponeMinutes,omitempty"`
}

func contentFor(msg *models.Message, settings Settings) messageContent {
	content := messageContent{
		MessageID:   msg.PublicID,
		Title:       msg.Title,
		Subtitle:    msg.Subtitle,
		Body:        msg.Body,
		Actions:     renderActions(msg, settings),
		Silent:      msg.DeliveryType == models.DeliverySilent,
		Critical:    msg.DeliveryType == models.DeliveryCritical,
		SnoozeMins:  settings.DefaultSnoozeMinutes,
		PostponeMin: settings.DefaultPostponeMinutes,
	}
	if msg.Attachments != "" {
		if err := json.Unmarshal([]byte(msg.Attachments), &content.Attachments); err != nil {
			log.Printf("Warning: message %s carries unparseable attachments: %v", msg.PublicID, err)
		}
	}
	return content
}

// renderActions merges the message's own action buttons with the
// auto-actions the user enabled. The toggles never change delivery
// semantics, only what the client renders.
func renderActions(msg *models.Message, settings Settings) []models.MessageAction {
	var actions []models.MessageAction
	if msg.Actions != "" {
		if err := json.Unmarshal([]byte(msg.Actions), &actions); err != nil {
			log.Printf("Warning: message %s carries unparseable actions: %v", msg.PublicID, err)
		}
	}

	if settings.AutoDeleteAction {
		actions = append(actions, models.MessageAction{Label: "Delete", Action: "delete"})
	}
	if settings.AutoMarkReadAction {
		actions = append(actions, models.MessageAction{Label: "Mark read", Action: "markRead"})
	}
	if settings.AutoOpenAction {
		actions = append(actions, models.MessageAction{Label: "Open", Action: "open"})
	}
	return actions
}

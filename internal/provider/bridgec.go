package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
)

// BridgeCAdapter parses the second self-hosted bridge. Its payload carries a media
// object whose caption stands in for the text of media-only messages.
type BridgeCAdapter struct {
	Authenticator
}

func NewBridgeCAdapter(auth Authenticator) *BridgeCAdapter {
	return &BridgeCAdapter{Authenticator: auth}
}

func (*BridgeCAdapter) Name() Name { return BridgeC }

type bridgeCEnvelope struct {
	Event    string          `json:"event"`
	DeviceID string          `json:"device_id"`
	Payload  *bridgeCPayload `json:"payload"`
}

type bridgeCPayload struct {
	ID        flexString `json:"id"`
	ChatID    string     `json:"chat_id"`
	From      string     `json:"from"`
	FromMe    flexBool   `json:"from_me"`
	FromName  string     `json:"from_name"`
	Body      string     `json:"body"`
	Timestamp flexString `json:"timestamp"`
	IsGroup   flexBool   `json:"is_group"`
	Media     *struct {
		Type     string `json:"type"`
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		Caption  string `json:"caption"`
	} `json:"media"`
	ReceiptType string   `json:"receipt_type"`
	IDs         []string `json:"ids"`
}

func (a *BridgeCAdapter) Normalize(body []byte, _ http.Header) (Event, error) {
	var env bridgeCEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid(BridgeC, err)
	}
	if env.Event == "" || env.Payload == nil {
		return nil, invalid(BridgeC, errors.New("missing event or payload"))
	}
	p := env.Payload

	switch env.Event {
	case "message":
	case "message.ack", "receipt":
		return bridgeCAck(p), nil
	default:
		return ignore(BridgeC, ReasonUnsupportedEvent, env.Event), nil
	}

	switch {
	case bool(p.FromMe):
		return ignore(BridgeC, ReasonSelfSent, ""), nil
	case bool(p.IsGroup) || isGroupJID(p.ChatID):
		return ignore(BridgeC, ReasonGroupMessage, ""), nil
	case isBroadcastJID(p.ChatID):
		return ignore(BridgeC, ReasonBroadcast, ""), nil
	}

	sender := p.From
	if sender == "" {
		sender = p.ChatID
	}

	m := &Message{
		Provider:  BridgeC,
		ID:        p.ID.String(),
		Sender:    phone.StripJID(sender),
		Text:      p.Body,
		Device:    env.DeviceID,
		Name:      p.FromName,
		Timestamp: p.Timestamp.String(),
	}
	if p.Media != nil {
		m.Media = &Media{Type: p.Media.Type, URL: p.Media.URL, MimeType: p.Media.MimeType}
		if strings.TrimSpace(m.Text) == "" {
			m.Text = p.Media.Caption
		}
	}
	return finishMessage(m), nil
}

func bridgeCAck(p *bridgeCPayload) Event {
	ids := p.IDs
	if len(ids) == 0 && p.ID.String() != "" {
		ids = []string{p.ID.String()}
	}
	if len(ids) == 0 {
		return ignore(BridgeC, ReasonMissingMessageID, p.ReceiptType)
	}
	status, ok := bridgeCStatus(p.ReceiptType)
	if !ok {
		return ignore(BridgeC, ReasonStatusUnmapped, p.ReceiptType)
	}
	return &Ack{
		Provider:   BridgeC,
		MessageIDs: ids,
		Status:     status,
		RawStatus:  p.ReceiptType,
		Timestamp:  p.Timestamp.String(),
	}
}

func bridgeCStatus(raw string) (model.DeliveryStatus, bool) {
	switch strings.ToLower(raw) {
	case "sent", "server":
		return model.DeliverySent, true
	case "delivered", "read", "read-self", "played":
		return model.DeliveryDelivered, true
	case "error", "failed":
		return model.DeliveryFailed, true
	}
	return "", false
}

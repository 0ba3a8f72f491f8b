package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
)

// BridgeBAdapter parses the enveloped events of the first self-hosted bridge:
// {"event": "...", "session": "...", "payload": {...}}.
type BridgeBAdapter struct {
	Authenticator
}

func NewBridgeBAdapter(auth Authenticator) *BridgeBAdapter {
	return &BridgeBAdapter{Authenticator: auth}
}

func (*BridgeBAdapter) Name() Name { return BridgeB }

type bridgeBEnvelope struct {
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload *bridgeBPayload `json:"payload"`
}

type bridgeBPayload struct {
	ID        flexString `json:"id"`
	Timestamp flexString `json:"timestamp"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	FromMe    flexBool   `json:"fromMe"`
	Body      string     `json:"body"`
	HasMedia  bool       `json:"hasMedia"`
	Media     *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
	} `json:"media"`
	Ack     *int   `json:"ack"`
	AckName string `json:"ackName"`
	Data    struct {
		NotifyName string `json:"notifyName"`
	} `json:"_data"`
}

func (a *BridgeBAdapter) Normalize(body []byte, _ http.Header) (Event, error) {
	var env bridgeBEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid(BridgeB, err)
	}
	if env.Event == "" || env.Payload == nil {
		return nil, invalid(BridgeB, errors.New("missing event or payload"))
	}
	p := env.Payload

	switch env.Event {
	case "message", "message.any":
	case "message.ack":
		return bridgeBAck(p), nil
	default:
		return ignore(BridgeB, ReasonUnsupportedEvent, env.Event), nil
	}

	switch {
	case bool(p.FromMe):
		return ignore(BridgeB, ReasonSelfSent, ""), nil
	case isGroupJID(p.From):
		return ignore(BridgeB, ReasonGroupMessage, ""), nil
	case isBroadcastJID(p.From):
		return ignore(BridgeB, ReasonBroadcast, ""), nil
	}

	m := &Message{
		Provider:  BridgeB,
		ID:        p.ID.String(),
		Sender:    phone.StripJID(p.From),
		Text:      p.Body,
		Device:    env.Session,
		Name:      p.Data.NotifyName,
		Timestamp: p.Timestamp.String(),
	}
	if p.HasMedia && p.Media != nil {
		m.Media = &Media{URL: p.Media.URL, MimeType: p.Media.Mimetype}
	}
	return finishMessage(m), nil
}

func bridgeBAck(p *bridgeBPayload) Event {
	id := p.ID.String()
	if id == "" {
		return ignore(BridgeB, ReasonMissingMessageID, p.AckName)
	}
	raw := p.AckName
	status, ok := bridgeBStatusName(raw)
	if !ok && p.Ack != nil {
		status, ok = bridgeBStatusCode(*p.Ack)
	}
	if !ok {
		return ignore(BridgeB, ReasonStatusUnmapped, raw)
	}
	return &Ack{
		Provider:   BridgeB,
		MessageIDs: []string{id},
		Status:     status,
		RawStatus:  raw,
		Timestamp:  p.Timestamp.String(),
	}
}

func bridgeBStatusName(name string) (model.DeliveryStatus, bool) {
	switch strings.ToUpper(name) {
	case "PENDING", "SERVER":
		return model.DeliverySent, true
	case "DEVICE", "READ", "PLAYED":
		return model.DeliveryDelivered, true
	case "ERROR":
		return model.DeliveryFailed, true
	}
	return "", false
}

func bridgeBStatusCode(code int) (model.DeliveryStatus, bool) {
	switch {
	case code < 0:
		return model.DeliveryFailed, true
	case code <= 1:
		return model.DeliverySent, true
	case code <= 4:
		return model.DeliveryDelivered, true
	}
	return "", false
}

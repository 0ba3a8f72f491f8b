package provider

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
)

// GatewayAdapter parses the commercial gateway's flat webhook. The same endpoint receives
// inbound messages and delivery status callbacks, as JSON or form-encoded bodies.
type GatewayAdapter struct {
	Authenticator
}

func NewGatewayAdapter(auth Authenticator) *GatewayAdapter {
	return &GatewayAdapter{Authenticator: auth}
}

func (*GatewayAdapter) Name() Name { return Gateway }

type gatewayPayload struct {
	Device    flexString `json:"device"`
	Sender    flexString `json:"sender"`
	Message   flexString `json:"message"`
	Text      flexString `json:"text"`
	Name      flexString `json:"name"`
	Member    flexString `json:"member"`
	ID        flexString `json:"id"`
	Timestamp flexString `json:"timestamp"`
	IsGroup   flexBool   `json:"isgroup"`
	FromMe    flexBool   `json:"fromMe"`
	Status    flexString `json:"status"`
	State     flexString `json:"state"`
	URL       flexString `json:"url"`
	Extension flexString `json:"extension"`
}

func (a *GatewayAdapter) Normalize(body []byte, h http.Header) (Event, error) {
	p, err := decodeGateway(body, h.Get("Content-Type"))
	if err != nil {
		return nil, invalid(Gateway, err)
	}

	text := p.Message.String()
	if text == "" {
		text = p.Text.String()
	}

	status := p.State.String()
	if status == "" {
		status = p.Status.String()
	}

	if text == "" && status != "" {
		return gatewayAck(p, status), nil
	}

	sender := phone.StripJID(p.Sender.String())
	device := phone.StripJID(p.Device.String())

	switch {
	case bool(p.FromMe) || (sender != "" && phone.Equal(sender, device)):
		return ignore(Gateway, ReasonSelfSent, ""), nil
	case bool(p.IsGroup) || p.Member.String() != "" || isGroupJID(p.Sender.String()):
		return ignore(Gateway, ReasonGroupMessage, ""), nil
	}

	m := &Message{
		Provider:  Gateway,
		ID:        p.ID.String(),
		Sender:    sender,
		Text:      text,
		Device:    device,
		Name:      p.Name.String(),
		Timestamp: p.Timestamp.String(),
	}
	if u := p.URL.String(); u != "" {
		m.Media = &Media{Type: p.Extension.String(), URL: u}
	}
	return finishMessage(m), nil
}

func gatewayAck(p *gatewayPayload, raw string) Event {
	id := p.ID.String()
	if id == "" {
		return ignore(Gateway, ReasonMissingMessageID, raw)
	}
	status, ok := gatewayStatus(raw)
	if !ok {
		return ignore(Gateway, ReasonStatusUnmapped, raw)
	}
	return &Ack{
		Provider:   Gateway,
		MessageIDs: []string{id},
		Status:     status,
		RawStatus:  raw,
		Timestamp:  p.Timestamp.String(),
	}
}

func gatewayStatus(raw string) (model.DeliveryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "processing", "queued", "sent":
		return model.DeliverySent, true
	case "delivered", "read":
		return model.DeliveryDelivered, true
	case "failed", "invalid", "expired", "rejected", "error":
		return model.DeliveryFailed, true
	}
	return "", false
}

func decodeGateway(body []byte, contentType string) (*gatewayPayload, error) {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == "application/x-www-form-urlencoded" {
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		return &gatewayPayload{
			Device:    flexString(vals.Get("device")),
			Sender:    flexString(vals.Get("sender")),
			Message:   flexString(vals.Get("message")),
			Text:      flexString(vals.Get("text")),
			Name:      flexString(vals.Get("name")),
			Member:    flexString(vals.Get("member")),
			ID:        flexString(vals.Get("id")),
			Timestamp: flexString(vals.Get("timestamp")),
			IsGroup:   flexBool(vals.Get("isgroup") == "true"),
			FromMe:    flexBool(vals.Get("fromMe") == "true"),
			Status:    flexString(vals.Get("status")),
			State:     flexString(vals.Get("state")),
			URL:       flexString(vals.Get("url")),
			Extension: flexString(vals.Get("extension")),
		}, nil
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("empty body")
	}
	var p gatewayPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

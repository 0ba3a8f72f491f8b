// Package provider turns the native webhook bodies of the WhatsApp providers into one
// canonical event model.
package provider

import (
	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type Name string

const (
	Gateway Name = "gateway"
	BridgeB Name = "bridge-b"
	BridgeC Name = "bridge-c"
)

// Event is one of *Message, *Ack or *Ignored.
type Event interface {
	isEvent()
}

// Message is an inbound patient message.
type Message struct {
	Provider  Name
	ID        string
	Sender    string
	Text      string
	Device    string
	Name      string
	Timestamp string
	Media     *Media
}

type Media struct {
	Type     string
	URL      string
	MimeType string
}

// Ack is a delivery receipt for messages this service sent.
type Ack struct {
	Provider   Name
	MessageIDs []string
	Status     model.DeliveryStatus
	RawStatus  string
	Timestamp  string
}

type Reason string

const (
	ReasonSelfSent         Reason = "self_sent"
	ReasonGroupMessage     Reason = "group_message"
	ReasonBroadcast        Reason = "broadcast"
	ReasonEmptyMessage     Reason = "empty_message"
	ReasonInvalidSender    Reason = "invalid_sender"
	ReasonUnsupportedEvent Reason = "unsupported_event"
	ReasonStatusUnmapped   Reason = "status_unmapped"
	ReasonMissingMessageID Reason = "missing_message_id"
)

// Ignored is a well-formed payload the pipeline deliberately does not process.
type Ignored struct {
	Provider Name
	Reason   Reason
	Detail   string
}

func (*Message) isEvent() {}
func (*Ack) isEvent()     {}
func (*Ignored) isEvent() {}

func ignore(p Name, reason Reason, detail string) *Ignored {
	return &Ignored{Provider: p, Reason: reason, Detail: detail}
}

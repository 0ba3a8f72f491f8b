package model

import "time"

// Status is the lifecycle state of an outbound queue entry.
type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Score maps a priority onto the dequeue ordering value. Lower dequeues first.
func (p Priority) Score() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 100
	default:
		return 50
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// MessageType labels what an outbound message is for.
type MessageType string

const (
	MessageVerificationAck MessageType = "verification_ack"
	MessageConfirmationAck MessageType = "confirmation_ack"
	MessageUnsubscribeAck  MessageType = "unsubscribe_ack"
	MessageInquiryReply    MessageType = "inquiry_reply"
	MessageEmergencyAck    MessageType = "emergency_ack"
	MessageVolunteerAlert  MessageType = "volunteer_alert"
	MessageClarification   MessageType = "clarification"
	MessageReminder        MessageType = "reminder"
	MessageGeneral         MessageType = "general"
)

// DeliveryStatus is the canonical provider receipt state.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Message is one outbound unit of work in the message queue.
type Message struct {
	ID             string
	PatientID      *string
	RecipientPhone string
	Content        string
	MessageType    MessageType
	Priority       Priority
	PriorityScore  int
	Status         Status

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   *string

	RemoteMessageID *string
	DeliveryStatus  *DeliveryStatus
	SentAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

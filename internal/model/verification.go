package model

import "time"

type VerificationAction string

const (
	ActionResponded VerificationAction = "responded"
	ActionIgnored   VerificationAction = "ignored"
)

type VerificationResult string

const (
	ResultVerified     VerificationResult = "verified"
	ResultDeclined     VerificationResult = "declined"
	ResultUnsubscribed VerificationResult = "unsubscribed"
	ResultUnknown      VerificationResult = "unknown"
	// ResultSettled marks a reply to a patient whose status could no longer change.
	ResultSettled VerificationResult = "already_settled"
)

// VerificationLog is the immutable audit trail of verification replies.
type VerificationLog struct {
	ID                 string
	PatientID          string
	Action             VerificationAction
	PatientResponse    string
	VerificationResult VerificationResult
	PreviousStatus     VerificationStatus
	ProviderMessageID  *string
	RequestID          *string
	CreatedAt          time.Time
}

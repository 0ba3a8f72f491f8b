package model

import "time"

type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationMissed    ConfirmationStatus = "MISSED"
	ConfirmationUnknown   ConfirmationStatus = "UNKNOWN"
)

// ReminderLog is one sent reminder awaiting the patient's confirmation.
type ReminderLog struct {
	ID                     string
	PatientID              string
	ScheduleID             *string
	Message                string
	ConfirmationStatus     ConfirmationStatus
	ConfirmationSentAt     *time.Time
	ConfirmationResponse   *string
	ConfirmationResponseAt *time.Time
	CreatedAt              time.Time
}

type ReminderSchedule struct {
	ID        string
	PatientID string
	IsActive  bool
	UpdatedAt time.Time
}

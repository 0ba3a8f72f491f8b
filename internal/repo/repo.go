package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing one")
)

type PatientRepository interface {
	// FindByPhones returns the live patient whose phone equals any of phones,
	// preferring active patients, then the oldest.
	FindByPhones(ctx context.Context, phones []string) (*model.Patient, error)
	Get(ctx context.Context, id string) (*model.Patient, error)
	// Create returns ErrConflict when a live patient already owns the phone number.
	Create(ctx context.Context, p *model.Patient) error
	// SetVerificationStatus moves the patient from one status to another. It reports
	// false when the patient was no longer in from.
	SetVerificationStatus(ctx context.Context, id string, from, to model.VerificationStatus, at time.Time) (bool, error)
	// Unsubscribe deactivates the patient, every reminder schedule and every conversation
	// state of the patient. It returns the number of schedules deactivated.
	Unsubscribe(ctx context.Context, id string, at time.Time) (int64, error)
}

type ConversationRepository interface {
	ActiveState(ctx context.Context, patientID string) (*model.ConversationState, error)
	// CreateState deactivates any active state of the patient and inserts s as the active one.
	CreateState(ctx context.Context, s *model.ConversationState) error
	UpdateState(ctx context.Context, s *model.ConversationState) error
	DeactivateStates(ctx context.Context, patientID string, at time.Time) (int64, error)
	ExpireStates(ctx context.Context, now time.Time) (int64, error)
	AppendMessage(ctx context.Context, m *model.ConversationMessage) error
	MarkProcessed(ctx context.Context, messageID string, at time.Time) error
}

type VerificationLogRepository interface {
	Append(ctx context.Context, l *model.VerificationLog) error
}

type ReminderRepository interface {
	// LatestPending returns the most recently sent PENDING reminder log of the patient.
	LatestPending(ctx context.Context, patientID string) (*model.ReminderLog, error)
	// Confirm settles a PENDING log. It reports false when the log was already settled.
	Confirm(ctx context.Context, id string, status model.ConfirmationStatus, response string, at time.Time) (bool, error)
}

type QueueRepository interface {
	Enqueue(ctx context.Context, m *model.Message) error
	// ClaimDue atomically moves up to limit due pending entries to processing, lowest
	// priority score first.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.Message, error)
	MarkCompleted(ctx context.Context, id string, remoteMessageID string, at time.Time) error
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error
	UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error
	// ReleaseStale returns processing entries claimed before olderThan to pending.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error)
	Stats(ctx context.Context) (map[model.Status]int, error)
}

// Repos bundles one implementation of every repository.
type Repos struct {
	Patients      PatientRepository
	Conversations ConversationRepository
	Verifications VerificationLogRepository
	Reminders     ReminderRepository
	Queue         QueueRepository
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

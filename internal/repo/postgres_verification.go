package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type PostgresVerificationRepo struct {
	db *sql.DB
}

func NewPostgresVerificationRepo(db *sql.DB) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

func (r *PostgresVerificationRepo) Append(ctx context.Context, l *model.VerificationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_logs (id, patient_id, action, patient_response, verification_result,
		                               previous_status, provider_message_id, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		l.ID,
		l.PatientID,
		string(l.Action),
		l.PatientResponse,
		string(l.VerificationResult),
		string(l.PreviousStatus),
		nullString(l.ProviderMessageID),
		nullString(l.RequestID),
		l.CreatedAt,
	)
	return err
}

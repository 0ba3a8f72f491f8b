package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type PostgresReminderRepo struct {
	db *sql.DB
}

func NewPostgresReminderRepo(db *sql.DB) *PostgresReminderRepo {
	return &PostgresReminderRepo{db: db}
}

func (r *PostgresReminderRepo) LatestPending(ctx context.Context, patientID string) (*model.ReminderLog, error) {
	var l model.ReminderLog
	var status string
	var scheduleID, response sql.NullString
	var sentAt, responseAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, patient_id, reminder_schedule_id, message, confirmation_status,
		       confirmation_sent_at, confirmation_response, confirmation_response_at, created_at
		FROM reminder_logs
		WHERE patient_id = $1 AND confirmation_status = 'PENDING'
		ORDER BY confirmation_sent_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, patientID).Scan(
		&l.ID,
		&l.PatientID,
		&scheduleID,
		&l.Message,
		&status,
		&sentAt,
		&response,
		&responseAt,
		&l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.ConfirmationStatus = model.ConfirmationStatus(status)
	l.ScheduleID = stringPtr(scheduleID)
	l.ConfirmationSentAt = timePtr(sentAt)
	l.ConfirmationResponse = stringPtr(response)
	l.ConfirmationResponseAt = timePtr(responseAt)
	return &l, nil
}

func (r *PostgresReminderRepo) Confirm(ctx context.Context, id string, status model.ConfirmationStatus, response string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminder_logs
		SET confirmation_status = $2,
		    confirmation_response = $3,
		    confirmation_response_at = $4
		WHERE id = $1 AND confirmation_status = 'PENDING'
	`, id, string(status), response, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type PostgresPatientRepo struct {
	db *sql.DB
}

func NewPostgresPatientRepo(db *sql.DB) *PostgresPatientRepo {
	return &PostgresPatientRepo{db: db}
}

const patientColumns = `id, name, phone_number, verification_status, is_active, onboarding,
	assigned_volunteer_id, verification_responded_at, deleted_at, created_at, updated_at`

func scanPatient(row scanner) (*model.Patient, error) {
	var p model.Patient
	var name, volunteer sql.NullString
	var status string
	var respondedAt, deletedAt sql.NullTime

	if err := row.Scan(
		&p.ID,
		&name,
		&p.PhoneNumber,
		&status,
		&p.IsActive,
		&p.Onboarding,
		&volunteer,
		&respondedAt,
		&deletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Name = name.String
	p.VerificationStatus = model.VerificationStatus(status)
	p.AssignedVolunteerID = stringPtr(volunteer)
	p.VerificationRespondedAt = timePtr(respondedAt)
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

func (r *PostgresPatientRepo) FindByPhones(ctx context.Context, phones []string) (*model.Patient, error) {
	if len(phones) == 0 {
		return nil, ErrNotFound
	}
	args := make([]any, len(phones))
	for i, p := range phones {
		args[i] = p
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone_number IN (`+placeholders(1, len(phones))+`)
		  AND deleted_at IS NULL
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`, args...)
	return scanPatient(row)
}

func (r *PostgresPatientRepo) Get(ctx context.Context, id string) (*model.Patient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanPatient(row)
}

func (r *PostgresPatientRepo) Create(ctx context.Context, p *model.Patient) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (id, name, phone_number, verification_status, is_active, onboarding,
		                      assigned_volunteer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.ID,
		sql.NullString{String: p.Name, Valid: p.Name != ""},
		p.PhoneNumber,
		string(p.VerificationStatus),
		p.IsActive,
		p.Onboarding,
		nullString(p.AssignedVolunteerID),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *PostgresPatientRepo) SetVerificationStatus(ctx context.Context, id string, from, to model.VerificationStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE patients
		SET verification_status = $3,
		    verification_responded_at = $4,
		    updated_at = $4
		WHERE id = $1 AND verification_status = $2 AND deleted_at IS NULL
	`, id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresPatientRepo) Unsubscribe(ctx context.Context, id string, at time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE patients
		SET verification_status = 'unsubscribed',
		    is_active = false,
		    verification_responded_at = $2,
		    updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE reminder_schedules
		SET is_active = false, updated_at = $2
		WHERE patient_id = $1 AND is_active
	`, id, at)
	if err != nil {
		return 0, err
	}
	schedules, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_states
		SET is_active = false, updated_at = $2
		WHERE patient_id = $1 AND is_active
	`, id, at); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return schedules, nil
}

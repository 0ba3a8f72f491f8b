package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type PostgresConversationRepo struct {
	db *sql.DB
}

func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

func (r *PostgresConversationRepo) ActiveState(ctx context.Context, patientID string) (*model.ConversationState, error) {
	var s model.ConversationState
	var currentContext, expected string
	var relatedID, relatedType sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, patient_id, current_context, expected_response_type,
		       related_entity_id, related_entity_type, is_active, message_count,
		       unknown_streak, expires_at, created_at, updated_at
		FROM conversation_states
		WHERE patient_id = $1 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1
	`, patientID).Scan(
		&s.ID,
		&s.PatientID,
		&currentContext,
		&expected,
		&relatedID,
		&relatedType,
		&s.IsActive,
		&s.MessageCount,
		&s.UnknownStreak,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.CurrentContext = model.ConversationContext(currentContext)
	s.ExpectedResponseType = model.ExpectedResponse(expected)
	s.RelatedEntityID = stringPtr(relatedID)
	s.RelatedEntityType = stringPtr(relatedType)
	return &s, nil
}

func (r *PostgresConversationRepo) CreateState(ctx context.Context, s *model.ConversationState) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = s.CreatedAt
	s.IsActive = true

	// A concurrent CreateState for the same patient loses on the one-active index; the
	// retry supersedes the winner's row.
	err := r.createState(ctx, s)
	if isUniqueViolation(err) {
		err = r.createState(ctx, s)
	}
	return err
}

func (r *PostgresConversationRepo) createState(ctx context.Context, s *model.ConversationState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_states
		SET is_active = false, updated_at = $2
		WHERE patient_id = $1 AND is_active
	`, s.PatientID, s.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_states (id, patient_id, current_context, expected_response_type,
		                                 related_entity_id, related_entity_type, is_active,
		                                 message_count, unknown_streak, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $9, $10, $11)
	`,
		s.ID,
		s.PatientID,
		string(s.CurrentContext),
		string(s.ExpectedResponseType),
		nullString(s.RelatedEntityID),
		nullString(s.RelatedEntityType),
		s.MessageCount,
		s.UnknownStreak,
		s.ExpiresAt,
		s.CreatedAt,
		s.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresConversationRepo) UpdateState(ctx context.Context, s *model.ConversationState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states
		SET expected_response_type = $2,
		    message_count = $3,
		    unknown_streak = $4,
		    expires_at = $5,
		    is_active = $6,
		    updated_at = $7
		WHERE id = $1
	`, s.ID, string(s.ExpectedResponseType), s.MessageCount, s.UnknownStreak, s.ExpiresAt, s.IsActive, s.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepo) DeactivateStates(ctx context.Context, patientID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states
		SET is_active = false, updated_at = $2
		WHERE patient_id = $1 AND is_active
	`, patientID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresConversationRepo) ExpireStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states
		SET is_active = false, updated_at = $1
		WHERE is_active AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresConversationRepo) AppendMessage(ctx context.Context, m *model.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var confidence sql.NullInt32
	if m.Confidence != nil {
		confidence = sql.NullInt32{Int32: int32(*m.Confidence), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_state_id, patient_id, direction, message_type,
		                                   content, intent, confidence, provider_message_id, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		m.ID,
		m.StateID,
		m.PatientID,
		string(m.Direction),
		m.MessageType,
		m.Content,
		nullString(m.Intent),
		confidence,
		nullString(m.ProviderMessageID),
		m.CreatedAt,
		nullTime(m.ProcessedAt),
	)
	return err
}

func (r *PostgresConversationRepo) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_messages
		SET processed_at = $2
		WHERE id = $1 AND processed_at IS NULL
	`, messageID, at)
	return err
}

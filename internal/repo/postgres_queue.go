package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

type PostgresQueueRepo struct {
	db *sql.DB
}

func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

const queueColumns = `id, patient_id, recipient_phone, content, message_type, priority, priority_score,
	status, retry_count, max_retries, next_retry_at, last_error, remote_message_id,
	delivery_status, sent_at, created_at, updated_at`

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var patientID, lastErr, remoteID, delivery sql.NullString
	var messageType, priority, status string
	var nextRetry, sentAt sql.NullTime

	if err := row.Scan(
		&m.ID,
		&patientID,
		&m.RecipientPhone,
		&m.Content,
		&messageType,
		&priority,
		&m.PriorityScore,
		&status,
		&m.RetryCount,
		&m.MaxRetries,
		&nextRetry,
		&lastErr,
		&remoteID,
		&delivery,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return m, err
	}

	m.PatientID = stringPtr(patientID)
	m.MessageType = model.MessageType(messageType)
	m.Priority = model.Priority(priority)
	m.Status = model.Status(status)
	m.NextRetryAt = timePtr(nextRetry)
	m.LastError = stringPtr(lastErr)
	m.RemoteMessageID = stringPtr(remoteID)
	if delivery.Valid {
		d := model.DeliveryStatus(delivery.String)
		m.DeliveryStatus = &d
	}
	m.SentAt = timePtr(sentAt)
	return m, nil
}

func (r *PostgresQueueRepo) Enqueue(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	if m.Status == "" {
		m.Status = model.Pending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_queue (id, patient_id, recipient_phone, content, message_type, priority,
		                           priority_score, status, retry_count, max_retries, next_retry_at,
		                           created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		m.ID,
		nullString(m.PatientID),
		m.RecipientPhone,
		m.Content,
		string(m.MessageType),
		string(m.Priority),
		m.PriorityScore,
		string(m.Status),
		m.RetryCount,
		m.MaxRetries,
		nullTime(m.NextRetryAt),
		m.CreatedAt,
		m.UpdatedAt,
	)
	return err
}

func (r *PostgresQueueRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM message_queue
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY priority_score ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	args := make([]any, 0, len(msgs)+1)
	args = append(args, now)
	for _, m := range msgs {
		args = append(args, m.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE message_queue
		SET status = 'processing', updated_at = $1
		WHERE id IN (`+placeholders(2, len(msgs))+`)
	`, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Status = model.Processing
		msgs[i].UpdatedAt = now
	}
	return msgs, nil
}

func (r *PostgresQueueRepo) MarkCompleted(ctx context.Context, id string, remoteMessageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_queue
		SET status = 'completed',
		    sent_at = $3,
		    remote_message_id = $2,
		    delivery_status = 'SENT',
		    last_error = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, sql.NullString{String: remoteMessageID, Valid: remoteMessageID != ""}, at)
	return err
}

// MarkRetry only applies to a claimed entry, so a failed entry never returns to pending.
func (r *PostgresQueueRepo) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_queue
		SET status = 'pending',
		    retry_count = $2,
		    next_retry_at = $3,
		    last_error = $4,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, retryCount, nextRetryAt, errMsg)
	return err
}

func (r *PostgresQueueRepo) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_queue
		SET status = 'failed',
		    retry_count = $2,
		    next_retry_at = NULL,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, retryCount, errMsg)
	return err
}

func (r *PostgresQueueRepo) UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE message_queue
		SET delivery_status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
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

func (r *PostgresQueueRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE message_queue
		SET status = 'pending', updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresQueueRepo) List(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM message_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresQueueRepo) Stats(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, count(*)
		FROM message_queue
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[model.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}

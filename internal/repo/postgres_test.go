package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, Repos) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewPostgres(db)
}

var patientCols = []string{
	"id", "name", "phone_number", "verification_status", "is_active", "onboarding",
	"assigned_volunteer_id", "verification_responded_at", "deleted_at", "created_at", "updated_at",
}

func TestPatients_FindByPhones(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows(patientCols).
		AddRow("p-1", "Siti", "081333852187", "pending", true, false, nil, nil, nil, created, created)
	mock.ExpectQuery(`FROM patients WHERE phone_number IN \(\$1, \$2, \$3\)`).
		WithArgs("6281333852187", "081333852187", "+6281333852187").
		WillReturnRows(rows)

	p, err := repos.Patients.FindByPhones(context.Background(), []string{"6281333852187", "081333852187", "+6281333852187"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "Siti", p.Name)
	assert.Equal(t, model.VerificationPending, p.VerificationStatus)
	assert.Nil(t, p.AssignedVolunteerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients_FindByPhones_NotFound(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectQuery(`FROM patients`).
		WithArgs("628123456").
		WillReturnRows(sqlmock.NewRows(patientCols))

	_, err := repos.Patients.FindByPhones(context.Background(), []string{"628123456"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repos.Patients.FindByPhones(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients_CreateConflict(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO patients`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repos.Patients.Create(context.Background(), &model.Patient{PhoneNumber: "6281333852187"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients_SetVerificationStatusIsConditional(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE patients SET verification_status = \$3`).
		WithArgs("p-1", "pending", "verified", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE patients SET verification_status = \$3`).
		WithArgs("p-1", "pending", "declined", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repos.Patients.SetVerificationStatus(context.Background(), "p-1", model.VerificationPending, model.VerificationVerified, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Patients.SetVerificationStatus(context.Background(), "p-1", model.VerificationPending, model.VerificationDeclined, at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients_Unsubscribe(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE patients SET verification_status = 'unsubscribed'`).
		WithArgs("p-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE reminder_schedules SET is_active = false`).
		WithArgs("p-1", at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE conversation_states SET is_active = false`).
		WithArgs("p-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repos.Patients.Unsubscribe(context.Background(), "p-1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients_UnsubscribeUnknownRollsBack(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE patients`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repos.Patients.Unsubscribe(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversations_CreateStateSupersedes(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conversation_states SET is_active = false`).
		WithArgs("p-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO conversation_states`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st := &model.ConversationState{
		PatientID:            "p-1",
		CurrentContext:       model.ContextGeneralInquiry,
		ExpectedResponseType: model.ExpectText,
		ExpiresAt:            time.Now().Add(time.Hour),
	}
	require.NoError(t, repos.Conversations.CreateState(context.Background(), st))
	assert.NotEmpty(t, st.ID)
	assert.True(t, st.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversations_CreateStateRetriesLostRace(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conversation_states SET is_active = false`).
		WithArgs("p-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO conversation_states`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "conversation_states_one_active_idx"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conversation_states SET is_active = false`).
		WithArgs("p-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO conversation_states`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st := &model.ConversationState{
		PatientID:            "p-1",
		CurrentContext:       model.ContextVerification,
		ExpectedResponseType: model.ExpectYesNo,
		ExpiresAt:            time.Now().Add(time.Hour),
	}
	require.NoError(t, repos.Conversations.CreateState(context.Background(), st))
	assert.True(t, st.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversations_CreateStateGivesUpAfterSecondConflict(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE conversation_states SET is_active = false`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO conversation_states`).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()
	}

	err := repos.Conversations.CreateState(context.Background(), &model.ConversationState{PatientID: "p-1"})
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_OneActiveConversationStatePerPatient(t *testing.T) {
	assert.Regexp(t, `CREATE UNIQUE INDEX IF NOT EXISTS \w+\s+ON conversation_states \(patient_id\) WHERE is_active;`, schema)
}

func TestConversations_ActiveState(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	now := time.Now().UTC()

	cols := []string{
		"id", "patient_id", "current_context", "expected_response_type", "related_entity_id",
		"related_entity_type", "is_active", "message_count", "unknown_streak", "expires_at",
		"created_at", "updated_at",
	}
	mock.ExpectQuery(`FROM conversation_states WHERE patient_id = \$1 AND is_active`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s-1", "p-1", "reminder_confirmation", "confirmation", "r-1", "reminder_log", true, 2, 0, now.Add(time.Hour), now, now))
	mock.ExpectQuery(`FROM conversation_states`).
		WithArgs("p-2").
		WillReturnRows(sqlmock.NewRows(cols))

	st, err := repos.Conversations.ActiveState(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.ContextReminderConfirmation, st.CurrentContext)
	require.NotNil(t, st.RelatedEntityID)
	assert.Equal(t, "r-1", *st.RelatedEntityID)
	assert.Equal(t, 2, st.MessageCount)

	_, err = repos.Conversations.ActiveState(context.Background(), "p-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminders_LatestPendingAndConfirm(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	sent := time.Now().Add(-time.Hour).UTC()
	at := time.Now().UTC()

	cols := []string{
		"id", "patient_id", "reminder_schedule_id", "message", "confirmation_status",
		"confirmation_sent_at", "confirmation_response", "confirmation_response_at", "created_at",
	}
	mock.ExpectQuery(`FROM reminder_logs WHERE patient_id = \$1 AND confirmation_status = 'PENDING'`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r-1", "p-1", "s-1", "Minum obat", "PENDING", sent, nil, nil, sent))
	mock.ExpectExec(`UPDATE reminder_logs SET confirmation_status = \$2`).
		WithArgs("r-1", "CONFIRMED", "sudah", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l, err := repos.Reminders.LatestPending(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", l.ID)
	assert.Equal(t, model.ConfirmationPending, l.ConfirmationStatus)
	require.NotNil(t, l.ScheduleID)
	assert.Nil(t, l.ConfirmationResponse)

	ok, err := repos.Reminders.Confirm(context.Background(), "r-1", model.ConfirmationConfirmed, "sudah", at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifications_Append(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO verification_logs`).
		WithArgs(sqlmock.AnyArg(), "p-1", "responded", "YA", "verified", "pending", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := &model.VerificationLog{
		PatientID:          "p-1",
		Action:             model.ActionResponded,
		PatientResponse:    "YA",
		VerificationResult: model.ResultVerified,
		PreviousStatus:     model.VerificationPending,
	}
	require.NoError(t, repos.Verifications.Append(context.Background(), l))
	assert.NotEmpty(t, l.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var queueCols = []string{
	"id", "patient_id", "recipient_phone", "content", "message_type", "priority", "priority_score",
	"status", "retry_count", "max_retries", "next_retry_at", "last_error", "remote_message_id",
	"delivery_status", "sent_at", "created_at", "updated_at",
}

func TestQueue_ClaimDue(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(queueCols).
		AddRow("a", "p-1", "6281", "urgent", "emergency_ack", "urgent", 0, "pending", 0, 3, nil, nil, nil, nil, nil, now, now).
		AddRow("b", nil, "6282", "hi", "general", "low", 100, "pending", 1, 3, now, "boom", nil, nil, nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM message_queue WHERE status = 'pending'.*FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 2).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE message_queue SET status = 'processing', updated_at = \$1 WHERE id IN \(\$2, \$3\)`).
		WithArgs(now, "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	msgs, err := repos.Queue.ClaimDue(context.Background(), 2, now)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.Processing, msgs[0].Status)
	assert.Equal(t, model.PriorityUrgent, msgs[0].Priority)
	require.NotNil(t, msgs[0].PatientID)
	assert.Nil(t, msgs[1].PatientID)
	require.NotNil(t, msgs[1].LastError)
	assert.Equal(t, "boom", *msgs[1].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_ClaimDueEmptyCommits(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM message_queue`).WillReturnRows(sqlmock.NewRows(queueCols))
	mock.ExpectCommit()

	msgs, err := repos.Queue.ClaimDue(context.Background(), 5, time.Now())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = repos.Queue.ClaimDue(context.Background(), 0, time.Now())
	assert.Error(t, err)
}

func TestQueue_TransitionsOnlyFromProcessing(t *testing.T) {
	_, mock, repos := setupMockDB(t)
	next := time.Now().Add(time.Minute)

	mock.ExpectExec(`SET status = 'pending', retry_count = \$2.*WHERE id = \$1 AND status = 'processing'`).
		WithArgs("a", 1, next, "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'.*WHERE id = \$1 AND status = 'processing'`).
		WithArgs("a", 3, "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repos.Queue.MarkRetry(context.Background(), "a", 1, next, "timeout"))
	require.NoError(t, repos.Queue.MarkFailed(context.Background(), "a", 3, "timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_UpdateDeliveryStatusUnknown(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectExec(`SET delivery_status = \$2`).
		WithArgs("nope", "DELIVERED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repos.Queue.UpdateDeliveryStatus(context.Background(), "nope", model.DeliveryDelivered)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Stats(t *testing.T) {
	_, mock, repos := setupMockDB(t)

	mock.ExpectQuery(`SELECT status, count\(\*\) FROM message_queue GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("failed", 1))

	stats, err := repos.Queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats[model.Pending])
	assert.Equal(t, 1, stats[model.Failed])
	assert.Equal(t, 0, stats[model.Completed])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1, $2, $3", placeholders(1, 3))
	assert.Equal(t, "$2", placeholders(2, 1))
}

func TestMigrate(t *testing.T) {
	db, mock, _ := setupMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS patients .* CREATE TABLE IF NOT EXISTS message_queue`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

// Manager persists conversation states and turns. Concurrent messages from one patient
// are last-write-wins on the state.
type Manager struct {
	convs repo.ConversationRepository
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

func NewManager(convs repo.ConversationRepository, ttl time.Duration, log *zap.Logger) *Manager {
	return &Manager{convs: convs, ttl: ttl, log: log, now: time.Now}
}

// Active returns the patient's live state, or nil. An expired state still flagged active
// is deactivated on the way.
func (m *Manager) Active(ctx context.Context, patientID string) (*model.ConversationState, error) {
	st, err := m.convs.ActiveState(ctx, patientID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}

	now := m.now().UTC()
	if st.Live(now) {
		return st, nil
	}

	st.IsActive = false
	st.UpdatedAt = now
	if err := m.convs.UpdateState(ctx, st); err != nil {
		ctxutil.Logger(ctx, m.log).Warn("deactivate expired conversation state failed",
			zap.String("state_id", st.ID),
			zap.Error(err),
		)
	}
	return nil, nil
}

// Apply moves the patient into the decided context. A changed context or correlation
// target supersedes the active state with a new one; otherwise the active state is
// continued and its expiry extended.
func (m *Manager) Apply(ctx context.Context, patientID string, active *model.ConversationState, d Decision) (*model.ConversationState, error) {
	now := m.now().UTC()

	if !d.Supersedes(active) {
		active.ExpectedResponseType = d.Expect
		active.MessageCount++
		active.UnknownStreak = d.UnknownStreak
		active.ExpiresAt = now.Add(m.ttl)
		active.UpdatedAt = now
		if err := m.convs.UpdateState(ctx, active); err != nil {
			return nil, fmt.Errorf("continue conversation state: %w", err)
		}
		return active, nil
	}

	st := &model.ConversationState{
		PatientID:            patientID,
		CurrentContext:       d.Context,
		ExpectedResponseType: d.Expect,
		RelatedEntityID:      d.RelatedEntityID,
		RelatedEntityType:    d.RelatedEntityType,
		MessageCount:         1,
		UnknownStreak:        d.UnknownStreak,
		ExpiresAt:            now.Add(m.ttl),
		CreatedAt:            now,
	}
	if err := m.convs.CreateState(ctx, st); err != nil {
		return nil, fmt.Errorf("open conversation state: %w", err)
	}

	ctxutil.Logger(ctx, m.log).Debug("conversation state opened",
		zap.String("patient_id", patientID),
		zap.String("context", string(d.Context)),
	)
	return st, nil
}

// Open starts a fresh state for an outbound-initiated exchange, such as a reminder
// that expects a confirmation.
func (m *Manager) Open(ctx context.Context, patientID string, c model.ConversationContext, expect model.ExpectedResponse, relatedID, relatedType *string) (*model.ConversationState, error) {
	return m.Apply(ctx, patientID, nil, Decision{
		Context:           c,
		Expect:            expect,
		RelatedEntityID:   relatedID,
		RelatedEntityType: relatedType,
	})
}

// Close deactivates one state.
func (m *Manager) Close(ctx context.Context, st *model.ConversationState) error {
	st.IsActive = false
	st.UpdatedAt = m.now().UTC()
	if err := m.convs.UpdateState(ctx, st); err != nil {
		return fmt.Errorf("close conversation state: %w", err)
	}
	return nil
}

func (m *Manager) CloseAll(ctx context.Context, patientID string) error {
	if _, err := m.convs.DeactivateStates(ctx, patientID, m.now().UTC()); err != nil {
		return fmt.Errorf("close conversation states: %w", err)
	}
	return nil
}

type InboundTurn struct {
	Content           string
	MessageType       string
	Intent            string
	Confidence        *int
	ProviderMessageID string
}

func (m *Manager) RecordInbound(ctx context.Context, st *model.ConversationState, turn InboundTurn) (*model.ConversationMessage, error) {
	msg := &model.ConversationMessage{
		StateID:     st.ID,
		PatientID:   st.PatientID,
		Direction:   model.Inbound,
		MessageType: turn.MessageType,
		Content:     turn.Content,
		Confidence:  turn.Confidence,
		CreatedAt:   m.now().UTC(),
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if turn.Intent != "" {
		i := turn.Intent
		msg.Intent = &i
	}
	if turn.ProviderMessageID != "" {
		id := turn.ProviderMessageID
		msg.ProviderMessageID = &id
	}
	if err := m.convs.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record inbound message: %w", err)
	}
	return msg, nil
}

func (m *Manager) RecordOutbound(ctx context.Context, st *model.ConversationState, messageType model.MessageType, content string) error {
	now := m.now().UTC()
	msg := &model.ConversationMessage{
		StateID:     st.ID,
		PatientID:   st.PatientID,
		Direction:   model.Outbound,
		MessageType: string(messageType),
		Content:     content,
		CreatedAt:   now,
		ProcessedAt: &now,
	}
	if err := m.convs.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("record outbound message: %w", err)
	}
	return nil
}

func (m *Manager) MarkProcessed(ctx context.Context, msg *model.ConversationMessage) error {
	now := m.now().UTC()
	if err := m.convs.MarkProcessed(ctx, msg.ID, now); err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	msg.ProcessedAt = &now
	return nil
}

// SweepExpired deactivates every state past its expiry.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.convs.ExpireStates(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire conversation states: %w", err)
	}
	if n > 0 {
		m.log.Info("conversation states expired", zap.Int64("count", n))
	}
	return n, nil
}

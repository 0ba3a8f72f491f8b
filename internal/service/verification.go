package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/intent"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

// VerificationHandler applies opt-in and opt-out replies:
//
//	pending -> verified | declined
//	any     -> unsubscribed
//
// Replies that can no longer change the status are logged and otherwise ignored.
type VerificationHandler struct {
	patients repo.PatientRepository
	logs     repo.VerificationLogRepository
	log      *zap.Logger
	now      func() time.Time
}

func NewVerificationHandler(patients repo.PatientRepository, logs repo.VerificationLogRepository, log *zap.Logger) *VerificationHandler {
	return &VerificationHandler{patients: patients, logs: logs, log: log, now: time.Now}
}

func (h *VerificationHandler) Handle(ctx context.Context, t *turn) (Outcome, error) {
	if t.result.Intent == intent.Unsubscribe {
		return h.unsubscribe(ctx, t)
	}

	p := t.patient
	if p.VerificationStatus.Settled() {
		return h.settled(ctx, t)
	}

	var (
		to      model.VerificationStatus
		result  model.VerificationResult
		action  string
		content string
	)
	switch t.result.Intent {
	case intent.Accept:
		to, result, action, content = model.VerificationVerified, model.ResultVerified, ActionVerified, verificationAcceptedText(p)
	case intent.Decline:
		to, result, action, content = model.VerificationDeclined, model.ResultDeclined, ActionDeclined, verificationDeclinedText(p)
	default:
		if err := h.record(ctx, t, model.ActionResponded, model.ResultUnknown); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Action:  ActionVerificationUnknown,
			replies: []reply{patientReply(p, t.msg.Sender, model.MessageClarification, model.PriorityMedium, verificationClarifyText(p))},
		}, nil
	}

	now := h.now().UTC()
	changed, err := h.patients.SetVerificationStatus(ctx, p.ID, model.VerificationPending, to, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("set verification status: %w", err)
	}
	if !changed {
		// A concurrent reply settled the patient first.
		return h.settled(ctx, t)
	}

	if err := h.record(ctx, t, model.ActionResponded, result); err != nil {
		return Outcome{}, err
	}
	p.VerificationStatus = to
	p.VerificationRespondedAt = &now

	ctxutil.Logger(ctx, h.log).Info("patient verification answered",
		zap.String("patient_id", p.ID),
		zap.String("status", string(to)),
	)
	return Outcome{
		Action:  action,
		replies: []reply{patientReply(p, t.msg.Sender, model.MessageVerificationAck, model.PriorityHigh, content)},
	}, nil
}

func (h *VerificationHandler) unsubscribe(ctx context.Context, t *turn) (Outcome, error) {
	p := t.patient
	if p.VerificationStatus == model.VerificationUnsubscribed && !p.IsActive {
		return h.settled(ctx, t)
	}

	previous := p.VerificationStatus
	schedules, err := h.patients.Unsubscribe(ctx, p.ID, h.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("unsubscribe patient: %w", err)
	}

	if err := h.appendLog(ctx, t, model.ActionResponded, model.ResultUnsubscribed, previous); err != nil {
		return Outcome{}, err
	}
	p.VerificationStatus = model.VerificationUnsubscribed
	p.IsActive = false

	ctxutil.Logger(ctx, h.log).Info("patient unsubscribed",
		zap.String("patient_id", p.ID),
		zap.String("previous_status", string(previous)),
		zap.Int64("schedules_deactivated", schedules),
	)
	return Outcome{
		Action:  ActionUnsubscribed,
		replies: []reply{patientReply(p, t.msg.Sender, model.MessageUnsubscribeAck, model.PriorityHigh, unsubscribedText(p))},
	}, nil
}

// settled logs a reply that cannot change the patient's status. No acknowledgment is
// sent, so a stray late message never looks like it downgraded the patient.
func (h *VerificationHandler) settled(ctx context.Context, t *turn) (Outcome, error) {
	if err := h.record(ctx, t, model.ActionIgnored, model.ResultSettled); err != nil {
		return Outcome{}, err
	}
	ctxutil.Logger(ctx, h.log).Info("verification reply ignored, status already settled",
		zap.String("patient_id", t.patient.ID),
		zap.String("status", string(t.patient.VerificationStatus)),
		zap.String("intent", string(t.result.Intent)),
	)
	return Outcome{Action: ActionAlreadySettled}, nil
}

func (h *VerificationHandler) record(ctx context.Context, t *turn, action model.VerificationAction, result model.VerificationResult) error {
	return h.appendLog(ctx, t, action, result, t.patient.VerificationStatus)
}

func (h *VerificationHandler) appendLog(ctx context.Context, t *turn, action model.VerificationAction, result model.VerificationResult, previous model.VerificationStatus) error {
	l := &model.VerificationLog{
		PatientID:          t.patient.ID,
		Action:             action,
		PatientResponse:    t.msg.Text,
		VerificationResult: result,
		PreviousStatus:     previous,
		RequestID:          ctxutil.RequestID(ctx),
		CreatedAt:          h.now().UTC(),
	}
	if t.msg.ID != "" {
		id := t.msg.ID
		l.ProviderMessageID = &id
	}
	if err := h.logs.Append(ctx, l); err != nil {
		return fmt.Errorf("append verification log: %w", err)
	}
	return nil
}

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

// ConfirmationHandler reconciles a reply with the patient's pending reminder. It never
// creates reminder logs.
type ConfirmationHandler struct {
	reminders repo.ReminderRepository
	log       *zap.Logger
	now       func() time.Time
}

func NewConfirmationHandler(reminders repo.ReminderRepository, log *zap.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{reminders: reminders, log: log, now: time.Now}
}

func confirmationStatus(i intent.Intent) model.ConfirmationStatus {
	switch i {
	case intent.ConfirmationTaken:
		return model.ConfirmationConfirmed
	case intent.ConfirmationMissed:
		return model.ConfirmationMissed
	default:
		return model.ConfirmationUnknown
	}
}

func (h *ConfirmationHandler) Handle(ctx context.Context, t *turn) (Outcome, error) {
	log := ctxutil.Logger(ctx, h.log)

	if t.reminder == nil {
		log.Info("confirmation reply without pending reminder", zap.String("patient_id", t.patient.ID))
		return Outcome{Action: ActionNoPendingConfirmation}, nil
	}

	if t.result.Intent == intent.ConfirmationLater {
		// The reminder stays pending for the follow-up; the reply is kept on the conversation turn.
		log.Info("reminder confirmation deferred",
			zap.String("patient_id", t.patient.ID),
			zap.String("reminder_log_id", t.reminder.ID),
		)
		return Outcome{
			Action:  ActionConfirmationDeferred,
			replies: []reply{patientReply(t.patient, t.msg.Sender, model.MessageConfirmationAck, model.PriorityMedium, confirmationLaterText())},
		}, nil
	}

	status := confirmationStatus(t.result.Intent)
	ok, err := h.reminders.Confirm(ctx, t.reminder.ID, status, t.msg.Text, h.now().UTC())
	if err != nil {
		return Outcome{}, fmt.Errorf("confirm reminder: %w", err)
	}
	if !ok {
		log.Info("reminder already settled", zap.String("reminder_log_id", t.reminder.ID))
		return Outcome{Action: ActionAlreadySettled}, nil
	}

	log.Info("reminder confirmation recorded",
		zap.String("patient_id", t.patient.ID),
		zap.String("reminder_log_id", t.reminder.ID),
		zap.String("status", string(status)),
	)

	action := ActionConfirmationUnknown
	switch status {
	case model.ConfirmationConfirmed:
		action = ActionConfirmed
	case model.ConfirmationMissed:
		action = ActionMissed
	}
	return Outcome{
		Action:  action,
		replies: []reply{patientReply(t.patient, t.msg.Sender, model.MessageConfirmationAck, model.PriorityMedium, confirmationText(status))},
	}, nil
}

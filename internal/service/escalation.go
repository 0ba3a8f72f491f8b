package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/phone"
)

// EscalationHandler hands a patient to the human volunteers.
type EscalationHandler struct {
	volunteers []string
	log        *zap.Logger
}

func NewEscalationHandler(volunteerPhones []string, log *zap.Logger) *EscalationHandler {
	var vs []string
	for _, v := range volunteerPhones {
		if n := phone.Normalize(v); n != "" {
			vs = append(vs, n)
		}
	}
	return &EscalationHandler{volunteers: vs, log: log}
}

// Emergency alerts every volunteer and acknowledges the patient, all at urgent priority.
func (h *EscalationHandler) Emergency(ctx context.Context, t *turn) (Outcome, error) {
	ctxutil.Logger(ctx, h.log).Warn("emergency message received",
		zap.String("patient_id", t.patient.ID),
		zap.Int("volunteers", len(h.volunteers)),
	)
	return Outcome{
		Action:  ActionEmergency,
		replies: h.alerts(ctx, t, "darurat", model.PriorityUrgent, emergencyAckText()),
	}, nil
}

// Escalate forwards unresolved free text to the volunteers.
func (h *EscalationHandler) Escalate(ctx context.Context, t *turn) (Outcome, error) {
	ctxutil.Logger(ctx, h.log).Info("message escalated to volunteers",
		zap.String("patient_id", t.patient.ID),
		zap.String("context", string(t.decision.Context)),
	)
	prio := model.PriorityHigh
	if t.decision.Context == model.ContextEmergency {
		prio = model.PriorityUrgent
	}
	return Outcome{
		Action:  ActionEscalated,
		replies: h.alerts(ctx, t, "eskalasi", prio, escalationAckText()),
	}, nil
}

func (h *EscalationHandler) alerts(ctx context.Context, t *turn, kind string, prio model.Priority, ack string) []reply {
	if len(h.volunteers) == 0 {
		ctxutil.Logger(ctx, h.log).Error("no volunteer phones configured, escalation only acknowledged",
			zap.String("patient_id", t.patient.ID),
		)
	}

	alert := volunteerAlertText(kind, t.patient, t.msg.Text)
	out := make([]reply, 0, len(h.volunteers)+1)
	for _, v := range h.volunteers {
		out = append(out, reply{to: v, msgType: model.MessageVolunteerAlert, priority: prio, content: alert})
	}
	return append(out, patientReply(t.patient, t.msg.Sender, model.MessageEmergencyAck, prio, ack))
}

package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/client"
	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/model"
)

// InquiryResponder is the external capability answering free-text questions.
type InquiryResponder interface {
	Answer(ctx context.Context, req client.InquiryRequest) (client.InquiryAnswer, error)
}

// TemplateResponder acknowledges every inquiry with a fixed reply.
type TemplateResponder struct{}

func (TemplateResponder) Answer(context.Context, client.InquiryRequest) (client.InquiryAnswer, error) {
	return client.InquiryAnswer{Reply: inquiryFallbackText()}, nil
}

type InquiryHandler struct {
	responder InquiryResponder
	escalate  *EscalationHandler
	log       *zap.Logger
}

func NewInquiryHandler(responder InquiryResponder, escalate *EscalationHandler, log *zap.Logger) *InquiryHandler {
	return &InquiryHandler{responder: responder, escalate: escalate, log: log}
}

// Handle delegates to the responder. A responder failure falls back to the template
// reply; the patient never sees the error.
func (h *InquiryHandler) Handle(ctx context.Context, t *turn) (Outcome, error) {
	ans, err := h.responder.Answer(ctx, client.InquiryRequest{
		PatientID: t.patient.ID,
		Phone:     t.patient.PhoneNumber,
		Name:      t.patient.Name,
		Message:   t.msg.Text,
		Context:   string(t.decision.Context),
	})
	if err != nil {
		ctxutil.Logger(ctx, h.log).Warn("inquiry responder failed, using template reply",
			zap.String("patient_id", t.patient.ID),
			zap.Error(err),
		)
		ans = client.InquiryAnswer{Reply: inquiryFallbackText()}
	}

	if ans.Escalate {
		out, err := h.escalate.Escalate(ctx, t)
		out.confidence = ans.Confidence
		return out, err
	}

	text := strings.TrimSpace(ans.Reply)
	if text == "" {
		text = inquiryFallbackText()
	}
	return Outcome{
		Action:     ActionInquiryReplied,
		confidence: ans.Confidence,
		replies:    []reply{patientReply(t.patient, t.msg.Sender, model.MessageInquiryReply, model.PriorityLow, text)},
	}, nil
}

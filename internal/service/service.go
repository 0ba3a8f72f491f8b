// Package service executes the inbound pipeline: patient lookup, classification, the
// conversation transition and the business handlers.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
	"github.com/LeventeLantos/patient-messaging/internal/cache"
	"github.com/LeventeLantos/patient-messaging/internal/conversation"
	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/intent"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/patient"
	"github.com/LeventeLantos/patient-messaging/internal/provider"
	"github.com/LeventeLantos/patient-messaging/internal/queue"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

// Outcome is reported back to the provider in the webhook response.
type Outcome struct {
	Processed bool   `json:"processed"`
	Action    string `json:"action"`
	Intent    string `json:"intent,omitempty"`
	PatientID string `json:"patientId,omitempty"`
	Reason    string `json:"reason,omitempty"`

	confidence *int
	replies    []reply
}

const (
	ActionVerified              = "verified"
	ActionDeclined              = "declined"
	ActionUnsubscribed          = "unsubscribed"
	ActionVerificationUnknown   = "verification_unknown"
	ActionAlreadySettled        = "already_settled"
	ActionConfirmed             = "confirmed"
	ActionMissed                = "missed"
	ActionConfirmationUnknown   = "confirmation_unknown"
	ActionConfirmationDeferred  = "confirmation_deferred"
	ActionNoPendingConfirmation = "no_pending_confirmation"
	ActionInquiryReplied        = "inquiry_replied"
	ActionEscalated             = "escalated"
	ActionEmergency             = "emergency_escalated"
	ActionDeliveryUpdated       = "delivery_status_updated"
	ActionIgnored               = "ignored"
	ActionRateLimited           = "rate_limited"
	ActionDuplicate             = "duplicate"
)

const ReasonUnknownMessage = "unknown_message"

// reply is an outbound message a handler wants sent once the turn is recorded.
type reply struct {
	to       string
	msgType  model.MessageType
	priority model.Priority
	content  string
	// toPatient replies are also recorded as outbound conversation turns.
	toPatient bool
}

// Enqueuer accepts outbound messages for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (*model.Message, error)
}

// turn is everything a handler needs about one inbound message. state is set after
// the handler ran.
type turn struct {
	patient  *model.Patient
	msg      *provider.Message
	result   intent.Result
	state    *model.ConversationState
	reminder *model.ReminderLog
	decision conversation.Decision
}

type Options struct {
	AutoOnboard         bool
	EscalationThreshold int
	VolunteerPhones     []string
}

type Dispatcher struct {
	lookup     *patient.Lookup
	classifier *intent.Classifier
	convs      *conversation.Manager
	reminders  repo.ReminderRepository
	queueRepo  repo.QueueRepository
	sent       cache.MessageCache
	enqueuer   Enqueuer
	opts       Options
	log        *zap.Logger

	verification *VerificationHandler
	confirmation *ConfirmationHandler
	inquiry      *InquiryHandler
	escalation   *EscalationHandler
}

type Deps struct {
	Repos      repo.Repos
	Lookup     *patient.Lookup
	Classifier *intent.Classifier
	Convs      *conversation.Manager
	Sent       cache.MessageCache
	Enqueuer   Enqueuer
	Responder  InquiryResponder
}

func NewDispatcher(d Deps, opts Options, log *zap.Logger) *Dispatcher {
	if opts.EscalationThreshold <= 0 {
		opts.EscalationThreshold = 3
	}
	responder := d.Responder
	if responder == nil {
		responder = TemplateResponder{}
	}
	dp := &Dispatcher{
		lookup:     d.Lookup,
		classifier: d.Classifier,
		convs:      d.Convs,
		reminders:  d.Repos.Reminders,
		queueRepo:  d.Repos.Queue,
		sent:       d.Sent,
		enqueuer:   d.Enqueuer,
		opts:       opts,
		log:        log,
	}
	dp.verification = NewVerificationHandler(d.Repos.Patients, d.Repos.Verifications, log)
	dp.confirmation = NewConfirmationHandler(d.Repos.Reminders, log)
	dp.escalation = NewEscalationHandler(opts.VolunteerPhones, log)
	dp.inquiry = NewInquiryHandler(responder, dp.escalation, log)
	return dp
}

// Dispatch executes one normalized event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev provider.Event) (Outcome, error) {
	switch e := ev.(type) {
	case *provider.Message:
		return d.HandleMessage(ctx, e)
	case *provider.Ack:
		return d.HandleAck(ctx, e)
	case *provider.Ignored:
		return Outcome{Action: ActionIgnored, Reason: string(e.Reason)}, nil
	default:
		return Outcome{}, apperr.New(apperr.InternalFault, fmt.Sprintf("unhandled event %T", ev))
	}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, msg *provider.Message) (Outcome, error) {
	log := ctxutil.Logger(ctx, d.log)

	p, err := d.resolvePatient(ctx, msg.Sender)
	if errors.Is(err, patient.ErrNoMatch) {
		log.Info("message from unknown sender ignored", zap.String("sender", msg.Sender))
		return Outcome{Action: ActionIgnored, Reason: string(apperr.NoPatientMatch)}, nil
	}
	if err != nil {
		return Outcome{}, internal("resolve patient", err)
	}

	active, err := d.convs.Active(ctx, p.ID)
	if err != nil {
		return Outcome{}, internal("load conversation", err)
	}

	reminder, err := d.reminders.LatestPending(ctx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		reminder = nil
	} else if err != nil {
		return Outcome{}, internal("load pending reminder", err)
	}

	res := d.classifier.Classify(msg.Text, intent.Hints{
		VerificationPending: p.VerificationStatus == model.VerificationPending,
		ConfirmationPending: reminder != nil,
	})

	decision := conversation.Decide(conversation.Input{
		Patient:             p,
		Result:              res,
		Active:              active,
		PendingReminder:     reminder,
		EscalationThreshold: d.opts.EscalationThreshold,
	})

	t := &turn{patient: p, msg: msg, result: res, reminder: reminder, decision: decision}

	var out Outcome
	switch decision.Route {
	case conversation.RouteVerification:
		out, err = d.verification.Handle(ctx, t)
	case conversation.RouteConfirmation:
		out, err = d.confirmation.Handle(ctx, t)
	case conversation.RouteEmergency:
		out, err = d.escalation.Emergency(ctx, t)
	case conversation.RouteEscalation:
		out, err = d.escalation.Escalate(ctx, t)
	default:
		out, err = d.inquiry.Handle(ctx, t)
	}
	if err != nil {
		return Outcome{}, internal(fmt.Sprintf("%s handler", decision.Route), err)
	}

	// The transition is stored only once the handler succeeded, so a retried event
	// does not count the same turn twice.
	t.state, err = d.convs.Apply(ctx, p.ID, active, decision)
	if err != nil {
		return Outcome{}, internal("apply conversation transition", err)
	}

	if err := d.finish(ctx, t, &out); err != nil {
		return Outcome{}, internal("record turn", err)
	}

	out.Processed = true
	out.Intent = string(res.Intent)
	out.PatientID = p.ID

	log.Info("message processed",
		zap.String("patient_id", p.ID),
		zap.String("intent", string(res.Intent)),
		zap.Bool("emergency", res.Emergency),
		zap.String("route", string(decision.Route)),
		zap.String("action", out.Action),
	)
	return out, nil
}

func (d *Dispatcher) resolvePatient(ctx context.Context, sender string) (*model.Patient, error) {
	if d.opts.AutoOnboard {
		p, _, err := d.lookup.FindOrCreateForOnboarding(ctx, sender)
		return p, err
	}
	return d.lookup.FindPatientByPhone(ctx, sender)
}

// finish records the inbound turn, queues the replies and closes the state when the
// decision settled the exchange.
func (d *Dispatcher) finish(ctx context.Context, t *turn, out *Outcome) error {
	inbound, err := d.convs.RecordInbound(ctx, t.state, conversation.InboundTurn{
		Content:           t.msg.Text,
		MessageType:       messageType(t.msg),
		Intent:            string(t.result.Intent),
		Confidence:        out.confidence,
		ProviderMessageID: t.msg.ID,
	})
	if err != nil {
		return err
	}

	for _, r := range out.replies {
		pid := t.patient.ID
		if _, err := d.enqueuer.Enqueue(ctx, queue.Request{
			PatientID: &pid,
			Phone:     r.to,
			Content:   r.content,
			Type:      r.msgType,
			Priority:  r.priority,
		}); err != nil {
			return err
		}
		if r.toPatient {
			if err := d.convs.RecordOutbound(ctx, t.state, r.msgType, r.content); err != nil {
				return err
			}
		}
	}

	if err := d.convs.MarkProcessed(ctx, inbound); err != nil {
		return err
	}

	if t.decision.Close && t.state.IsActive {
		return d.convs.Close(ctx, t.state)
	}
	return nil
}

func messageType(m *provider.Message) string {
	if m.Media != nil && m.Media.Type != "" {
		return m.Media.Type
	}
	return "text"
}

func internal(op string, err error) error {
	if apperr.KindOf(err) != apperr.InternalFault {
		return err
	}
	return apperr.Wrap(apperr.InternalFault, op, err)
}

func patientReply(p *model.Patient, to string, typ model.MessageType, prio model.Priority, content string) reply {
	if to == "" {
		to = p.PhoneNumber
	}
	return reply{to: to, msgType: typ, priority: prio, content: content, toPatient: true}
}

// Package conversation owns the per-patient conversation state machine.
package conversation

import (
	"github.com/LeventeLantos/patient-messaging/internal/intent"
	"github.com/LeventeLantos/patient-messaging/internal/model"
)

// Route names the handler that executes an inbound message's business effect.
type Route string

const (
	RouteVerification Route = "verification"
	RouteConfirmation Route = "confirmation"
	RouteInquiry      Route = "inquiry"
	RouteEmergency    Route = "emergency"
	// RouteEscalation hands an unresolved message to a human volunteer.
	RouteEscalation Route = "escalation"
)

const relatedReminderLog = "reminder_log"

type Input struct {
	Patient *model.Patient
	Result  intent.Result
	// Active is the patient's live state, nil when none is active or it expired.
	Active          *model.ConversationState
	PendingReminder *model.ReminderLog
	// EscalationThreshold is the number of consecutive unknown replies handed to a
	// volunteer instead of the inquiry capability.
	EscalationThreshold int
}

type Decision struct {
	Route             Route
	Context           model.ConversationContext
	Expect            model.ExpectedResponse
	RelatedEntityID   *string
	RelatedEntityType *string
	UnknownStreak     int
	// Close deactivates the state once the turn is handled.
	Close bool
}

// Supersedes reports whether the decision needs a new state instead of continuing active.
func (d Decision) Supersedes(active *model.ConversationState) bool {
	if active == nil || active.CurrentContext != d.Context {
		return true
	}
	return !sameRef(active.RelatedEntityID, d.RelatedEntityID)
}

// Decide applies the transition table. Precedence: emergency, unsubscribe, the
// patient's pending verification, verification intents, confirmation intents, then
// unresolved text. The patient's durable status outranks the conversation state.
func Decide(in Input) Decision {
	res := in.Result

	switch {
	case res.Emergency:
		return Decision{Route: RouteEmergency, Context: model.ContextEmergency, Expect: model.ExpectText}

	case res.Intent == intent.Unsubscribe:
		return Decision{Route: RouteVerification, Context: model.ContextVerification, Expect: model.ExpectNone, Close: true}

	case in.Patient.VerificationStatus == model.VerificationPending:
		d := Decision{Route: RouteVerification, Context: model.ContextVerification, Expect: model.ExpectYesNo}
		d.Close = res.Intent.Verification()
		if !d.Close {
			d.UnknownStreak = continuedStreak(in.Active, model.ContextVerification) + 1
			if in.EscalationThreshold > 0 && d.UnknownStreak >= in.EscalationThreshold {
				d.Route = RouteEscalation
				d.UnknownStreak = 0
			}
		}
		return d

	case res.Intent.Verification():
		return Decision{Route: RouteVerification, Context: model.ContextVerification, Expect: model.ExpectNone, Close: true}

	case res.Intent.Confirmation():
		if in.PendingReminder != nil {
			id := in.PendingReminder.ID
			kind := relatedReminderLog
			return Decision{
				Route:             RouteConfirmation,
				Context:           model.ContextReminderConfirmation,
				Expect:            model.ExpectConfirmation,
				RelatedEntityID:   &id,
				RelatedEntityType: &kind,
				Close:             res.Intent != intent.ConfirmationLater,
			}
		}
		d := Decision{Route: RouteConfirmation, Context: model.ContextGeneralInquiry, Expect: model.ExpectText}
		if in.Active != nil {
			d.Context = in.Active.CurrentContext
			d.Expect = in.Active.ExpectedResponseType
			d.RelatedEntityID = in.Active.RelatedEntityID
			d.RelatedEntityType = in.Active.RelatedEntityType
		}
		return d
	}

	if in.Active != nil && in.Active.CurrentContext == model.ContextEmergency {
		return Decision{
			Route:         RouteEscalation,
			Context:       model.ContextEmergency,
			Expect:        model.ExpectText,
			UnknownStreak: in.Active.UnknownStreak + 1,
		}
	}

	streak := continuedStreak(in.Active, model.ContextGeneralInquiry) + 1
	d := Decision{
		Route:         RouteInquiry,
		Context:       model.ContextGeneralInquiry,
		Expect:        model.ExpectText,
		UnknownStreak: streak,
	}
	if in.EscalationThreshold > 0 && streak >= in.EscalationThreshold {
		d.Route = RouteEscalation
		d.UnknownStreak = 0
	}
	return d
}

func continuedStreak(active *model.ConversationState, c model.ConversationContext) int {
	if active == nil || active.CurrentContext != c {
		return 0
	}
	return active.UnknownStreak
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

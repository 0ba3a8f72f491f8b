package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
	"github.com/LeventeLantos/patient-messaging/internal/client"
	"github.com/LeventeLantos/patient-messaging/internal/conversation"
	"github.com/LeventeLantos/patient-messaging/internal/intent"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/patient"
	"github.com/LeventeLantos/patient-messaging/internal/provider"
	"github.com/LeventeLantos/patient-messaging/internal/queue"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

const patientPhone = "6281234567890"

type fixture struct {
	store *repo.MemoryStore
	sent  *cache.MemoryCache
	queue *queue.Queue
	d     *Dispatcher
}

type responderFunc func(ctx context.Context, req client.InquiryRequest) (client.InquiryAnswer, error)

func (f responderFunc) Answer(ctx context.Context, req client.InquiryRequest) (client.InquiryAnswer, error) {
	return f(ctx, req)
}

func newFixture(t *testing.T, opts Options, responder InquiryResponder) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := repo.NewMemoryStore()
	repos := store.Repos()
	sent := cache.NewMemoryCache(time.Hour)
	q := queue.New(repos.Queue, 3, log)

	d := NewDispatcher(Deps{
		Repos:      repos,
		Lookup:     patient.NewLookup(repos.Patients, log),
		Classifier: intent.New(),
		Convs:      conversation.NewManager(repos.Conversations, 24*time.Hour, log),
		Sent:       sent,
		Enqueuer:   q,
		Responder:  responder,
	}, opts, log)

	return &fixture{store: store, sent: sent, queue: q, d: d}
}

func (f *fixture) addPatient(status model.VerificationStatus) *model.Patient {
	return f.store.AddPatient(model.Patient{
		Name:               "Siti",
		PhoneNumber:        patientPhone,
		VerificationStatus: status,
		IsActive:           true,
	})
}

func (f *fixture) send(t *testing.T, text string) Outcome {
	t.Helper()
	out, err := f.d.Dispatch(context.Background(), &provider.Message{
		Provider: provider.Gateway,
		ID:       "wamid-" + text,
		Sender:   patientPhone,
		Text:     text,
	})
	require.NoError(t, err)
	return out
}

func activeStates(states []model.ConversationState) int {
	n := 0
	for _, s := range states {
		if s.IsActive {
			n++
		}
	}
	return n
}

func TestDispatch_PendingPatientAccepts(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationPending)

	out := f.send(t, "Ya, saya setuju")

	assert.True(t, out.Processed)
	assert.Equal(t, ActionVerified, out.Action)
	assert.Equal(t, string(intent.Accept), out.Intent)
	assert.Equal(t, p.ID, out.PatientID)

	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationVerified, got.VerificationStatus)
	require.NotNil(t, got.VerificationRespondedAt)

	logs := f.store.VerificationLogs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ResultVerified, logs[0].VerificationResult)
	assert.Equal(t, model.VerificationPending, logs[0].PreviousStatus)

	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageVerificationAck, entries[0].MessageType)
	assert.Equal(t, model.PriorityHigh, entries[0].Priority)
	assert.Equal(t, patientPhone, entries[0].RecipientPhone)

	assert.Equal(t, 0, activeStates(f.store.States(p.ID)))

	msgs := f.store.ConversationMessages(p.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.Inbound, msgs[0].Direction)
	assert.NotNil(t, msgs[0].ProcessedAt)
	assert.Equal(t, model.Outbound, msgs[1].Direction)
}

func TestDispatch_NegatedAcceptDeclines(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationPending)

	out := f.send(t, "tidak setuju")

	assert.Equal(t, ActionDeclined, out.Action)
	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationDeclined, got.VerificationStatus)
}

func TestDispatch_UnclearVerificationReplyAsksAgain(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationPending)

	out := f.send(t, "siapa ini?")

	assert.Equal(t, ActionVerificationUnknown, out.Action)
	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationPending, got.VerificationStatus)

	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageClarification, entries[0].MessageType)

	states := f.store.States(p.ID)
	require.Len(t, states, 1)
	assert.True(t, states[0].IsActive)
	assert.Equal(t, model.ContextVerification, states[0].CurrentContext)
}

func TestDispatch_UnclearVerificationRepliesEscalateAtThreshold(t *testing.T) {
	f := newFixture(t, Options{EscalationThreshold: 3, VolunteerPhones: []string{"6281111111111"}}, nil)
	p := f.addPatient(model.VerificationPending)

	var actions []string
	for _, text := range []string{"siapa ini", "ini nomor siapa", "halo", "maksudnya apa", "saya bingung"} {
		actions = append(actions, f.send(t, text).Action)
	}

	assert.Equal(t, []string{
		ActionVerificationUnknown,
		ActionVerificationUnknown,
		ActionEscalated,
		ActionVerificationUnknown,
		ActionVerificationUnknown,
	}, actions)

	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationPending, got.VerificationStatus)
	assert.Len(t, f.store.VerificationLogs(p.ID), 4)

	alerts := 0
	for _, e := range f.store.QueueEntries() {
		if e.MessageType == model.MessageVolunteerAlert {
			alerts++
			assert.Equal(t, "6281111111111", e.RecipientPhone)
		}
	}
	assert.Equal(t, 1, alerts)
}

func TestDispatch_SettledPatientIsNeverDowngraded(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)

	out := f.send(t, "tidak")

	assert.Equal(t, ActionAlreadySettled, out.Action)
	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationVerified, got.VerificationStatus)
	assert.Empty(t, f.store.QueueEntries())

	logs := f.store.VerificationLogs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionIgnored, logs[0].Action)
	assert.Equal(t, model.ResultSettled, logs[0].VerificationResult)
}

func TestDispatch_UnsubscribeDeactivatesEverything(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)
	f.store.AddSchedule(model.ReminderSchedule{PatientID: p.ID, IsActive: true})
	f.store.AddSchedule(model.ReminderSchedule{PatientID: p.ID, IsActive: true})

	out := f.send(t, "STOP")

	assert.Equal(t, ActionUnsubscribed, out.Action)
	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationUnsubscribed, got.VerificationStatus)
	assert.False(t, got.IsActive)
	for _, sc := range f.store.Schedules(p.ID) {
		assert.False(t, sc.IsActive)
	}
	assert.Equal(t, 0, activeStates(f.store.States(p.ID)))

	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageUnsubscribeAck, entries[0].MessageType)
}

func TestDispatch_ConfirmsPendingReminder(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)
	sentAt := time.Now().UTC().Add(-time.Hour)
	older := f.store.AddReminderLog(model.ReminderLog{PatientID: p.ID, ConfirmationStatus: model.ConfirmationPending, ConfirmationSentAt: &sentAt})
	latestAt := sentAt.Add(30 * time.Minute)
	latest := f.store.AddReminderLog(model.ReminderLog{PatientID: p.ID, ConfirmationStatus: model.ConfirmationPending, ConfirmationSentAt: &latestAt})

	out := f.send(t, "sudah minum obat")

	assert.Equal(t, ActionConfirmed, out.Action)
	for _, l := range f.store.ReminderLogs(p.ID) {
		switch l.ID {
		case latest.ID:
			assert.Equal(t, model.ConfirmationConfirmed, l.ConfirmationStatus)
			require.NotNil(t, l.ConfirmationResponse)
			assert.Equal(t, "sudah minum obat", *l.ConfirmationResponse)
		case older.ID:
			assert.Equal(t, model.ConfirmationPending, l.ConfirmationStatus)
		}
	}

	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.MessageConfirmationAck, entries[0].MessageType)
}

func TestDispatch_LaterKeepsReminderPendingForFollowUp(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)
	r := f.store.AddReminderLog(model.ReminderLog{PatientID: p.ID, ConfirmationStatus: model.ConfirmationPending})

	out := f.send(t, "nanti")

	assert.Equal(t, ActionConfirmationDeferred, out.Action)
	assert.Equal(t, string(intent.ConfirmationLater), out.Intent)
	logs := f.store.ReminderLogs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ConfirmationPending, logs[0].ConfirmationStatus)
	assert.Nil(t, logs[0].ConfirmationResponse)
	assert.Equal(t, 1, activeStates(f.store.States(p.ID)))

	out = f.send(t, "sudah")

	assert.Equal(t, ActionConfirmed, out.Action)
	logs = f.store.ReminderLogs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, r.ID, logs[0].ID)
	assert.Equal(t, model.ConfirmationConfirmed, logs[0].ConfirmationStatus)
	require.NotNil(t, logs[0].ConfirmationResponse)
	assert.Equal(t, "sudah", *logs[0].ConfirmationResponse)
	assert.Zero(t, activeStates(f.store.States(p.ID)))

	var inbound []string
	for _, m := range f.store.ConversationMessages(p.ID) {
		if m.Direction == model.Inbound {
			inbound = append(inbound, m.Content)
		}
	}
	assert.Equal(t, []string{"nanti", "sudah"}, inbound)
	assert.Len(t, f.store.QueueEntries(), 2)
}

type failingReminders struct {
	repo.ReminderRepository
	err error
}

func (r *failingReminders) Confirm(ctx context.Context, id string, status model.ConfirmationStatus, response string, at time.Time) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.ReminderRepository.Confirm(ctx, id, status, response, at)
}

func TestDispatch_HandlerFailureLeavesConversationUntouched(t *testing.T) {
	log := zap.NewNop()
	store := repo.NewMemoryStore()
	repos := store.Repos()
	reminders := &failingReminders{ReminderRepository: repos.Reminders, err: errors.New("connection reset")}
	repos.Reminders = reminders
	d := NewDispatcher(Deps{
		Repos:      repos,
		Lookup:     patient.NewLookup(repos.Patients, log),
		Classifier: intent.New(),
		Convs:      conversation.NewManager(repos.Conversations, 24*time.Hour, log),
		Sent:       cache.NewMemoryCache(time.Hour),
		Enqueuer:   queue.New(repos.Queue, 3, log),
	}, Options{}, log)

	p := store.AddPatient(model.Patient{PhoneNumber: patientPhone, VerificationStatus: model.VerificationVerified, IsActive: true})
	store.AddReminderLog(model.ReminderLog{PatientID: p.ID, ConfirmationStatus: model.ConfirmationPending})
	msg := &provider.Message{Provider: provider.Gateway, ID: "wamid-retry", Sender: patientPhone, Text: "sudah"}

	_, err := d.Dispatch(context.Background(), msg)
	require.Error(t, err)
	assert.Empty(t, store.States(p.ID))
	assert.Empty(t, store.ConversationMessages(p.ID))

	reminders.err = nil
	out, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ActionConfirmed, out.Action)

	states := store.States(p.ID)
	require.Len(t, states, 1)
	assert.Equal(t, 1, states[0].MessageCount)
}

func TestDispatch_YesAnswersPendingReminder(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)
	r := f.store.AddReminderLog(model.ReminderLog{PatientID: p.ID, ConfirmationStatus: model.ConfirmationPending})

	out := f.send(t, "ya")

	assert.Equal(t, ActionConfirmed, out.Action)
	logs := f.store.ReminderLogs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, r.ID, logs[0].ID)
	assert.Equal(t, model.ConfirmationConfirmed, logs[0].ConfirmationStatus)
	assert.Empty(t, f.store.VerificationLogs(p.ID))
}

func TestDispatch_ConfirmationWithoutReminder(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	p := f.addPatient(model.VerificationVerified)

	out := f.send(t, "sudah")

	assert.True(t, out.Processed)
	assert.Equal(t, ActionNoPendingConfirmation, out.Action)
	assert.Empty(t, f.store.QueueEntries())
	assert.Empty(t, f.store.ReminderLogs(p.ID))
}

func TestDispatch_EmergencyAlertsVolunteers(t *testing.T) {
	f := newFixture(t, Options{VolunteerPhones: []string{"081111111111", "+62 822 2222 2222"}}, nil)
	p := f.addPatient(model.VerificationPending)

	out := f.send(t, "tolong, bapak saya sesak napas")

	assert.Equal(t, ActionEmergency, out.Action)
	got, _ := f.store.Patient(p.ID)
	assert.Equal(t, model.VerificationPending, got.VerificationStatus)

	entries := f.store.QueueEntries()
	require.Len(t, entries, 3)
	recipients := map[string]model.MessageType{}
	for _, e := range entries {
		assert.Equal(t, model.PriorityUrgent, e.Priority)
		recipients[e.RecipientPhone] = e.MessageType
	}
	assert.Equal(t, model.MessageVolunteerAlert, recipients["6281111111111"])
	assert.Equal(t, model.MessageVolunteerAlert, recipients["6282222222222"])
	assert.Equal(t, model.MessageEmergencyAck, recipients[patientPhone])

	states := f.store.States(p.ID)
	require.Len(t, states, 1)
	assert.Equal(t, model.ContextEmergency, states[0].CurrentContext)
}

func TestDispatch_UnknownStreakEscalates(t *testing.T) {
	f := newFixture(t, Options{EscalationThreshold: 3, VolunteerPhones: []string{"6281111111111"}}, nil)
	f.addPatient(model.VerificationVerified)

	assert.Equal(t, ActionInquiryReplied, f.send(t, "jadwal kontrol kapan?").Action)
	assert.Equal(t, ActionInquiryReplied, f.send(t, "obatnya apa saja").Action)
	assert.Equal(t, ActionEscalated, f.send(t, "halo?").Action)
	assert.Equal(t, ActionInquiryReplied, f.send(t, "terima kasih infonya").Action)
}

func TestDispatch_InquiryResponder(t *testing.T) {
	conf := 87
	var got client.InquiryRequest
	f := newFixture(t, Options{}, responderFunc(func(_ context.Context, req client.InquiryRequest) (client.InquiryAnswer, error) {
		got = req
		return client.InquiryAnswer{Reply: "Kontrol berikutnya hari Senin.", Confidence: &conf}, nil
	}))
	p := f.addPatient(model.VerificationVerified)

	out := f.send(t, "kapan jadwal kontrol?")

	assert.Equal(t, ActionInquiryReplied, out.Action)
	assert.Equal(t, p.ID, got.PatientID)
	assert.Equal(t, string(model.ContextGeneralInquiry), got.Context)

	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Kontrol berikutnya hari Senin.", entries[0].Content)

	msgs := f.store.ConversationMessages(p.ID)
	require.NotEmpty(t, msgs)
	require.NotNil(t, msgs[0].Confidence)
	assert.Equal(t, 87, *msgs[0].Confidence)
}

func TestDispatch_InquiryResponderFailureFallsBack(t *testing.T) {
	f := newFixture(t, Options{}, responderFunc(func(context.Context, client.InquiryRequest) (client.InquiryAnswer, error) {
		return client.InquiryAnswer{}, errors.New("upstream timeout")
	}))
	f.addPatient(model.VerificationVerified)

	out := f.send(t, "kapan jadwal kontrol?")

	assert.Equal(t, ActionInquiryReplied, out.Action)
	entries := f.store.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, inquiryFallbackText(), entries[0].Content)
	assert.NotContains(t, entries[0].Content, "timeout")
}

func TestDispatch_UnknownSenderIgnored(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	out := f.send(t, "ya")

	assert.False(t, out.Processed)
	assert.Equal(t, ActionIgnored, out.Action)
	assert.Equal(t, "no_patient_match", out.Reason)
	assert.Zero(t, f.store.Writes())
}

func TestDispatch_AutoOnboardCreatesStub(t *testing.T) {
	f := newFixture(t, Options{AutoOnboard: true}, nil)

	out := f.send(t, "halo")

	assert.True(t, out.Processed)
	assert.Equal(t, ActionVerificationUnknown, out.Action)
	ps := f.store.Patients()
	require.Len(t, ps, 1)
	assert.True(t, ps[0].Onboarding)
	assert.Equal(t, model.VerificationPending, ps[0].VerificationStatus)
}

func TestDispatch_IgnoredEvent(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	out, err := f.d.Dispatch(context.Background(), &provider.Ignored{Provider: provider.BridgeB, Reason: provider.ReasonGroupMessage})
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)
	assert.Equal(t, string(provider.ReasonGroupMessage), out.Reason)
	assert.Zero(t, f.store.Writes())
}

func TestHandleAck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, nil)

	m, err := f.queue.Enqueue(ctx, queue.Request{Phone: patientPhone, Content: "pengingat"})
	require.NoError(t, err)
	require.NoError(t, f.sent.StoreSent(ctx, m.ID, "remote-1", time.Now()))

	t.Run("delivered", func(t *testing.T) {
		out, err := f.d.Dispatch(ctx, &provider.Ack{MessageIDs: []string{"remote-1"}, Status: model.DeliveryDelivered})
		require.NoError(t, err)
		assert.Equal(t, ActionDeliveryUpdated, out.Action)

		entries := f.store.QueueEntries()
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].DeliveryStatus)
		assert.Equal(t, model.DeliveryDelivered, *entries[0].DeliveryStatus)
	})

	t.Run("sent receipt does not downgrade", func(t *testing.T) {
		out, err := f.d.Dispatch(ctx, &provider.Ack{MessageIDs: []string{"remote-1"}, Status: model.DeliverySent})
		require.NoError(t, err)
		assert.True(t, out.Processed)

		entries := f.store.QueueEntries()
		assert.Equal(t, model.DeliveryDelivered, *entries[0].DeliveryStatus)
	})

	t.Run("unknown message", func(t *testing.T) {
		out, err := f.d.Dispatch(ctx, &provider.Ack{MessageIDs: []string{"remote-404"}, Status: model.DeliveryFailed})
		require.NoError(t, err)
		assert.Equal(t, ActionIgnored, out.Action)
		assert.Equal(t, ReasonUnknownMessage, out.Reason)
	})
}

package repo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

// MemoryStore keeps every repository in process memory. It backs STORE_DRIVER=memory
// and tests; all views share one lock.
type MemoryStore struct {
	mu sync.Mutex

	patients      map[string]*model.Patient
	schedules     map[string]*model.ReminderSchedule
	reminders     map[string]*model.ReminderLog
	states        map[string]*model.ConversationState
	messages      []*model.ConversationMessage
	verifications []model.VerificationLog
	queue         map[string]*model.Message

	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:  map[string]*model.Patient{},
		schedules: map[string]*model.ReminderSchedule{},
		reminders: map[string]*model.ReminderLog{},
		states:    map[string]*model.ConversationState{},
		queue:     map[string]*model.Message{},
	}
}

func (s *MemoryStore) Repos() Repos {
	return Repos{
		Patients:      memPatients{s},
		Conversations: memConversations{s},
		Verifications: memVerifications{s},
		Reminders:     memReminders{s},
		Queue:         memQueue{s},
	}
}

// Writes counts every mutation applied through the repositories.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Seeding and inspection.

func (s *MemoryStore) AddPatient(p model.Patient) *model.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.patients[p.ID] = &p
	cp := p
	return &cp
}

func (s *MemoryStore) AddSchedule(sc model.ReminderSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	s.schedules[sc.ID] = &sc
}

func (s *MemoryStore) AddReminderLog(l model.ReminderLog) *model.ReminderLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.reminders[l.ID] = &l
	cp := l
	return &cp
}

func (s *MemoryStore) Patient(id string) (model.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return model.Patient{}, false
	}
	return *p, true
}

func (s *MemoryStore) Patients() []model.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, *p)
	}
	return out
}

func (s *MemoryStore) Schedules(patientID string) []model.ReminderSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReminderSchedule
	for _, sc := range s.schedules {
		if sc.PatientID == patientID {
			out = append(out, *sc)
		}
	}
	return out
}

func (s *MemoryStore) ReminderLogs(patientID string) []model.ReminderLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReminderLog
	for _, l := range s.reminders {
		if l.PatientID == patientID {
			out = append(out, *l)
		}
	}
	return out
}

func (s *MemoryStore) VerificationLogs(patientID string) []model.VerificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VerificationLog
	for _, l := range s.verifications {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	return out
}

func (s *MemoryStore) ConversationMessages(patientID string) []model.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationMessage
	for _, m := range s.messages {
		if m.PatientID == patientID {
			out = append(out, *m)
		}
	}
	return out
}

func (s *MemoryStore) States(patientID string) []model.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationState
	for _, st := range s.states {
		if st.PatientID == patientID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) QueueEntries() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0, len(s.queue))
	for _, m := range s.queue {
		out = append(out, *m)
	}
	sortQueue(out)
	return out
}

func sortQueue(ms []model.Message) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].PriorityScore != ms[j].PriorityScore {
			return ms[i].PriorityScore < ms[j].PriorityScore
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}

type memPatients struct{ s *MemoryStore }

func (r memPatients) FindByPhones(_ context.Context, phones []string) (*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *model.Patient
	for _, p := range r.s.patients {
		if p.DeletedAt != nil || !slices.Contains(phones, p.PhoneNumber) {
			continue
		}
		if best == nil ||
			(p.IsActive && !best.IsActive) ||
			(p.IsActive == best.IsActive && p.CreatedAt.Before(best.CreatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r memPatients) Get(_ context.Context, id string) (*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memPatients) Create(_ context.Context, p *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.patients {
		if existing.DeletedAt == nil && existing.PhoneNumber == p.PhoneNumber {
			return ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.s.patients[p.ID] = &cp
	r.s.writes++
	return nil
}

func (r memPatients) SetVerificationStatus(_ context.Context, id string, from, to model.VerificationStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok || p.DeletedAt != nil || p.VerificationStatus != from {
		return false, nil
	}
	p.VerificationStatus = to
	p.VerificationRespondedAt = &at
	p.UpdatedAt = at
	r.s.writes++
	return true, nil
}

func (r memPatients) Unsubscribe(_ context.Context, id string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok || p.DeletedAt != nil {
		return 0, ErrNotFound
	}
	p.VerificationStatus = model.VerificationUnsubscribed
	p.IsActive = false
	p.VerificationRespondedAt = &at
	p.UpdatedAt = at

	var schedules int64
	for _, sc := range r.s.schedules {
		if sc.PatientID == id && sc.IsActive {
			sc.IsActive = false
			sc.UpdatedAt = at
			schedules++
		}
	}
	for _, st := range r.s.states {
		if st.PatientID == id && st.IsActive {
			st.IsActive = false
			st.UpdatedAt = at
		}
	}
	r.s.writes++
	return schedules, nil
}

type memConversations struct{ s *MemoryStore }

func (r memConversations) ActiveState(_ context.Context, patientID string) (*model.ConversationState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.states {
		if st.PatientID == patientID && st.IsActive {
			cp := *st
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memConversations) CreateState(_ context.Context, st *model.ConversationState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	st.UpdatedAt = st.CreatedAt
	st.IsActive = true
	for _, existing := range r.s.states {
		if existing.PatientID == st.PatientID && existing.IsActive {
			existing.IsActive = false
			existing.UpdatedAt = st.CreatedAt
		}
	}
	cp := *st
	r.s.states[st.ID] = &cp
	r.s.writes++
	return nil
}

func (r memConversations) UpdateState(_ context.Context, st *model.ConversationState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.states[st.ID]
	if !ok {
		return ErrNotFound
	}
	existing.ExpectedResponseType = st.ExpectedResponseType
	existing.MessageCount = st.MessageCount
	existing.UnknownStreak = st.UnknownStreak
	existing.ExpiresAt = st.ExpiresAt
	existing.IsActive = st.IsActive
	existing.UpdatedAt = st.UpdatedAt
	r.s.writes++
	return nil
}

func (r memConversations) DeactivateStates(_ context.Context, patientID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, st := range r.s.states {
		if st.PatientID == patientID && st.IsActive {
			st.IsActive = false
			st.UpdatedAt = at
			n++
		}
	}
	if n > 0 {
		r.s.writes++
	}
	return n, nil
}

func (r memConversations) ExpireStates(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, st := range r.s.states {
		if st.IsActive && !now.Before(st.ExpiresAt) {
			st.IsActive = false
			st.UpdatedAt = now
			n++
		}
	}
	if n > 0 {
		r.s.writes++
	}
	return n, nil
}

func (r memConversations) AppendMessage(_ context.Context, m *model.ConversationMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	r.s.messages = append(r.s.messages, &cp)
	r.s.writes++
	return nil
}

func (r memConversations) MarkProcessed(_ context.Context, messageID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == messageID && m.ProcessedAt == nil {
			m.ProcessedAt = &at
			r.s.writes++
			return nil
		}
	}
	return nil
}

type memVerifications struct{ s *MemoryStore }

func (r memVerifications) Append(_ context.Context, l *model.VerificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	r.s.verifications = append(r.s.verifications, *l)
	r.s.writes++
	return nil
}

type memReminders struct{ s *MemoryStore }

func (r memReminders) LatestPending(_ context.Context, patientID string) (*model.ReminderLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.ReminderLog
	for _, l := range r.s.reminders {
		if l.PatientID != patientID || l.ConfirmationStatus != model.ConfirmationPending {
			continue
		}
		if best == nil || sentAfter(l, best) {
			best = l
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// sentAfter orders by confirmation send time, unsent rows last, then by creation.
func sentAfter(a, b *model.ReminderLog) bool {
	switch {
	case a.ConfirmationSentAt != nil && b.ConfirmationSentAt == nil:
		return true
	case a.ConfirmationSentAt == nil && b.ConfirmationSentAt != nil:
		return false
	case a.ConfirmationSentAt != nil && !a.ConfirmationSentAt.Equal(*b.ConfirmationSentAt):
		return a.ConfirmationSentAt.After(*b.ConfirmationSentAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (r memReminders) Confirm(_ context.Context, id string, status model.ConfirmationStatus, response string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.reminders[id]
	if !ok || l.ConfirmationStatus != model.ConfirmationPending {
		return false, nil
	}
	l.ConfirmationStatus = status
	l.ConfirmationResponse = &response
	l.ConfirmationResponseAt = &at
	r.s.writes++
	return true, nil
}

type memQueue struct{ s *MemoryStore }

func (r memQueue) Enqueue(_ context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
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
	cp := *m
	r.s.queue[m.ID] = &cp
	r.s.writes++
	return nil
}

func (r memQueue) ClaimDue(_ context.Context, limit int, now time.Time) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []model.Message
	for _, m := range r.s.queue {
		if m.Status == model.Pending && (m.NextRetryAt == nil || !m.NextRetryAt.After(now)) {
			due = append(due, *m)
		}
	}
	sortQueue(due)
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m := r.s.queue[due[i].ID]
		m.Status = model.Processing
		m.UpdatedAt = now
		due[i] = *m
	}
	if len(due) > 0 {
		r.s.writes++
	}
	return due, nil
}

func (r memQueue) claimed(id string) *model.Message {
	m, ok := r.s.queue[id]
	if !ok || m.Status != model.Processing {
		return nil
	}
	return m
}

func (r memQueue) MarkCompleted(_ context.Context, id string, remoteMessageID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.claimed(id)
	if m == nil {
		return nil
	}
	sent := model.DeliverySent
	m.Status = model.Completed
	m.SentAt = &at
	if remoteMessageID != "" {
		m.RemoteMessageID = &remoteMessageID
	}
	m.DeliveryStatus = &sent
	m.LastError = nil
	m.UpdatedAt = at
	r.s.writes++
	return nil
}

func (r memQueue) MarkRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.claimed(id)
	if m == nil {
		return nil
	}
	m.Status = model.Pending
	m.RetryCount = retryCount
	m.NextRetryAt = &nextRetryAt
	m.LastError = &errMsg
	m.UpdatedAt = time.Now().UTC()
	r.s.writes++
	return nil
}

func (r memQueue) MarkFailed(_ context.Context, id string, retryCount int, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.claimed(id)
	if m == nil {
		return nil
	}
	m.Status = model.Failed
	m.RetryCount = retryCount
	m.NextRetryAt = nil
	m.LastError = &errMsg
	m.UpdatedAt = time.Now().UTC()
	r.s.writes++
	return nil
}

func (r memQueue) UpdateDeliveryStatus(_ context.Context, id string, status model.DeliveryStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.queue[id]
	if !ok {
		return ErrNotFound
	}
	m.DeliveryStatus = &status
	m.UpdatedAt = time.Now().UTC()
	r.s.writes++
	return nil
}

func (r memQueue) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.queue {
		if m.Status == model.Processing && m.UpdatedAt.Before(olderThan) {
			m.Status = model.Pending
			m.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	if n > 0 {
		r.s.writes++
	}
	return n, nil
}

func (r memQueue) List(_ context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	limit, offset = normalizePage(limit, offset)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Message
	for _, m := range r.s.queue {
		if status == "" || m.Status == status {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memQueue) Stats(_ context.Context) (map[model.Status]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.Status]int{}
	for _, m := range r.s.queue {
		out[m.Status]++
	}
	return out, nil
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
	"github.com/LeventeLantos/patient-messaging/internal/scheduler"
)

// SchedulerControl is implemented by *scheduler.Group.
type SchedulerControl interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Status() []scheduler.Status
}

// Check pings one dependency for the health endpoint.
type Check func(ctx context.Context) error

type Handler struct {
	sched  SchedulerControl
	queue  repo.QueueRepository
	checks map[string]Check
	log    *zap.Logger
}

func NewHandler(s SchedulerControl, q repo.QueueRepository, log *zap.Logger) *Handler {
	return &Handler{sched: s, queue: q, checks: map[string]Check{}, log: log}
}

// WithCheck registers a dependency check reported by /v1/health.
func (h *Handler) WithCheck(name string, c Check) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": results})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeScheduler(w)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	h.writeScheduler(w)
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.writeScheduler(w)
}

func (h *Handler) writeScheduler(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.sched.IsRunning(),
		"jobs":    h.sched.Status(),
	})
}

type queueItem struct {
	ID             string                `json:"id"`
	PatientID      *string               `json:"patientId,omitempty"`
	RecipientPhone string                `json:"recipientPhone"`
	MessageType    model.MessageType     `json:"messageType"`
	Priority       model.Priority        `json:"priority"`
	PriorityScore  int                   `json:"priorityScore"`
	Status         model.Status          `json:"status"`
	RetryCount     int                   `json:"retryCount"`
	MaxRetries     int                   `json:"maxRetries"`
	NextRetryAt    *time.Time            `json:"nextRetryAt,omitempty"`
	LastError      *string               `json:"lastError,omitempty"`
	RemoteID       *string               `json:"remoteMessageId,omitempty"`
	DeliveryStatus *model.DeliveryStatus `json:"deliveryStatus,omitempty"`
	SentAt         *time.Time            `json:"sentAt,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
}

func toQueueItem(m model.Message) queueItem {
	return queueItem{
		ID:             m.ID,
		PatientID:      m.PatientID,
		RecipientPhone: m.RecipientPhone,
		MessageType:    m.MessageType,
		Priority:       m.Priority,
		PriorityScore:  m.PriorityScore,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		NextRetryAt:    m.NextRetryAt,
		LastError:      m.LastError,
		RemoteID:       m.RemoteMessageID,
		DeliveryStatus: m.DeliveryStatus,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
	}
}

func validStatus(s model.Status) bool {
	switch s {
	case "", model.Pending, model.Processing, model.Completed, model.Failed:
		return true
	}
	return false
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.Status(q.Get("status"))
	if !validStatus(status) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid status"})
		return
	}
	limit := parseInt(q.Get("limit"), 50)
	offset := parseInt(q.Get("offset"), 0)

	msgs, err := h.queue.List(r.Context(), status, limit, offset)
	if err != nil {
		h.log.Error("list queue failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	items := make([]queueItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toQueueItem(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.log.Error("queue stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/apperr"
	"github.com/LeventeLantos/patient-messaging/internal/ctxutil"
	"github.com/LeventeLantos/patient-messaging/internal/idempotency"
	"github.com/LeventeLantos/patient-messaging/internal/provider"
	"github.com/LeventeLantos/patient-messaging/internal/ratelimit"
	"github.com/LeventeLantos/patient-messaging/internal/service"
)

const maxWebhookBody = 1 << 20

type Dispatcher interface {
	Dispatch(ctx context.Context, ev provider.Event) (service.Outcome, error)
}

// WebhookHandler serves /webhooks/{provider}. Each request runs, in order: IP limit,
// body read, authentication, normalization, idempotency claim, sender limit, dispatch.
type WebhookHandler struct {
	registry   *provider.Registry
	dispatcher Dispatcher
	guard      *idempotency.Guard
	ipLimit    *ratelimit.Limiter
	phoneLimit *ratelimit.Limiter
	log        *zap.Logger
	now        func() time.Time
}

func NewWebhookHandler(
	registry *provider.Registry,
	dispatcher Dispatcher,
	guard *idempotency.Guard,
	ipLimit, phoneLimit *ratelimit.Limiter,
	log *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		registry:   registry,
		dispatcher: dispatcher,
		guard:      guard,
		ipLimit:    ipLimit,
		phoneLimit: phoneLimit,
		log:        log,
		now:        time.Now,
	}
}

type webhookResponse struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
	*service.Outcome
}

func (h *WebhookHandler) Ping(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	if _, ok := h.registry.Lookup(name); !ok {
		writeJSON(w, http.StatusNotFound, webhookResponse{Error: "unknown provider"})
		return
	}
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", "ping", "test":
	default:
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "unsupported mode"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": name, "mode": mode})
}

// retryAfterSeconds rounds up so a sub-second wait is never advertised as 0.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := ctxutil.Logger(ctx, h.log)

	adapter, ok := h.registry.Lookup(mux.Vars(r)["provider"])
	if !ok {
		writeJSON(w, http.StatusNotFound, webhookResponse{Error: "unknown provider"})
		return
	}

	if ip := ctxutil.RequestFrom(ctx).ClientIP; ip != "" && h.ipLimit != nil {
		if d := h.ipLimit.Allow(ctx, ip); !d.Allowed {
			log.Warn("webhook rate limited by client ip")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			h.fail(w, apperr.New(apperr.RateLimited, "too many requests"))
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.fail(w, apperr.Wrap(apperr.InvalidPayload, "read body", err))
		return
	}

	if err := adapter.Authenticate(r.Header, body, h.now()); err != nil {
		log.Warn("webhook authentication failed", zap.Error(err))
		h.fail(w, err)
		return
	}

	ev, err := adapter.Normalize(body, r.Header)
	if err != nil {
		log.Info("webhook payload rejected", zap.Error(err))
		h.fail(w, err)
		return
	}

	if ig, ok := ev.(*provider.Ignored); ok {
		log.Debug("webhook event ignored", zap.String("reason", string(ig.Reason)), zap.String("detail", ig.Detail))
		h.respond(ctx, w, ev)
		return
	}

	key := eventKey(adapter.Name(), ev)
	if !h.guard.Acquire(ctx, key) {
		log.Info("duplicate webhook event", zap.String("key", key))
		writeJSON(w, http.StatusOK, webhookResponse{
			OK:        true,
			Duplicate: true,
			Outcome:   &service.Outcome{Action: service.ActionDuplicate},
		})
		return
	}

	if m, ok := ev.(*provider.Message); ok && h.phoneLimit != nil {
		if d := h.phoneLimit.Allow(ctx, m.Sender); !d.Allowed {
			log.Warn("webhook message dropped by sender rate limit", zap.String("sender", m.Sender))
			writeJSON(w, http.StatusOK, webhookResponse{
				OK:      true,
				Outcome: &service.Outcome{Action: service.ActionRateLimited, Reason: string(apperr.RateLimited)},
			})
			return
		}
	}

	out, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		if apperr.KindOf(err) == apperr.InternalFault {
			h.guard.Release(ctx, key)
			log.Error("webhook processing failed", zap.String("key", key), zap.Error(err))
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{OK: true, Outcome: &out})
}

// respond dispatches events that skip the idempotency claim.
func (h *WebhookHandler) respond(ctx context.Context, w http.ResponseWriter, ev provider.Event) {
	out, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{OK: true, Outcome: &out})
}

// fail maps err onto the provider-facing response. Locally recovered kinds answer 200
// so the provider does not redeliver; internal detail is never echoed.
func (h *WebhookHandler) fail(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status == http.StatusOK {
		writeJSON(w, status, webhookResponse{OK: true, Outcome: &service.Outcome{Action: service.ActionIgnored, Reason: string(kind)}})
		return
	}

	msg := string(kind)
	var ae *apperr.Error
	if kind != apperr.InternalFault && errors.As(err, &ae) {
		msg = ae.Msg
	}
	writeJSON(w, status, webhookResponse{Error: msg})
}

func eventKey(p provider.Name, ev provider.Event) string {
	switch e := ev.(type) {
	case *provider.Message:
		return idempotency.Key(string(p), idempotency.Incoming, idempotency.Fingerprint(e.ID, e.Sender, e.Timestamp, e.Text))
	case *provider.Ack:
		ids := strings.Join(e.MessageIDs, ",")
		return idempotency.Key(string(p), idempotency.MessageAck, idempotency.Fingerprint(ids, string(e.Status), e.Timestamp, ""))
	}
	return ""
}

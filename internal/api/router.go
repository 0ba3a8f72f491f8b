package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func Router(h *Handler, wh *WebhookHandler, proxies TrustedProxies, log *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(requestContext(proxies), loggingMiddleware(log))

	r.HandleFunc("/v1/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/v1/scheduler/status", h.SchedulerStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/scheduler/start", h.SchedulerStart).Methods(http.MethodPost)
	r.HandleFunc("/v1/scheduler/stop", h.SchedulerStop).Methods(http.MethodPost)

	r.HandleFunc("/v1/queue", h.ListQueue).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/stats", h.QueueStats).Methods(http.MethodGet)

	if wh != nil {
		r.HandleFunc("/webhooks/{provider}", wh.Receive).Methods(http.MethodPost)
		r.HandleFunc("/webhooks/{provider}", wh.Ping).Methods(http.MethodGet)
	}

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("patient-messaging"))
	}).Methods(http.MethodGet)

	return r
}

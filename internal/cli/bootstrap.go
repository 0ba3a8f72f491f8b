package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/api"
	"github.com/LeventeLantos/patient-messaging/internal/cache"
	"github.com/LeventeLantos/patient-messaging/internal/client"
	"github.com/LeventeLantos/patient-messaging/internal/config"
	"github.com/LeventeLantos/patient-messaging/internal/conversation"
	"github.com/LeventeLantos/patient-messaging/internal/idempotency"
	"github.com/LeventeLantos/patient-messaging/internal/intent"
	"github.com/LeventeLantos/patient-messaging/internal/logger"
	"github.com/LeventeLantos/patient-messaging/internal/patient"
	"github.com/LeventeLantos/patient-messaging/internal/provider"
	"github.com/LeventeLantos/patient-messaging/internal/queue"
	"github.com/LeventeLantos/patient-messaging/internal/ratelimit"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
	"github.com/LeventeLantos/patient-messaging/internal/scheduler"
	"github.com/LeventeLantos/patient-messaging/internal/service"
)

const serviceName = "patient-messaging"

// sweepInterval drives the conversation expiry job.
const sweepInterval = time.Minute

// App holds the wired process dependencies.
type App struct {
	Config *config.Config
	Log    *zap.Logger

	DB    *sql.DB
	Redis *redis.Client
	Cache cache.Cache
	Repos repo.Repos

	Convs      *conversation.Manager
	Queue      *queue.Queue
	Worker     *queue.Worker
	Dispatcher *service.Dispatcher
	Schedulers *scheduler.Group
}

// Bootstrap loads configuration and wires storage, the pipeline and the background jobs.
func Bootstrap(ctx context.Context) (*App, error) {
	cfg, err := config.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	app := &App{Config: cfg, Log: log}
	if err := app.openStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Database.Driver {
	case config.DriverMemory:
		a.Log.Warn("using in-memory store, data is lost on restart")
		a.Repos = repo.NewMemoryStore().Repos()
	default:
		db, err := repo.OpenPostgres(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		a.DB = db
		a.Repos = repo.NewPostgres(db)
	}

	if !cfg.Redis.Enabled {
		a.Log.Warn("REDIS_ADDR not set, idempotency and rate limits are process-local")
		a.Cache = cache.NewMemoryCache(cfg.Redis.TTL)
		return nil
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Cache = cache.NewRedisCache(a.Redis, cfg.Redis.TTL)
	return nil
}

func (a *App) wire() error {
	cfg := a.Config
	log := a.Log

	sendClient, err := client.NewSendClient(client.Config{
		Provider:    cfg.Outbound.Provider,
		BaseURL:     cfg.Outbound.URL,
		Token:       cfg.Outbound.Token,
		Session:     cfg.Outbound.Session,
		CountryCode: cfg.Outbound.CountryCode,
		Timeout:     10 * time.Second,
		RetryCount:  1,
	}, log.Named("send"))
	if err != nil {
		return err
	}

	a.Queue = queue.New(a.Repos.Queue, cfg.Queue.MaxRetries, log.Named("queue"))
	a.Worker = queue.NewWorker(a.Repos.Queue, sendClient, a.Cache, queue.WorkerConfig{
		BatchSize:  cfg.Scheduler.BatchSize,
		ContentMax: cfg.Outbound.ContentMax,
		Backoff:    queue.Backoff{Base: cfg.Queue.BackoffBase, Max: cfg.Queue.BackoffMax},
		StaleAfter: cfg.Queue.StaleClaim,
	}, log.Named("worker"))

	a.Convs = conversation.NewManager(a.Repos.Conversations, cfg.Conversation.TTL, log.Named("conversation"))

	var responder service.InquiryResponder
	if cfg.Inquiry.URL != "" {
		responder = client.NewInquiryClient(cfg.Inquiry.URL, cfg.Inquiry.Timeout, log.Named("inquiry"))
	}

	a.Dispatcher = service.NewDispatcher(service.Deps{
		Repos:      a.Repos,
		Lookup:     patient.NewLookup(a.Repos.Patients, log.Named("patient")),
		Classifier: intent.New(),
		Convs:      a.Convs,
		Sent:       a.Cache,
		Enqueuer:   a.Queue,
		Responder:  responder,
	}, service.Options{
		AutoOnboard:         cfg.Conversation.AutoOnboard,
		EscalationThreshold: cfg.Conversation.UnknownEscalation,
		VolunteerPhones:     cfg.Conversation.VolunteerPhones,
	}, log.Named("dispatcher"))

	worker, err := scheduler.New("queue-worker", cfg.Scheduler.Interval, a.Worker.Tick, log)
	if err != nil {
		return err
	}
	sweep, err := scheduler.New("conversation-sweep", sweepInterval, func(ctx context.Context) {
		if _, err := a.Convs.SweepExpired(ctx); err != nil {
			log.Error("conversation sweep failed", zap.Error(err))
		}
	}, log)
	if err != nil {
		return err
	}
	a.Schedulers = scheduler.NewGroup(worker, sweep)
	return nil
}

// Handler builds the HTTP surface: webhooks, health and operator endpoints.
func (a *App) Handler() http.Handler {
	cfg := a.Config
	log := a.Log.Named("http")

	auth := func(p config.ProviderAuth) provider.Authenticator {
		return provider.Authenticator{Token: p.Token, HMACSecret: p.HMACSecret, MaxSkew: cfg.Webhooks.MaxSkew}
	}
	registry := provider.NewRegistry(
		provider.NewGatewayAdapter(auth(cfg.Webhooks.Gateway)),
		provider.NewBridgeBAdapter(auth(cfg.Webhooks.BridgeB)),
		provider.NewBridgeCAdapter(auth(cfg.Webhooks.BridgeC)),
	)

	wh := api.NewWebhookHandler(
		registry,
		a.Dispatcher,
		idempotency.NewGuard(a.Cache, cfg.Webhooks.IdempotencyTTL, log),
		ratelimit.New(a.Cache, "ip", cfg.RateLimit.IPMax, cfg.RateLimit.IPWindow, log),
		ratelimit.New(a.Cache, "phone", cfg.RateLimit.PhoneMax, cfg.RateLimit.PhoneWindow, log),
		log,
	)

	h := api.NewHandler(a.Schedulers, a.Repos.Queue, log)
	if a.DB != nil {
		h.WithCheck("database", a.DB.PingContext)
	}
	if a.Redis != nil {
		h.WithCheck("redis", func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}
	return api.Router(h, wh, api.TrustedProxies(cfg.Server.TrustedProxies), log)
}

// Close stops the background jobs and releases storage connections.
func (a *App) Close() {
	if a.Schedulers != nil {
		a.Schedulers.Stop()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.Log.Warn("close storage", zap.Error(err))
	}
	_ = a.Log.Sync()
}

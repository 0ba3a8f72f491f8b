package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/repo"
)

type Stats struct {
	Claimed  int
	Sent     int
	Retried  int
	Failed   int
	Released int64
}

// Worker drains due queue entries. Several workers may run against one store; the
// claim step hands each entry to exactly one of them.
type Worker struct {
	entries    repo.QueueRepository
	client     SendClient
	contentMax int
	sentCache  cache.MessageCache
	backoff    Backoff
	batchSize  int
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

type WorkerConfig struct {
	BatchSize  int
	ContentMax int
	Backoff    Backoff
	StaleAfter time.Duration
}

func NewWorker(entries repo.QueueRepository, client SendClient, sentCache cache.MessageCache, cfg WorkerConfig, log *zap.Logger) *Worker {
	w := &Worker{
		entries:    entries,
		client:     client,
		contentMax: cfg.ContentMax,
		sentCache:  sentCache,
		backoff:    cfg.Backoff,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		log:        log,
		now:        time.Now,
	}
	return w
}

// RunOnce claims one batch and attempts every entry in it.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	msgs, err := w.entries.ClaimDue(ctx, w.batchSize, w.now().UTC())
	if err != nil {
		return Stats{}, fmt.Errorf("claim due messages: %w", err)
	}
	if len(msgs) == 0 {
		return Stats{}, nil
	}

	b := &batch{w: w, stats: Stats{Claimed: len(msgs)}}
	b.stats.Sent, _ = NewSender(w.client, w.contentMax).WithHooks(w.onSent, b.onFailed).ProcessBatch(ctx, msgs)
	st := b.stats

	w.log.Info("queue batch processed",
		zap.Int("claimed", st.Claimed),
		zap.Int("sent", st.Sent),
		zap.Int("retried", st.Retried),
		zap.Int("failed", st.Failed),
	)
	return st, nil
}

// Tick is the scheduler entrypoint: release abandoned claims, then drain one batch.
func (w *Worker) Tick(ctx context.Context) {
	if w.staleAfter > 0 {
		if n, err := w.ReleaseStale(ctx); err != nil {
			w.log.Error("release stale claims failed", zap.Error(err))
		} else if n > 0 {
			w.log.Warn("stale queue claims released", zap.Int64("count", n))
		}
	}
	if _, err := w.RunOnce(ctx); err != nil {
		w.log.Error("queue batch failed", zap.Error(err))
	}
}

// ReleaseStale returns entries stuck in processing, typically from a crashed worker.
func (w *Worker) ReleaseStale(ctx context.Context) (int64, error) {
	return w.entries.ReleaseStale(ctx, w.now().UTC().Add(-w.staleAfter))
}

func (w *Worker) onSent(ctx context.Context, m model.Message, remoteID string) error {
	now := w.now().UTC()
	if err := w.entries.MarkCompleted(ctx, m.ID, remoteID, now); err != nil {
		w.log.Error("mark completed failed", zap.String("entry_id", m.ID), zap.Error(err))
		return err
	}
	if remoteID != "" && w.sentCache != nil {
		if err := w.sentCache.StoreSent(ctx, m.ID, remoteID, now); err != nil {
			w.log.Warn("cache sent message failed",
				zap.String("entry_id", m.ID),
				zap.String("remote_message_id", remoteID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// batch counts the outcomes of one RunOnce.
type batch struct {
	w     *Worker
	stats Stats
}

// onFailed retries with backoff until the entry's retry budget is spent. A failed entry
// is terminal.
func (b *batch) onFailed(ctx context.Context, m model.Message, cause error) error {
	w, st := b.w, &b.stats
	retryCount := m.RetryCount + 1
	reason := cause.Error()

	if errors.Is(cause, ErrPermanent) || retryCount >= m.MaxRetries {
		st.Failed++
		w.log.Error("message delivery failed permanently",
			zap.String("entry_id", m.ID),
			zap.String("type", string(m.MessageType)),
			zap.Int("retry_count", retryCount),
			zap.Error(cause),
		)
		return w.entries.MarkFailed(ctx, m.ID, retryCount, reason)
	}

	st.Retried++
	next := w.now().UTC().Add(w.backoff.Delay(retryCount))
	w.log.Warn("message delivery failed, will retry",
		zap.String("entry_id", m.ID),
		zap.Int("retry_count", retryCount),
		zap.Time("next_retry_at", next),
		zap.Error(cause),
	)
	return w.entries.MarkRetry(ctx, m.ID, retryCount, next, reason)
}

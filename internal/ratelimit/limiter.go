// Package ratelimit implements sliding-window limits over the shared cache store.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	store  cache.Store
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// New creates a limiter admitting limit hits per key within any window-long interval.
func New(store cache.Store, prefix string, limit int, window time.Duration, log *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    log,
	}
}

// Allow records a hit for key. A store failure admits the hit.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	w, err := l.store.SlidingWindow(ctx, "ratelimit:"+l.prefix+":"+key, l.limit, l.window, l.now())
	if err != nil {
		l.log.Warn("rate limiter unavailable, admitting request",
			zap.String("limiter", l.prefix),
			zap.Error(err),
		)
		return Decision{Allowed: true, Remaining: l.limit}
	}

	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: w.Allowed, Remaining: remaining, RetryAfter: w.RetryAfter}
}

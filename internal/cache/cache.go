package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

// MessageCache correlates provider message ids of sent messages with queue entries,
// so delivery receipts can be matched without a database lookup by remote id.
type MessageCache interface {
	StoreSent(ctx context.Context, entryID string, remoteMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, remoteMessageID string) (string, error)
}

// Store is the shared low-latency key-value store used by the idempotency guard and
// the rate limiters.
type Store interface {
	// Claim sets key only if absent. It reports whether this call created it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// SlidingWindow records one hit for key unless limit hits already fall inside the
	// window ending at now.
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error)
}

type Window struct {
	Allowed bool
	Count   int
	// RetryAfter is how long until the oldest hit leaves the window; zero when allowed.
	RetryAfter time.Duration
}

type Cache interface {
	MessageCache
	Store
}

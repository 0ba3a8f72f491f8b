// Package idempotency rejects webhook events already seen within a TTL window.
package idempotency

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
)

// EventType namespaces keys so a receipt and a message with overlapping ids never collide.
type EventType string

const (
	Incoming   EventType = "incoming"
	MessageAck EventType = "message-ack"
)

// Fingerprint hashes the identifying fields of one event. When the provider supplies a
// message id it identifies the event together with the sender; otherwise the sender,
// timestamp and text form a composite identity.
func Fingerprint(messageID, sender, timestamp, text string) string {
	var parts []string
	if messageID != "" {
		parts = []string{"id", messageID, sender}
	} else {
		parts = []string{"composite", sender, timestamp, text}
	}
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, "\x1f")), 16)
}

// Key builds "webhook:<provider>:<event-type>:<fingerprint>".
func Key(provider string, event EventType, fingerprint string) string {
	return "webhook:" + provider + ":" + string(event) + ":" + fingerprint
}

type Guard struct {
	store cache.Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewGuard(store cache.Store, ttl time.Duration, log *zap.Logger) *Guard {
	return &Guard{store: store, ttl: ttl, log: log}
}

func (g *Guard) TTL() time.Duration { return g.ttl }

func (g *Guard) IsDuplicate(ctx context.Context, key string) bool {
	seen, err := g.store.Exists(ctx, key)
	if err != nil {
		g.log.Warn("idempotency lookup failed, treating event as new", zap.String("key", key), zap.Error(err))
		return false
	}
	return seen
}

func (g *Guard) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	_, err := g.store.Claim(ctx, key, ttl)
	return err
}

// Acquire atomically checks and marks key. It returns false when the event was already
// seen. A store failure admits the event: losing a patient reply is worse than the
// rare double process, which the handlers' settled-state checks absorb.
func (g *Guard) Acquire(ctx context.Context, key string) bool {
	first, err := g.store.Claim(ctx, key, g.ttl)
	if err != nil {
		g.log.Warn("idempotency claim failed, admitting event", zap.String("key", key), zap.Error(err))
		return true
	}
	return first
}

// Release forgets key so a provider retry of a failed event is processed again.
func (g *Guard) Release(ctx context.Context, key string) {
	if err := g.store.Delete(ctx, key); err != nil {
		g.log.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the single-process Store used when Redis is not configured.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	keys    map[string]time.Time
	sent    map[string]memorySent
	windows map[string][]time.Time
}

type memorySent struct {
	entryID string
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		keys:    make(map[string]time.Time),
		sent:    make(map[string]memorySent),
		windows: make(map[string][]time.Time),
	}
}

func (c *MemoryCache) StoreSent(_ context.Context, entryID string, remoteMessageID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[remoteMessageID] = memorySent{entryID: entryID, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) LookupSent(_ context.Context, remoteMessageID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sent[remoteMessageID]
	if !ok || !c.now().Before(v.expires) {
		delete(c.sent, remoteMessageID)
		return "", ErrMiss
	}
	return v.entryID, nil
}

func (c *MemoryCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.keys[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.keys[key]
	return ok && c.now().Before(exp), nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *MemoryCache) SlidingWindow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.windows[key]
	cutoff := now.Add(-window)
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}

	if len(kept) >= limit {
		c.windows[key] = kept
		retry := kept[0].Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Window{Allowed: false, Count: len(kept), RetryAfter: retry}, nil
	}

	kept = append(kept, now)
	c.windows[key] = kept
	return Window{Allowed: true, Count: len(kept)}, nil
}

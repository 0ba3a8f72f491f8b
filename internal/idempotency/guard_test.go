package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeventeLantos/patient-messaging/internal/cache"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("ABC", "6281333852187", "1700000000", "YA")
	assert.Equal(t, a, Fingerprint("ABC", "6281333852187", "1700000000", "YA"))
	assert.Equal(t, a, Fingerprint("ABC", "6281333852187", "1700000099", "ya"), "message id identifies the event")
	assert.NotEqual(t, a, Fingerprint("ABD", "6281333852187", "1700000000", "YA"))

	c := Fingerprint("", "6281333852187", "1700000000", "YA")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, c, Fingerprint("", "6281333852187", "1700000001", "YA"))
	assert.Equal(t, c, Fingerprint("", "6281333852187", "1700000000", "YA"))
}

func TestKeyNamespaces(t *testing.T) {
	fp := Fingerprint("ABC", "", "", "")
	in := Key("gateway", Incoming, fp)
	ack := Key("gateway", MessageAck, fp)

	assert.Equal(t, "webhook:gateway:incoming:"+fp, in)
	assert.NotEqual(t, in, ack)
}

func TestGuard_AcquireOnlyOnceWithinTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := NewGuard(cache.NewRedisCache(rdb, time.Hour), time.Minute, zap.NewNop())
	ctx := context.Background()
	key := Key("bridge-b", Incoming, Fingerprint("m1", "628", "", ""))

	assert.False(t, g.IsDuplicate(ctx, key))
	assert.True(t, g.Acquire(ctx, key))
	assert.False(t, g.Acquire(ctx, key))
	assert.True(t, g.IsDuplicate(ctx, key))

	g.Release(ctx, key)
	assert.True(t, g.Acquire(ctx, key))

	mr.FastForward(2 * time.Minute)
	assert.True(t, g.Acquire(ctx, key), "key expires after TTL")
}

func TestGuard_MarkSeen(t *testing.T) {
	g := NewGuard(cache.NewMemoryCache(time.Hour), time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, g.MarkSeen(ctx, "k", time.Minute))
	assert.True(t, g.IsDuplicate(ctx, "k"))
}

func TestGuard_StoreFailureAdmits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := NewGuard(cache.NewRedisCache(rdb, time.Hour), time.Minute, zap.NewNop())
	mr.Close()

	assert.True(t, g.Acquire(context.Background(), "k"))
	assert.False(t, g.IsDuplicate(context.Background(), "k"))
}

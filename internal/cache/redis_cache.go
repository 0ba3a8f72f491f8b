package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	EntryID string    `json:"entryId"`
	SentAt  time.Time `json:"sentAt"`
}

func sentKey(remoteMessageID string) string {
	return "msg:" + remoteMessageID
}

func (c *RedisCache) StoreSent(ctx context.Context, entryID string, remoteMessageID string, sentAt time.Time) error {
	val := sentValue{
		EntryID: entryID,
		SentAt:  sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(remoteMessageID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, remoteMessageID string) (string, error) {
	raw, err := c.rdb.Get(ctx, sentKey(remoteMessageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	var val sentValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", fmt.Errorf("decode sent value: %w", err)
	}
	return val.EntryID, nil
}

func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// slidingWindowScript keeps one sorted-set member per admitted hit, scored by its
// timestamp in milliseconds. Returns {allowed, count, oldestScore}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	return {0, count, tonumber(oldest[2])}
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, count + 1, 0}
`)

func (c *RedisCache) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error) {
	nowMs := now.UnixMilli()
	res, err := slidingWindowScript.Run(ctx, c.rdb, []string{key},
		nowMs,
		window.Milliseconds(),
		limit,
		strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Window{}, err
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("unexpected sliding window reply: %v", res)
	}

	w := Window{Allowed: res[0] == 1, Count: int(res[1])}
	if !w.Allowed {
		w.RetryAfter = time.Duration(res[2]+window.Milliseconds()-nowMs) * time.Millisecond
		if w.RetryAfter < 0 {
			w.RetryAfter = 0
		}
	}
	return w, nil
}

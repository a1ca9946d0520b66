package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the slice of go-redis that Cooldown needs. *redis.Client
// satisfies it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cooldown throttles repeat verification sends per key (normalized email).
// Backend errors fail open: a broken Redis must not lock visitors out of the
// waitlist.
type Cooldown struct {
	client RedisClient
	window time.Duration
}

func NewCooldown(client RedisClient, window time.Duration) *Cooldown {
	return &Cooldown{client: client, window: window}
}

// Allow reports whether a send for key is permitted right now. The first
// call in a window claims it atomically (SET NX); callers get the remaining
// wait when throttled.
func (c *Cooldown) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if c == nil || c.client == nil {
		return true, 0
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ok, err := c.client.SetNX(ctx, hashKey(key), time.Now().Unix(), c.window).Result()
	if err != nil {
		return true, 0
	}
	if ok {
		return true, 0
	}

	ttl, err := c.client.TTL(ctx, hashKey(key)).Result()
	if err != nil || ttl < 0 {
		ttl = c.window
	}
	return false, ttl
}

// Release gives back a claimed window. Called when the send the claim was
// for never went out, so the visitor can retry immediately.
func (c *Cooldown) Release(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_ = c.client.Del(ctx, hashKey(key)).Err()
}

// Keys are hashed for privacy before they reach Redis.
func hashKey(key string) string {
	return fmt.Sprintf("cooldown:%x", sha256.Sum256([]byte(key)))
}

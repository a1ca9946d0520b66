package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yagsothebrand/waitlist-api/internal/http/middleware"
)

// fakeRedis implements middleware.RedisClient with an in-memory key set.
type fakeRedis struct {
	mu     sync.Mutex
	keys   map[string]time.Duration
	setErr error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	if _, exists := f.keys[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl, exists := f.keys[key]; exists {
		return redis.NewDurationResult(ttl, nil)
	}
	return redis.NewDurationResult(-2*time.Second, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, exists := f.keys[key]; exists {
			delete(f.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestCooldownWithoutBackendAllowsEverything(t *testing.T) {
	var nilCooldown *middleware.Cooldown
	if ok, _ := nilCooldown.Allow(context.Background(), "resend:a@b.com"); !ok {
		t.Fatal("nil cooldown should always allow")
	}
	nilCooldown.Release(context.Background(), "resend:a@b.com")

	c := middleware.NewCooldown(nil, 30*time.Second)
	if ok, _ := c.Allow(context.Background(), "resend:a@b.com"); !ok {
		t.Fatal("cooldown without a client should always allow")
	}
	if ok, _ := c.Allow(context.Background(), "resend:a@b.com"); !ok {
		t.Fatal("cooldown without a client should never throttle")
	}
}

func TestCooldownClaimThrottleRelease(t *testing.T) {
	c := middleware.NewCooldown(&fakeRedis{}, 30*time.Second)
	ctx := context.Background()

	if ok, _ := c.Allow(ctx, "resend:a@b.com"); !ok {
		t.Fatal("first call should claim the window")
	}
	ok, wait := c.Allow(ctx, "resend:a@b.com")
	if ok {
		t.Fatal("second call inside the window should be throttled")
	}
	if wait != 30*time.Second {
		t.Fatalf("wait = %v, want 30s", wait)
	}

	// A different key has its own window.
	if ok, _ := c.Allow(ctx, "resend:other@b.com"); !ok {
		t.Fatal("unrelated key should not be throttled")
	}

	c.Release(ctx, "resend:a@b.com")
	if ok, _ := c.Allow(ctx, "resend:a@b.com"); !ok {
		t.Fatal("released window should allow again")
	}
}

func TestCooldownFailsOpenOnBackendError(t *testing.T) {
	c := middleware.NewCooldown(&fakeRedis{setErr: errors.New("connection refused")}, 30*time.Second)
	if ok, _ := c.Allow(context.Background(), "resend:a@b.com"); !ok {
		t.Fatal("backend errors must not lock visitors out")
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewRedisStore returns a fixed-window store shared across API replicas.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// NewMemoryStore returns a process-local store for single-instance setups.
func NewMemoryStore(prefix string) limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: time.Minute,
	})
}

// FixedWindow adapts a ulule limiter store to Limiter. One limiter is kept
// per distinct rate.
type FixedWindow struct {
	Store limiter.Store

	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewFixedWindow constructs a FixedWindow over store.
func NewFixedWindow(store limiter.Store) *FixedWindow {
	return &FixedWindow{Store: store}
}

// Allow counts the event in the current fixed window.
func (f *FixedWindow) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	if f == nil || f.Store == nil || rule.disabled() {
		return allowAll(rule, time.Now()), nil
	}
	lctx, err := f.limiterFor(limiter.Rate{Period: rule.Window, Limit: int64(rule.Max)}).Get(ctx, key)
	if err != nil {
		return Decision{Limit: rule.Max, ResetAt: time.Now().Add(rule.Window)}, err
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}

func (f *FixedWindow) limiterFor(rate limiter.Rate) *limiter.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limiters == nil {
		f.limiters = make(map[limiter.Rate]*limiter.Limiter)
	}
	l, ok := f.limiters[rate]
	if !ok {
		l = limiter.New(f.Store, rate)
		f.limiters[rate] = l
	}
	return l
}

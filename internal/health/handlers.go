package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker represents dependencies that are checked for readiness.
type Checker interface {
	PingUpstream(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
	ConfigState() string
}

var draining atomic.Bool

// SetReady flips readiness; the API marks itself not ready while shutting down.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker         Checker
	UpstreamTimeout time.Duration
	RedisTimeout    time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency pings and the configuration
// load state.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	upstreamStatus := "ok"
	if err := h.Checker.PingUpstream(ctx, h.upstreamTimeout()); err != nil {
		upstreamStatus = err.Error()
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	configStatus := h.Checker.ConfigState()
	status := map[string]string{
		"upstream": upstreamStatus,
		"redis":    redisStatus,
		"config":   configStatus,
	}
	code := http.StatusOK
	if draining.Load() {
		status["server"] = "shutting down"
		code = http.StatusServiceUnavailable
	}
	if upstreamStatus != "ok" || redisStatus != "ok" || configStatus != "ready" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) upstreamTimeout() time.Duration {
	if h.UpstreamTimeout <= 0 {
		return time.Second
	}
	return h.UpstreamTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

// Pinger is implemented by the brokerage API client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is the production Checker. A nil Redis client counts as healthy
// because the service then runs on in-memory stores.
type Deps struct {
	Upstream Pinger
	Redis    redis.UniversalClient
	Config   func() string
}

// PingUpstream pings the brokerage API.
func (p Deps) PingUpstream(ctx context.Context, timeout time.Duration) error {
	if p.Upstream == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Upstream.Ping(ctx)
}

// PingRedis pings Redis when configured.
func (p Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// ConfigState reports the configuration cache state name.
func (p Deps) ConfigState() string {
	if p.Config == nil {
		return "ready"
	}
	return p.Config()
}

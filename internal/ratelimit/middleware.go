package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sgsupercars/storefront/internal/common"
)

// Handler rejects requests over Rule with 429 RATE_LIMITED. Requests with an
// empty key, or arriving while the limiter is failing, are let through.
type Handler struct {
	Limiter Limiter
	Rule    Rule
	Key     func(*http.Request) string
	OnError func(error)
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Key == nil || h.Rule.disabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), key, h.Rule)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeHeaders(w.Header(), d)
		if !d.Allowed {
			common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		wait := math.Ceil(time.Until(d.ResetAt).Seconds())
		h.Set("Retry-After", strconv.Itoa(int(max(wait, 1))))
	}
}

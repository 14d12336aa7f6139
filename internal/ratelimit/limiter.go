// Package ratelimit throttles abusive clients: a global per-IP budget on the
// API and a tighter one on deposit creation, which opens processor intents.
package ratelimit

import (
	"context"
	"time"
)

// Rule is Max events per Window.
type Rule struct {
	Window time.Duration
	Max    int
}

func (r Rule) disabled() bool { return r.Max <= 0 || r.Window <= 0 }

// Decision is a limiter verdict for one event.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when at least one more event will fit.
	ResetAt time.Time
}

func allowAll(rule Rule, now time.Time) Decision {
	return Decision{Allowed: true, Limit: rule.Max, Remaining: max(rule.Max, 0), ResetAt: now.Add(rule.Window)}
}

// Limiter records one event for key under rule.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

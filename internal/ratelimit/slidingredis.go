package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims the window, admits the event only while under max and
// returns {admitted, count, oldestScoreMs}. Rejected events are not recorded,
// so a client hammering the endpoint regains access once its admitted events
// age out.
var slidingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local admitted = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = ARGV[1]
if oldest[2] then first = oldest[2] end
return {admitted, count, first}
`)

// SlidingWindow is a Redis sorted-set limiter shared by every API replica.
// Scores are millisecond timestamps.
type SlidingWindow struct {
	Client redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

// Allow admits the event when fewer than rule.Max events happened in the
// trailing window.
func (l SlidingWindow) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || rule.disabled() {
		return allowAll(rule, now), nil
	}

	windowMs := max(rule.Window.Milliseconds(), 1)
	nowMs := now.UnixMilli()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMs,
		nowMs-windowMs,
		rule.Max,
		uuid.NewString(),
		windowMs,
	).Slice()
	if err != nil {
		return Decision{Limit: rule.Max, ResetAt: now.Add(rule.Window)}, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{Limit: rule.Max, ResetAt: now.Add(rule.Window)}, fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}
	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldestMs := nowMs
	if s, ok := res[2].(string); ok {
		if f, perr := strconv.ParseFloat(s, 64); perr == nil {
			oldestMs = int64(f)
		}
	}
	return Decision{
		Allowed:   admitted == 1,
		Limit:     rule.Max,
		Remaining: max(rule.Max-int(count), 0),
		ResetAt:   time.UnixMilli(oldestMs + windowMs),
	}, nil
}

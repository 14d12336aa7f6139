package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DeliveryGuard records which events have already gone out.
type DeliveryGuard interface {
	// Claim reports whether eventID is new and marks it sent for ttl.
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// Forget drops a claim so the event can be sent again.
	Forget(ctx context.Context, eventID string) error
}

// RedisDeliveryGuard keeps claims as expiring keys so every worker replica
// shares them. A nil Client claims everything.
type RedisDeliveryGuard struct {
	Client redis.UniversalClient
}

func (g RedisDeliveryGuard) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, deliveryKey(eventID), time.Now().Unix(), ttl).Result()
}

func (g RedisDeliveryGuard) Forget(ctx context.Context, eventID string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, deliveryKey(eventID)).Err()
}

func deliveryKey(eventID string) string { return "storefront:wh:" + eventID }

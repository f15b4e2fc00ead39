package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-tokenomy/internal/logger"
)

// Guard is a SetNX-based first-delivery marker for payment webhook events.
// It is advisory only: the settlement transaction's ledger lookup remains the
// source of truth, multiple process instances may race here safely.
type Guard struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewGuard(client *redis.Client, log *logger.Logger) *Guard {
	return &Guard{Client: client, Logger: log}
}

// getSeenTTL returns how long delivered event markers are kept.
func (g *Guard) getSeenTTL() time.Duration {
	// Default marker TTL is 24 hours, long enough to cover Stripe's retry
	// schedule.
	defaultTTL := 24 * time.Hour

	ttlStr := os.Getenv("SETTLEMENT_DEDUP_TTL_HOURS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlHours, err := strconv.Atoi(ttlStr)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("REDIS", "Invalid SETTLEMENT_DEDUP_TTL_HOURS value '"+ttlStr+"', using default 24 hours")
		}
		return defaultTTL
	}
	return time.Duration(ttlHours) * time.Hour
}

// FirstDelivery marks the order's payment event as seen and reports whether
// this was the first time.
func (g *Guard) FirstDelivery(ctx context.Context, orderID string) (bool, error) {
	key := "payment_seen:" + orderID
	first, err := g.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.getSeenTTL()).Result()
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("REDIS", fmt.Sprintf("dedup marker for order %s failed: %v", orderID, err))
		}
		// Treat a redis outage as first delivery; the database dedup covers us.
		return true, err
	}
	return first, nil
}

// Forget clears the marker, used by tests and manual replay tooling.
func (g *Guard) Forget(ctx context.Context, orderID string) error {
	return g.Client.Del(ctx, "payment_seen:"+orderID).Err()
}

package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
)

// ChainBalance reads token balances from the chain node.
type ChainBalance interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Oracle serves wallet balances with a short redis cache in front of the
// chain node. Balances are informational; spend checks at redeem time go
// through the ledger, so a slightly stale read here is acceptable.
type Oracle struct {
	Chain  ChainBalance
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewOracle(chain ChainBalance, client *redis.Client, ttl time.Duration, log *logger.Logger) *Oracle {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Oracle{
		Chain:  chain,
		Client: client,
		TTL:    ttl,
		Logger: log,
	}
}

func balanceKey(address string) string {
	return "token_balance:" + address
}

// Balance returns the token balance for a wallet address.
func (o *Oracle) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if address == "" {
		return decimal.Zero, fmt.Errorf("%w: wallet address is required", models.ErrValidation)
	}

	if o.Client != nil {
		cached, err := o.Client.Get(ctx, balanceKey(address)).Result()
		if err == nil {
			if amount, parseErr := decimal.NewFromString(cached); parseErr == nil {
				return amount, nil
			}
		} else if err != redis.Nil && o.Logger != nil {
			o.Logger.Warn("BALANCE", fmt.Sprintf("Redis read failed for %s: %s", address, err.Error()))
		}
	}

	amount, err := o.Chain.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, &models.ExternalServiceError{Service: "chain", Err: err}
	}

	if o.Client != nil {
		if err := o.Client.Set(ctx, balanceKey(address), amount.String(), o.TTL).Err(); err != nil && o.Logger != nil {
			o.Logger.Warn("BALANCE", fmt.Sprintf("Redis write failed for %s: %s", address, err.Error()))
		}
	}

	return amount, nil
}

// Invalidate drops the cached balance after a spend.
func (o *Oracle) Invalidate(ctx context.Context, address string) {
	if o.Client == nil {
		return
	}
	if err := o.Client.Del(ctx, balanceKey(address)).Err(); err != nil && o.Logger != nil {
		o.Logger.Warn("BALANCE", fmt.Sprintf("Redis invalidate failed for %s: %s", address, err.Error()))
	}
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-tokenomy/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ErrDuplicateOrder means a mint row already exists for the order; the
// caller lost an idempotency race and should return the stored row.
var ErrDuplicateOrder = errors.New("mint already recorded for order")

// GetMintByOrderID returns the mint recorded for the order, or nil when the
// order has not been minted.
func (d *DB) GetMintByOrderID(ctx context.Context, orderID string) (*models.Mint, error) {
	return d.GetMintByOrderIDIn(ctx, d.Bun, orderID)
}

func (d *DB) GetMintByOrderIDIn(ctx context.Context, idb bun.IDB, orderID string) (*models.Mint, error) {
	var mint models.Mint
	err := idb.NewSelect().
		Model(&mint).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get mint", Err: err}
	}
	return &mint, nil
}

// CreateMint inserts the mint row. The order_id unique index makes this the
// exactly-once gate: a second insert for the same order fails with
// ErrDuplicateOrder.
func (d *DB) CreateMint(ctx context.Context, idb bun.IDB, mint *models.Mint) error {
	if mint.CreatedAt.IsZero() {
		mint.CreatedAt = time.Now().UTC()
	}
	if _, err := idb.NewInsert().Model(mint).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return &models.PersistenceError{Op: "create mint", Err: err}
	}
	return nil
}

// isUniqueViolation matches the unique-index error text of both postgres
// (production) and sqlite (tests).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-tokenomy/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// CreateOrder inserts a new pending order.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if _, err := d.Bun.NewInsert().Model(order).Exec(ctx); err != nil {
		return &models.PersistenceError{Op: "create order", Err: err}
	}
	return nil
}

// GetOrderByID fetches one order by its ID. Returns models.ErrNotFound when
// no such order exists.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return d.GetOrderByIDIn(ctx, d.Bun, id)
}

func (d *DB) GetOrderByIDIn(ctx context.Context, idb bun.IDB, id string) (*models.Order, error) {
	var order models.Order
	err := idb.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get order", Err: err}
	}
	return &order, nil
}

// TransitionStatus is a compare-and-set on the order status. It reports
// whether this call performed the transition; false means another writer got
// there first or the order was in a different state.
func (d *DB) TransitionStatus(ctx context.Context, idb bun.IDB, orderID, from, to string) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, &models.PersistenceError{Op: "order status transition", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &models.PersistenceError{Op: "order status transition", Err: err}
	}
	return affected == 1, nil
}

// SetCheckoutRef saves the payment provider's checkout reference on the order.
func (d *DB) SetCheckoutRef(ctx context.Context, orderID, ref string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("checkout_ref = ?", ref).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "set checkout ref", Err: err}
	}
	return nil
}

// GetOrdersByUser returns the user's orders, newest first.
func (d *DB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

// ---------------- USERS ----------------

// SetUserWallet records the wallet address carried by the identity token.
// First registration wins; an already-recorded wallet is never overwritten
// here, wallet changes go through identity provisioning.
func (d *DB) SetUserWallet(ctx context.Context, userID, wallet string) error {
	if userID == "" || wallet == "" {
		return nil
	}
	_, err := d.Bun.NewUpdate().
		Model((*models.User)(nil)).
		Set("wallet_address = ?", wallet).
		Where("id = ?", userID).
		Where("wallet_address IS NULL OR wallet_address = ''").
		Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "set user wallet", Err: err}
	}
	return nil
}

// GetUserByID resolves a user, mainly for wallet address lookups.
func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get user", Err: err}
	}
	return &user, nil
}

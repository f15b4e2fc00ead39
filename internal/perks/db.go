package perks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-tokenomy/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

var ErrDuplicateClaimCode = errors.New("claim code already exists")

func (d *DB) CreatePerk(ctx context.Context, perk *models.Perk) error {
	_, err := d.Bun.NewInsert().Model(perk).Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "create perk", Err: err}
	}
	return nil
}

func (d *DB) GetPerkByID(ctx context.Context, perkID string) (*models.Perk, error) {
	return d.GetPerkByIDIn(ctx, d.Bun, perkID)
}

func (d *DB) GetPerkByIDIn(ctx context.Context, idb bun.IDB, perkID string) (*models.Perk, error) {
	perk := new(models.Perk)
	err := idb.NewSelect().Model(perk).Where("id = ?", perkID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: perk %s", models.ErrNotFound, perkID)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get perk", Err: err}
	}
	return perk, nil
}

func (d *DB) ListPerks(ctx context.Context, activeOnly bool) ([]models.Perk, error) {
	var perks []models.Perk
	q := d.Bun.NewSelect().Model(&perks).Order("created_at ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, &models.PersistenceError{Op: "list perks", Err: err}
	}
	return perks, nil
}

func (d *DB) UpdatePerk(ctx context.Context, perk *models.Perk) error {
	res, err := d.Bun.NewUpdate().Model(perk).WherePK().Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "update perk", Err: err}
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: perk %s", models.ErrNotFound, perk.ID)
	}
	return nil
}

func (d *DB) DeletePerk(ctx context.Context, perkID string) error {
	res, err := d.Bun.NewDelete().Model((*models.Perk)(nil)).Where("id = ?", perkID).Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "delete perk", Err: err}
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: perk %s", models.ErrNotFound, perkID)
	}
	return nil
}

func (d *DB) CountClaims(ctx context.Context, perkID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.PerkClaim)(nil)).
		Where("perk_id = ?", perkID).
		Count(ctx)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count claims", Err: err}
	}
	return count, nil
}

func (d *DB) CreateClaim(ctx context.Context, claim *models.PerkClaim) error {
	_, err := d.Bun.NewInsert().Model(claim).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaimCode
		}
		return &models.PersistenceError{Op: "create claim", Err: err}
	}
	return nil
}

func (d *DB) GetClaimByID(ctx context.Context, claimID string) (*models.PerkClaim, error) {
	return d.GetClaimByIDIn(ctx, d.Bun, claimID)
}

func (d *DB) GetClaimByIDIn(ctx context.Context, idb bun.IDB, claimID string) (*models.PerkClaim, error) {
	claim := new(models.PerkClaim)
	err := idb.NewSelect().Model(claim).Where("id = ?", claimID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim %s", models.ErrNotFound, claimID)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get claim", Err: err}
	}
	return claim, nil
}

func (d *DB) GetClaimByCode(ctx context.Context, code string) (*models.PerkClaim, error) {
	claim := new(models.PerkClaim)
	err := d.Bun.NewSelect().Model(claim).Where("qr_code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim code", models.ErrNotFound)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get claim by code", Err: err}
	}
	return claim, nil
}

func (d *DB) GetClaimsByUser(ctx context.Context, userID string) ([]models.PerkClaim, error) {
	var claims []models.PerkClaim
	err := d.Bun.NewSelect().
		Model(&claims).
		Where("user_id = ?", userID).
		Order("claimed_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "get claims by user", Err: err}
	}
	return claims, nil
}

// MarkRedeemed stamps the claim exactly once. The redeemed_at IS NULL guard
// makes the first redeemer win under concurrent scans.
func (d *DB) MarkRedeemed(ctx context.Context, idb bun.IDB, claimID, staffID string, at time.Time) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.PerkClaim)(nil)).
		Set("redeemed_at = ?", at).
		Set("redeemed_by = ?", staffID).
		Where("id = ?", claimID).
		Where("redeemed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, &models.PersistenceError{Op: "mark claim redeemed", Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, &models.PersistenceError{Op: "mark claim redeemed", Err: err}
	}
	return rows == 1, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Perk is a token-gated reward users can claim and later redeem in person.
type Perk struct {
	bun.BaseModel `bun:"table:perks"`

	ID          string          `bun:"id,pk" json:"id"`
	Name        string          `bun:"name,notnull" json:"name"`
	Description string          `bun:"description,nullzero" json:"description,omitempty"`
	TokenCost   decimal.Decimal `bun:"token_cost,notnull" json:"token_cost"`
	Active      bool            `bun:"active,notnull" json:"active"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// PerkClaim is the intent record created when a user claims a perk. The claim
// itself moves no tokens; the ledger debit is written when the claim is
// redeemed. RedeemedAt transitions null -> timestamp exactly once and is
// never reverted.
type PerkClaim struct {
	bun.BaseModel `bun:"table:perk_claims"`

	ID         string          `bun:"id,pk" json:"id"`
	PerkID     string          `bun:"perk_id,notnull" json:"perk_id"`
	UserID     string          `bun:"user_id,notnull" json:"user_id"`
	TokenCost  decimal.Decimal `bun:"token_cost,notnull" json:"token_cost"`
	QRCode     string          `bun:"qr_code,notnull,unique" json:"qr_code"`
	QRPNG      []byte          `bun:"qr_png" json:"-"`
	ClaimedAt  time.Time       `bun:"claimed_at,notnull" json:"claimed_at"`
	RedeemedAt *time.Time      `bun:"redeemed_at,nullzero" json:"redeemed_at,omitempty"`
	RedeemedBy string          `bun:"redeemed_by,nullzero" json:"redeemed_by,omitempty"`
}

// Redeemed reports whether the claim has already been consumed.
func (c *PerkClaim) Redeemed() bool {
	return c.RedeemedAt != nil
}

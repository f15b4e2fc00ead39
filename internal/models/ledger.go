package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Entry directions. Amounts are always non-negative, the direction carries the sign.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

const (
	CurrencyEUR   = "EUR"
	CurrencyTOKEN = "TOKEN"
)

// Ledger entry kinds.
const (
	KindPayment    = "payment"
	KindMint       = "mint"
	KindPerkRedeem = "perk_redeem"
	KindAdjustment = "adjustment"
)

// LedgerEntry is an immutable record of one value movement. Entries are never
// updated or deleted; corrections are new offsetting entries sharing the same
// reference ID.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries"`

	ID          string          `bun:"id,pk" json:"id"`
	Kind        string          `bun:"kind,notnull" json:"kind"`
	ReferenceID string          `bun:"reference_id,notnull" json:"reference_id"`
	Direction   string          `bun:"direction,notnull" json:"direction"`
	Amount      decimal.Decimal `bun:"amount,notnull" json:"amount"`
	Currency    string          `bun:"currency,notnull" json:"currency"`
	Metadata    string          `bun:"metadata,nullzero" json:"metadata,omitempty"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

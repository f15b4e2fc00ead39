package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Mint records a confirmed on-chain token issuance for an order. At most one
// row exists per order (the order_id unique index is the idempotency key) and
// rows are immutable once written.
type Mint struct {
	bun.BaseModel `bun:"table:mints"`

	ID          string          `bun:"id,pk" json:"id"`
	OrderID     string          `bun:"order_id,notnull,unique" json:"order_id"`
	UserID      string          `bun:"user_id,notnull" json:"user_id"`
	TokenAmount decimal.Decimal `bun:"token_amount,notnull" json:"token_amount"`
	TxHash      string          `bun:"tx_hash,notnull" json:"tx_hash"`
	ChainID     string          `bun:"chain_id,notnull" json:"chain_id"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

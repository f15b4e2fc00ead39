package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

// Order tracks one fiat purchase of tokens. Orders are never deleted: they
// move pending -> completed on a confirmed payment, or to failed when the
// mint is rejected on-chain.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          string          `bun:"id,pk" json:"id"`
	UserID      string          `bun:"user_id,notnull" json:"user_id"`
	ProductID   string          `bun:"product_id,notnull" json:"product_id"`
	PriceEUR    decimal.Decimal `bun:"price_eur,notnull" json:"price_eur"`
	TokenAmount decimal.Decimal `bun:"token_amount,notnull" json:"token_amount"`
	Status      string          `bun:"status,notnull" json:"status"`
	CheckoutRef string          `bun:"checkout_ref,nullzero" json:"checkout_ref,omitempty"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

type OrderRequest struct {
	ProductID   string          `json:"product_id"`
	PriceEUR    decimal.Decimal `json:"price_eur"`
	TokenAmount decimal.Decimal `json:"token_amount"`
}

type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSettledEvent is produced after the settlement transaction commits and
// consumed by the mint coordinator. Delivery is at-least-once; the consumer
// deduplicates on OrderID.
type OrderSettledEvent struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Currency    string          `json:"currency"`
	ProviderRef string          `json:"provider_ref"`
	SettledAt   time.Time       `json:"settled_at"`
}

type MintResultEvent struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	TxHash  string `json:"tx_hash,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

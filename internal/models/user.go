package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID            string    `bun:"id,pk" json:"id"`
	Email         string    `bun:"email,unique,notnull" json:"email"`
	FullName      string    `bun:"full_name,nullzero" json:"full_name,omitempty"`
	WalletAddress string    `bun:"wallet_address,nullzero" json:"wallet_address,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

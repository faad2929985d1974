package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet types. Every user owns exactly one of each, keyed (user_id, wallet_type).
const (
	WalletFunding = "FUNDING"
	WalletRedeem  = "REDEEM"
)

type Wallet struct {
	UserID  uuid.UUID `json:"user_id"`
	Type    string    `json:"wallet_type"`
	Balance int       `json:"balance"`

	// Funding wallet only: lifetime monotonic counters.
	TotalPurchased int `json:"total_purchased,omitempty"`
	TotalSpent     int `json:"total_spent,omitempty"`

	// Redeem wallet only: standing-balance cap and cooldown marker.
	Limit          int       `json:"limit,omitempty"`
	NextRedemption time.Time `json:"next_redemption,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

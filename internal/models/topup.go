package models

import (
	"time"

	"github.com/google/uuid"
)

// Top-up request statuses. PENDING is the only non-terminal state.
const (
	TopUpPending   = "PENDING"
	TopUpCompleted = "COMPLETED"
	TopUpRejected  = "REJECTED"
	TopUpCancelled = "CANCELLED"
)

// TopUpRequest is a user's stated intent to add funds, resolved out-of-band
// by an administrator. ProcessorID is nil while PENDING.
type TopUpRequest struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	PackageID     uuid.UUID  `json:"package_id"`
	PaymentMethod string     `json:"payment_method"`
	Status        string     `json:"status"`
	ProcessorID   *uuid.UUID `json:"processor_id,omitempty"`
	RejectReason  *string    `json:"reject_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// CreditPackage is a catalog offering: a fixed credit amount for a price.
type CreditPackage struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Credits      int       `json:"credits"`
	BonusCredits int       `json:"bonus_credits"`
	PriceCents   int64     `json:"price_cents"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

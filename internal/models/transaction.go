package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types. Amount is always stored positive; the type implies the sign.
const (
	TxCredit     = "CREDIT"
	TxDebit      = "DEBIT"
	TxTopUp      = "TOP_UP"
	TxPurchase   = "PURCHASE"
	TxBonus      = "BONUS"
	TxRefund     = "REFUND"
	TxRedemption = "REDEMPTION"
)

// TxSign returns the signed significance of a transaction type: +1 for types
// that add to a balance, -1 for types that deduct.
func TxSign(txType string) int {
	switch txType {
	case TxDebit, TxPurchase:
		return -1
	default:
		return 1
	}
}

// Transaction is an append-only ledger row. For every wallet the sum of
// signed amounts must equal the current balance.
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"type"`
	WalletType  string    `json:"wallet_type"`
	Amount      int       `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

package wallet

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit would drive a wallet
	// balance below zero. Nothing is written.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrWalletNotFound is returned when the wallet row does not exist and
	// the operation is not allowed to create it lazily.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrUnauthorized is returned when the access gate denies the actor's
	// capability for a privileged mutation.
	ErrUnauthorized = errors.New("capability check failed")

	// ErrStorage wraps storage-layer failures. The mutation is fully rolled
	// back; callers may retry.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidMutation is returned when the delta is zero or its sign
	// contradicts the transaction type.
	ErrInvalidMutation = errors.New("invalid mutation")
)

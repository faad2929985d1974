package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/heartlink/backend/internal/config"
	"github.com/heartlink/backend/internal/notify"
)

// OTP types. Records are scoped by (email, type); at most one unverified
// record exists per key.
const (
	TypeRegistration  = "REGISTRATION"
	TypePasswordReset = "PASSWORD_RESET"
	TypeEmailChange   = "EMAIL_CHANGE"
)

var (
	// ErrNotFound is returned when no matching unverified record exists.
	ErrNotFound = errors.New("verification code not found")

	// ErrExpired is returned when the record outlived its window. The
	// record is deleted.
	ErrExpired = errors.New("verification code expired")

	// ErrAttemptsExhausted is returned when the attempt budget is spent.
	// The record is deleted.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")

	// ErrInvalidCode is the match target for code mismatches.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrUnknownType is returned for an unrecognized OTP type.
	ErrUnknownType = errors.New("unknown verification type")
)

// InvalidCodeError reports how many attempts remain after a mismatch.
type InvalidCodeError struct {
	RemainingAttempts int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.RemainingAttempts)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// Record is an ephemeral verification entry. It gates ledger-affecting
// actions (wallet creation at registration) but is not part of the ledger.
type Record struct {
	Email      string    `json:"email"`
	Type       string    `json:"type"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	Attempts   int       `json:"attempts"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Store persists OTP records. Get returns (nil, nil) when absent.
type Store interface {
	Get(ctx context.Context, email, otpType string) (*Record, error)
	Put(ctx context.Context, rec *Record, ttl time.Duration) error
	Delete(ctx context.Context, email, otpType string) error
	IncrementAttempts(ctx context.Context, email, otpType string) (int, error)
	MarkVerified(ctx context.Context, email, otpType string, at time.Time) error
}

// EnqueueEmailFunc hands the code to the notification queue. Typically a
// closure over river.Client.Insert.
type EnqueueEmailFunc func(ctx context.Context, args notify.OTPEmailArgs) error

// Service runs the Issued -> Verified | Expired | Exhausted machine.
type Service struct {
	store   Store
	cfg     config.OTPConfig
	enqueue EnqueueEmailFunc
	now     func() time.Time
}

func NewService(store Store, cfg config.OTPConfig, enqueue EnqueueEmailFunc) *Service {
	return &Service{store: store, cfg: cfg, enqueue: enqueue, now: time.Now}
}

func validType(otpType string) bool {
	switch otpType {
	case TypeRegistration, TypePasswordReset, TypeEmailChange:
		return true
	}
	return false
}

// Issue generates a fresh code for (email, type), superseding any prior
// unverified record, and queues delivery.
func (s *Service) Issue(ctx context.Context, email, otpType string) error {
	if !validType(otpType) {
		return ErrUnknownType
	}
	if err := s.store.Delete(ctx, email, otpType); err != nil {
		return err
	}
	code, err := randomCode(s.cfg.CodeLength)
	if err != nil {
		return err
	}
	rec := &Record{
		Email:     email,
		Type:      otpType,
		Code:      code,
		ExpiresAt: s.now().Add(s.cfg.Expiry),
	}
	// TTL outlives the expiry window so Verify can still report Expired
	// instead of NotFound; the freshness window covers post-verify reads.
	if err := s.store.Put(ctx, rec, s.cfg.Expiry+s.cfg.Freshness); err != nil {
		return err
	}
	if s.enqueue != nil {
		return s.enqueue(ctx, notify.OTPEmailArgs{Email: email, Code: code, OTPType: otpType})
	}
	return nil
}

// Verify checks a submitted code. Expired or exhausted records are deleted;
// a mismatch burns one attempt and reports how many remain.
func (s *Service) Verify(ctx context.Context, email, otpType, submitted string) error {
	rec, err := s.store.Get(ctx, email, otpType)
	if err != nil {
		return err
	}
	if rec == nil || rec.Verified {
		return ErrNotFound
	}
	now := s.now()
	if now.After(rec.ExpiresAt) {
		if err := s.store.Delete(ctx, email, otpType); err != nil {
			return err
		}
		return ErrExpired
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, email, otpType); err != nil {
			return err
		}
		return ErrAttemptsExhausted
	}
	if rec.Code != submitted {
		attempts, err := s.store.IncrementAttempts(ctx, email, otpType)
		if err != nil {
			return err
		}
		remaining := s.cfg.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return &InvalidCodeError{RemainingAttempts: remaining}
	}
	return s.store.MarkVerified(ctx, email, otpType, now)
}

// Verified confirms a fresh verification exists for (email, type) without
// touching the record, so a follow-up step that later fails can be retried
// against the same verification. Stale records are reaped.
func (s *Service) Verified(ctx context.Context, email, otpType string) error {
	rec, err := s.store.Get(ctx, email, otpType)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Verified {
		return ErrNotFound
	}
	if s.now().After(rec.VerifiedAt.Add(s.cfg.Freshness)) {
		if err := s.store.Delete(ctx, email, otpType); err != nil {
			return err
		}
		return ErrExpired
	}
	return nil
}

// Consume finalizes a verified record once the follow-up step (account and
// wallet creation) has committed; the record is gone for good.
func (s *Service) Consume(ctx context.Context, email, otpType string) error {
	if err := s.Verified(ctx, email, otpType); err != nil {
		return err
	}
	return s.store.Delete(ctx, email, otpType)
}

func randomCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}
	return string(code), nil
}

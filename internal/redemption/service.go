package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heartlink/backend/internal/config"
	"github.com/heartlink/backend/internal/models"
	"github.com/heartlink/backend/internal/wallet"
)

// ErrNotYetAvailable is the match target for cooldown failures.
var ErrNotYetAvailable = errors.New("redemption not yet available")

// NotYetAvailableError reports how long the caller must wait.
type NotYetAvailableError struct {
	Remaining time.Duration
}

func (e *NotYetAvailableError) Error() string {
	return fmt.Sprintf("redemption not yet available, retry in %s", e.Remaining.Round(time.Second))
}

func (e *NotYetAvailableError) Unwrap() error { return ErrNotYetAvailable }

// Store is the slice of the wallet store the controller needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string) (*models.Wallet, error)
	SetNextRedemption(ctx context.Context, tx pgx.Tx, userID uuid.UUID, next time.Time) error
}

// Engine is the ledger mutation primitive; redemptions never write balances
// directly.
type Engine interface {
	MutateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int, txType, description string) (int, uuid.UUID, error)
}

// Service enforces the periodic free-credit allowance on top of the ledger
// engine. Amount and window come from configuration, not call sites.
type Service struct {
	store  Store
	engine Engine
	cfg    config.LedgerConfig
	now    func() time.Time
}

func NewService(store Store, engine Engine, cfg config.LedgerConfig) *Service {
	return &Service{store: store, engine: engine, cfg: cfg, now: time.Now}
}

// Redeem claims the free allotment. The added amount is clipped so the
// balance never exceeds the cap; a redemption at an already-capped balance
// adds nothing but still advances the cooldown window.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID) (int, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	w, err := s.store.GetForUpdate(ctx, tx, userID, models.WalletRedeem)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wallet.ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}

	now := s.now()
	if now.Before(w.NextRedemption) {
		return 0, &NotYetAvailableError{Remaining: w.NextRedemption.Sub(now)}
	}

	amount := s.cfg.RedemptionAmount
	if room := w.Limit - w.Balance; room < amount {
		amount = room
	}
	if amount < 0 {
		amount = 0
	}

	newBalance := w.Balance
	if amount > 0 {
		newBalance, _, err = s.engine.MutateTx(ctx, tx, userID, models.WalletRedeem, amount, models.TxRedemption, "periodic free credits")
		if err != nil {
			return 0, err
		}
	}
	if err := s.store.SetNextRedemption(ctx, tx, userID, now.Add(s.cfg.RedemptionWindow)); err != nil {
		return 0, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return newBalance, nil
}

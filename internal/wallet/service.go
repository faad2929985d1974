package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heartlink/backend/internal/access"
	"github.com/heartlink/backend/internal/config"
	"github.com/heartlink/backend/internal/models"
)

// Store is the persistence surface the ledger engine mutates through. No
// other component writes balances or transaction rows.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string) (*models.Wallet, error)
	Get(ctx context.Context, userID uuid.UUID, walletType string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int) (int, error)
	SetNextRedemption(ctx context.Context, tx pgx.Tx, userID uuid.UUID, next time.Time) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, f Filter, page, perPage int) ([]*models.Transaction, int, error)
	SumTransactions(ctx context.Context, userID uuid.UUID, f Filter) (map[string]int, error)
}

// Service owns balance invariants: every successful mutation writes exactly
// one transaction row in the same atomic unit, and no balance ever goes
// negative.
type Service struct {
	store Store
	gate  access.Gate
	cfg   config.LedgerConfig
	now   func() time.Time
}

func NewService(store Store, gate access.Gate, cfg config.LedgerConfig) *Service {
	return &Service{store: store, gate: gate, cfg: cfg, now: time.Now}
}

func storage(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// Mutate applies delta to the user's wallet and records the matching
// transaction, all-or-nothing. Returns the new balance and transaction id.
func (s *Service) Mutate(ctx context.Context, userID uuid.UUID, walletType string, delta int, txType, description string) (int, uuid.UUID, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, uuid.Nil, storage(err)
	}
	defer tx.Rollback(ctx)

	newBalance, txID, err := s.MutateTx(ctx, tx, userID, walletType, delta, txType, description)
	if err != nil {
		return 0, uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, uuid.Nil, storage(err)
	}
	return newBalance, txID, nil
}

// MutateTx is Mutate running inside the caller's transaction, so callers can
// compose a wallet mutation with their own state change (top-up approval,
// registration) in one atomic unit.
func (s *Service) MutateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int, txType, description string) (int, uuid.UUID, error) {
	if delta == 0 {
		return 0, uuid.Nil, fmt.Errorf("%w: zero delta", ErrInvalidMutation)
	}
	if (delta > 0) != (models.TxSign(txType) > 0) {
		return 0, uuid.Nil, fmt.Errorf("%w: delta sign contradicts %s", ErrInvalidMutation, txType)
	}

	w, err := s.store.GetForUpdate(ctx, tx, userID, walletType)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Funding wallets may appear lazily on first deposit (e.g. an
		// administrative grant before the user ever topped up).
		if walletType != models.WalletFunding || delta < 0 {
			return 0, uuid.Nil, ErrWalletNotFound
		}
		w = &models.Wallet{UserID: userID, Type: walletType, NextRedemption: s.now()}
		if err := s.store.CreateWallet(ctx, tx, w); err != nil {
			return 0, uuid.Nil, storage(err)
		}
	case err != nil:
		return 0, uuid.Nil, storage(err)
	}

	if delta < 0 && w.Balance+delta < 0 {
		return 0, uuid.Nil, ErrInsufficientBalance
	}

	newBalance, err := s.store.ApplyDelta(ctx, tx, userID, walletType, delta)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update is the last word even under the row lock.
		return 0, uuid.Nil, ErrInsufficientBalance
	}
	if err != nil {
		return 0, uuid.Nil, storage(err)
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        txType,
		WalletType:  walletType,
		Amount:      abs(delta),
		Description: description,
	}
	if err := s.store.InsertTransaction(ctx, tx, txn); err != nil {
		return 0, uuid.Nil, storage(err)
	}
	return newBalance, txn.ID, nil
}

// Grant is an administrative credit, gated by the grant_credits capability.
// It may push a redeem wallet past its cap; the cap binds only at redemption.
func (s *Service) Grant(ctx context.Context, actorRole string, userID uuid.UUID, walletType string, amount int, reason string) (int, uuid.UUID, error) {
	if !s.gate.HasCapability(actorRole, access.CapGrantCredits) {
		return 0, uuid.Nil, ErrUnauthorized
	}
	if amount <= 0 {
		return 0, uuid.Nil, fmt.Errorf("%w: grant amount must be positive", ErrInvalidMutation)
	}
	description := "administrative grant"
	if reason != "" {
		description += ": " + reason
	}
	return s.Mutate(ctx, userID, walletType, amount, models.TxCredit, description)
}

// CreateUserWallets creates the funding and redeem wallet pair inside the
// caller's transaction, seeding the redeem wallet with the configured welcome
// credits through the ledger so the transaction log stays reconstructable.
func (s *Service) CreateUserWallets(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	now := s.now()
	funding := &models.Wallet{UserID: userID, Type: models.WalletFunding, NextRedemption: now}
	if err := s.store.CreateWallet(ctx, tx, funding); err != nil {
		return storage(err)
	}
	redeem := &models.Wallet{
		UserID:         userID,
		Type:           models.WalletRedeem,
		Limit:          s.cfg.CreditLimit,
		NextRedemption: now.Add(s.cfg.RedemptionWindow),
	}
	if err := s.store.CreateWallet(ctx, tx, redeem); err != nil {
		return storage(err)
	}
	if s.cfg.InitialCredits > 0 {
		if _, _, err := s.MutateTx(ctx, tx, userID, models.WalletRedeem, s.cfg.InitialCredits, models.TxBonus, "welcome credits"); err != nil {
			return err
		}
	}
	return nil
}

// Balances is the wallet query surface for a single user.
type Balances struct {
	FundingBalance int       `json:"funding_balance"`
	RedeemBalance  int       `json:"redeem_balance"`
	TotalPurchased int       `json:"total_purchased"`
	TotalSpent     int       `json:"total_spent"`
	RedeemLimit    int       `json:"redeem_limit"`
	NextRedemption time.Time `json:"next_redemption"`
}

func (s *Service) Balances(ctx context.Context, userID uuid.UUID) (*Balances, error) {
	redeem, err := s.store.Get(ctx, userID, models.WalletRedeem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	b := &Balances{
		RedeemBalance:  redeem.Balance,
		RedeemLimit:    redeem.Limit,
		NextRedemption: redeem.NextRedemption,
	}
	funding, err := s.store.Get(ctx, userID, models.WalletFunding)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Never deposited into: reads as zero.
	case err != nil:
		return nil, storage(err)
	default:
		b.FundingBalance = funding.Balance
		b.TotalPurchased = funding.TotalPurchased
		b.TotalSpent = funding.TotalSpent
	}
	return b, nil
}

// TransactionPage is one page of a user's ledger plus aggregate sums by
// transaction type under the same filter.
type TransactionPage struct {
	Transactions []*models.Transaction `json:"transactions"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	PerPage      int                   `json:"per_page"`
	Sums         map[string]int        `json:"sums"`
}

func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, f Filter, page, perPage int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	list, total, err := s.store.ListTransactions(ctx, userID, f, page, perPage)
	if err != nil {
		return nil, storage(err)
	}
	sums, err := s.store.SumTransactions(ctx, userID, f)
	if err != nil {
		return nil, storage(err)
	}
	return &TransactionPage{
		Transactions: list,
		Total:        total,
		Page:         page,
		PerPage:      perPage,
		Sums:         sums,
	}, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

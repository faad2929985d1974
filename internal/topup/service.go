package topup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heartlink/backend/internal/access"
	"github.com/heartlink/backend/internal/models"
	"github.com/heartlink/backend/internal/notify"
	"github.com/heartlink/backend/internal/wallet"
)

var (
	// ErrNotFound is returned when the request id does not exist.
	ErrNotFound = errors.New("top-up request not found")

	// ErrInvalidTransition is the match target for every rejected state
	// change. ErrNotOwner and ErrAlreadyResolved wrap it.
	ErrInvalidTransition = errors.New("invalid top-up transition")

	ErrNotOwner        = fmt.Errorf("%w: not the request owner", ErrInvalidTransition)
	ErrAlreadyResolved = fmt.Errorf("%w: request already resolved", ErrInvalidTransition)
)

// Store is the persistence surface of the workflow.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, req *models.TopUpRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TopUpRequest, error)
	Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, processorID *uuid.UUID, reason *string) (bool, error)
	List(ctx context.Context, f ListFilter, page, perPage int) ([]*models.TopUpRequest, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Catalog resolves credit packages.
type Catalog interface {
	GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
}

// Engine is the ledger mutation primitive used for approval deposits.
type Engine interface {
	MutateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int, txType, description string) (int, uuid.UUID, error)
}

// EnqueueEmailTxFunc inserts the resolution notification job within the given
// transaction. Typically a closure over river.Client.InsertTx.
type EnqueueEmailTxFunc func(ctx context.Context, tx pgx.Tx, args notify.TopUpResolvedArgs) error

// Service runs the PENDING -> {COMPLETED, REJECTED, CANCELLED} workflow.
// Terminal states are final.
type Service struct {
	store   Store
	catalog Catalog
	engine  Engine
	gate    access.Gate
	enqueue EnqueueEmailTxFunc
}

func NewService(store Store, catalog Catalog, engine Engine, gate access.Gate, enqueue EnqueueEmailTxFunc) *Service {
	return &Service{store: store, catalog: catalog, engine: engine, gate: gate, enqueue: enqueue}
}

// Create opens a PENDING request. No balance effect until an administrator
// confirms the out-of-band payment.
func (s *Service) Create(ctx context.Context, userID, packageID uuid.UUID, paymentMethod string) (*models.TopUpRequest, error) {
	if _, err := s.catalog.GetPackage(ctx, packageID); err != nil {
		return nil, err
	}
	req := &models.TopUpRequest{
		ID:            uuid.New(),
		UserID:        userID,
		PackageID:     packageID,
		PaymentMethod: paymentMethod,
		Status:        models.TopUpPending,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return req, nil
}

// Cancel is the owner's withdrawal. Racing against a concurrent approve or
// reject, whichever flips the status first wins; the loser sees
// ErrAlreadyResolved.
func (s *Service) Cancel(ctx context.Context, requestID, actorID uuid.UUID) error {
	req, err := s.store.GetByID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	if req.UserID != actorID {
		return ErrNotOwner
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.Resolve(ctx, tx, requestID, models.TopUpCancelled, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	if !ok {
		return ErrAlreadyResolved
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return nil
}

// ApproveResult reports the deposit an approval produced.
type ApproveResult struct {
	RequestID     uuid.UUID `json:"request_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Credits       int       `json:"credits"`
	NewBalance    int       `json:"new_balance"`
}

// Approve confirms the payment: the funding deposit and the status flip
// commit together, so a crash can never leave one without the other.
func (s *Service) Approve(ctx context.Context, requestID, adminID uuid.UUID, adminRole string) (*ApproveResult, error) {
	if !s.gate.HasCapability(adminRole, access.CapApproveTopUp) {
		return nil, wallet.ErrUnauthorized
	}
	req, err := s.store.GetByID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	pkg, err := s.catalog.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.Resolve(ctx, tx, requestID, models.TopUpCompleted, &adminID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	if !ok {
		return nil, ErrAlreadyResolved
	}

	credits := pkg.Credits + pkg.BonusCredits
	newBalance, txID, err := s.engine.MutateTx(ctx, tx, req.UserID, models.WalletFunding, credits, models.TxTopUp, fmt.Sprintf("top-up: %s", pkg.Name))
	if err != nil {
		return nil, err
	}
	if s.enqueue != nil {
		if err := s.enqueue(ctx, tx, notify.TopUpResolvedArgs{
			RequestID: requestID,
			UserID:    req.UserID,
			Status:    models.TopUpCompleted,
			Credits:   credits,
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return &ApproveResult{
		RequestID:     requestID,
		TransactionID: txID,
		Credits:       credits,
		NewBalance:    newBalance,
	}, nil
}

// Reject declines the payment claim. No ledger effect; the reason is kept
// for user-facing feedback.
func (s *Service) Reject(ctx context.Context, requestID, adminID uuid.UUID, adminRole, reason string) error {
	if !s.gate.HasCapability(adminRole, access.CapApproveTopUp) {
		return wallet.ErrUnauthorized
	}
	req, err := s.store.GetByID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	ok, err := s.store.Resolve(ctx, tx, requestID, models.TopUpRejected, &adminID, reasonPtr)
	if err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	if !ok {
		return ErrAlreadyResolved
	}
	if s.enqueue != nil {
		if err := s.enqueue(ctx, tx, notify.TopUpResolvedArgs{
			RequestID: requestID,
			UserID:    req.UserID,
			Status:    models.TopUpRejected,
			Reason:    reason,
		}); err != nil {
			return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return nil
}

// RequestPage is one page of requests plus the total under the same filter.
type RequestPage struct {
	Requests []*models.TopUpRequest `json:"requests"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PerPage  int                    `json:"per_page"`
}

func (s *Service) List(ctx context.Context, f ListFilter, page, perPage int) (*RequestPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	list, total, err := s.store.List(ctx, f, page, perPage)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	return &RequestPage{Requests: list, Total: total, Page: page, PerPage: perPage}, nil
}

// Counts aggregates request totals per status for the admin overview.
func (s *Service) Counts(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallet.ErrStorage, err)
	}
	for _, status := range []string{models.TopUpPending, models.TopUpCompleted, models.TopUpRejected, models.TopUpCancelled} {
		if _, present := counts[status]; !present {
			counts[status] = 0
		}
	}
	return counts, nil
}

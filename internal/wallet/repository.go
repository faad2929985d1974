package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartlink/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const walletColumns = `user_id, wallet_type, balance, total_purchased, total_spent, redeem_limit, next_redemption, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.Type, &w.Balance, &w.TotalPurchased, &w.TotalSpent, &w.Limit, &w.NextRedemption, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetForUpdate locks the wallet row. Call within a transaction. Returns
// pgx.ErrNoRows if the wallet does not exist.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets WHERE user_id = $1 AND wallet_type = $2 FOR UPDATE
	`, userID, walletType))
}

func (r *Repository) Get(ctx context.Context, userID uuid.UUID, walletType string) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets WHERE user_id = $1 AND wallet_type = $2
	`, userID, walletType))
}

// CreateWallet inserts a wallet row inside the given transaction.
func (r *Repository) CreateWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, wallet_type, balance, total_purchased, total_spent, redeem_limit, next_redemption)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, w.UserID, w.Type, w.Balance, w.TotalPurchased, w.TotalSpent, w.Limit, w.NextRedemption).Scan(&w.CreatedAt, &w.UpdatedAt)
}

// ApplyDelta atomically shifts the wallet balance, refusing any change that
// would go negative. Funding wallets fold positive deltas into
// total_purchased and negative ones into total_spent in the same statement.
// Returns the new balance; pgx.ErrNoRows means the guard rejected the change.
func (r *Repository) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $3,
		    total_purchased = total_purchased + CASE WHEN wallet_type = 'FUNDING' AND $3 > 0 THEN $3 ELSE 0 END,
		    total_spent = total_spent + CASE WHEN wallet_type = 'FUNDING' AND $3 < 0 THEN -$3 ELSE 0 END,
		    updated_at = now()
		WHERE user_id = $1 AND wallet_type = $2 AND balance + $3 >= 0
		RETURNING balance
	`, userID, walletType, delta).Scan(&newBalance)
	return newBalance, err
}

// SetNextRedemption advances the redeem wallet's cooldown marker.
func (r *Repository) SetNextRedemption(ctx context.Context, tx pgx.Tx, userID uuid.UUID, next time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET next_redemption = $2, updated_at = now()
		WHERE user_id = $1 AND wallet_type = $3
	`, userID, next, models.WalletRedeem)
	return err
}

// InsertTransaction appends a ledger row inside the given transaction.
func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, tx_type, wallet_type, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.UserID, t.Type, t.WalletType, t.Amount, t.Description).Scan(&t.CreatedAt)
}

// Filter narrows transaction listings. Zero values mean "no constraint".
type Filter struct {
	Type       string
	WalletType string
	From       time.Time
	To         time.Time
}

func (f Filter) where(args []any) (string, []any) {
	clause := ""
	if f.Type != "" {
		args = append(args, f.Type)
		clause += fmt.Sprintf(" AND tx_type = $%d", len(args))
	}
	if f.WalletType != "" {
		args = append(args, f.WalletType)
		clause += fmt.Sprintf(" AND wallet_type = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		clause += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		clause += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	return clause, args
}

// ListTransactions returns one page of a user's ledger, newest first, plus
// the total row count under the same filter.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, f Filter, page, perPage int) ([]*models.Transaction, int, error) {
	clause, args := f.where([]any{userID})

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, tx_type, wallet_type, amount, description, created_at
		FROM transactions WHERE user_id = $1%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.WalletType, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &t)
	}
	return list, total, rows.Err()
}

// SumTransactions aggregates amounts by transaction type under the filter.
func (r *Repository) SumTransactions(ctx context.Context, userID uuid.UUID, f Filter) (map[string]int, error) {
	clause, args := f.where([]any{userID})
	rows, err := r.pool.Query(ctx, `
		SELECT tx_type, COALESCE(SUM(amount), 0)
		FROM transactions WHERE user_id = $1`+clause+`
		GROUP BY tx_type
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]int)
	for rows.Next() {
		var txType string
		var sum int
		if err := rows.Scan(&txType, &sum); err != nil {
			return nil, err
		}
		sums[txType] = sum
	}
	return sums, rows.Err()
}

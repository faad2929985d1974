package topup

import (
	"context"
	"fmt"

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

const requestColumns = `id, user_id, package_id, payment_method, status, processor_id, reject_reason, created_at, resolved_at`

func scanRequest(row pgx.Row) (*models.TopUpRequest, error) {
	var req models.TopUpRequest
	err := row.Scan(&req.ID, &req.UserID, &req.PackageID, &req.PaymentMethod, &req.Status, &req.ProcessorID, &req.RejectReason, &req.CreatedAt, &req.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Repository) Create(ctx context.Context, req *models.TopUpRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO topup_requests (id, user_id, package_id, payment_method, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, req.ID, req.UserID, req.PackageID, req.PaymentMethod, req.Status).Scan(&req.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.TopUpRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM topup_requests WHERE id = $1
	`, id))
}

// Resolve moves a PENDING request to a terminal state inside the given
// transaction. The status guard makes racing resolutions lose cleanly:
// false means the request was no longer PENDING.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, processorID *uuid.UUID, reason *string) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE topup_requests
		SET status = $2, processor_id = $3, reject_reason = $4, resolved_at = now()
		WHERE id = $1 AND status = $5
	`, id, status, processorID, reason, models.TopUpPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ListFilter narrows request listings. Zero values mean "no constraint".
type ListFilter struct {
	UserID uuid.UUID
	Status string
}

func (r *Repository) List(ctx context.Context, f ListFilter, page, perPage int) ([]*models.TopUpRequest, int, error) {
	clause := ""
	args := []any{}
	if f.UserID != uuid.Nil {
		args = append(args, f.UserID)
		clause += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		clause += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM topup_requests WHERE TRUE`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM topup_requests WHERE TRUE%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, requestColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*models.TopUpRequest
	for rows.Next() {
		var req models.TopUpRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.PackageID, &req.PaymentMethod, &req.Status, &req.ProcessorID, &req.RejectReason, &req.CreatedAt, &req.ResolvedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &req)
	}
	return list, total, rows.Err()
}

// CountByStatus returns request counts keyed by status.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM topup_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

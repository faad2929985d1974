package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartlink/backend/internal/models"
)

// ErrPackageNotFound is returned when the package id does not exist or the
// offering is no longer active.
var ErrPackageNotFound = errors.New("credit package not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	var p models.CreditPackage
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, credits, bonus_credits, price_cents, active, created_at
		FROM credit_packages WHERE id = $1 AND active
	`, id).Scan(&p.ID, &p.Name, &p.Credits, &p.BonusCredits, &p.PriceCents, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListPackages(ctx context.Context) ([]*models.CreditPackage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, credits, bonus_credits, price_cents, active, created_at
		FROM credit_packages WHERE active ORDER BY price_cents
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditPackage
	for rows.Next() {
		var p models.CreditPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.BonusCredits, &p.PriceCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

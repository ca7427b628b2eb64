package policy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/routefare/routefare/internal/platform/db"
)

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository provides PostgreSQL backed policy persistence.
type Repository struct {
	pool Pool
}

// NewRepository constructs a repository.
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, name, daily_rate, grace_days, max_late_fee, is_active, created_at, updated_at`

func scanPolicy(row pgx.Row) (*LateFeePolicy, error) {
	var p LateFeePolicy
	err := row.Scan(&p.ID, &p.Name, &p.DailyRate, &p.GraceDays, &p.MaxLateFee, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActive returns the active policy.
func (r *Repository) GetActive(ctx context.Context) (*LateFeePolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM late_fee_policies WHERE is_active ORDER BY updated_at DESC LIMIT 1`
	return scanPolicy(r.pool.QueryRow(ctx, query))
}

// Get returns one policy by id.
func (r *Repository) Get(ctx context.Context, id int64) (*LateFeePolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM late_fee_policies WHERE id = $1`
	return scanPolicy(r.pool.QueryRow(ctx, query, id))
}

// List returns all policies, newest first.
func (r *Repository) List(ctx context.Context) ([]LateFeePolicy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM late_fee_policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []LateFeePolicy
	for rows.Next() {
		var p LateFeePolicy
		err := rows.Scan(&p.ID, &p.Name, &p.DailyRate, &p.GraceDays, &p.MaxLateFee, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Create inserts a policy. When input.Activate is set the new policy
// becomes the active one and every other policy is deactivated in the
// same transaction.
func (r *Repository) Create(ctx context.Context, input CreatePolicyInput) (*LateFeePolicy, error) {
	var created *LateFeePolicy
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if input.Activate {
			if _, err := tx.Exec(ctx, `UPDATE late_fee_policies SET is_active = FALSE, updated_at = NOW() WHERE is_active`); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO late_fee_policies (name, daily_rate, grace_days, max_late_fee, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			RETURNING `+policyColumns,
			input.Name, input.DailyRate, input.GraceDays, input.MaxLateFee, input.Activate)
		p, err := scanPolicy(row)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	return created, err
}

// Activate makes the given policy the single active one.
func (r *Repository) Activate(ctx context.Context, id int64) (*LateFeePolicy, error) {
	var activated *LateFeePolicy
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE late_fee_policies SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, id); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			UPDATE late_fee_policies SET is_active = TRUE, updated_at = NOW()
			WHERE id = $1
			RETURNING `+policyColumns, id)
		p, err := scanPolicy(row)
		if err != nil {
			return err
		}
		activated = p
		return nil
	})
	return activated, err
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/models"
)

type BalanceRepo struct {
	DB DBTX
}

const ensureBalance = `-- name: EnsureBalance
INSERT INTO balances (user_id, current)
VALUES ($1, 0)
ON CONFLICT (user_id) DO NOTHING
`

const lockBalance = `-- name: LockBalance
SELECT user_id, current, updated_at FROM balances
WHERE user_id = $1
FOR UPDATE
`

// Acquire makes sure the accumulator row exists and takes its row lock.
// Concurrent operations on the same user queue up here until the caller's
// transaction commits or rolls back.
func (r *BalanceRepo) Acquire(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	var b models.Balance

	_, err := r.DB.Exec(ctx, ensureBalance, userID)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	rows, _ := r.DB.Query(ctx, lockBalance, userID)
	b, err = pgx.CollectOneRow(rows, rowToBalance)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	return b, nil
}

const adjustBalance = `-- name: AdjustBalance
INSERT INTO balances (user_id, current, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE
SET current = balances.current + EXCLUDED.current, updated_at = now()
RETURNING user_id, current, updated_at
`

func (r *BalanceRepo) Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, adjustBalance, userID, delta)
	b, err := pgx.CollectOneRow(rows, rowToBalance)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	return b, nil
}

const getBalance = `-- name: GetBalance
SELECT user_id, current, updated_at FROM balances
WHERE user_id = $1
`

func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, getBalance, userID)
	b, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrUserNotFound
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.UserID, &b.Current, &b.UpdatedAt)
	return b, err
}

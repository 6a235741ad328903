package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/models"
)

type PoolRepo struct {
	DB DBTX
}

const getPool = `-- name: GetPool
SELECT pool_id, balance, updated_at FROM pool_accounts
WHERE pool_id = $1
`

func (r *PoolRepo) Get(ctx context.Context, poolID string) (models.PoolAccount, error) {
	rows, _ := r.DB.Query(ctx, getPool, poolID)
	pool, err := pgx.CollectOneRow(rows, rowToPool)

	switch {
	case err == nil:
		return pool, nil
	case errors.Is(err, pgx.ErrNoRows):
		return pool, apperrors.ErrPoolNotFound
	default:
		return pool, fmt.Errorf("db error: %w", err)
	}
}

const listPools = `-- name: ListPools
SELECT pool_id, balance, updated_at FROM pool_accounts
ORDER BY pool_id
`

func (r *PoolRepo) List(ctx context.Context) ([]models.PoolAccount, error) {
	rows, _ := r.DB.Query(ctx, listPools)
	pools, err := pgx.CollectRows(rows, rowToPool)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return pools, nil
}

const addToPool = `-- name: AddToPool
UPDATE pool_accounts
SET balance = balance + $2, updated_at = now()
WHERE pool_id = $1
RETURNING pool_id, balance, updated_at
`

func (r *PoolRepo) Add(ctx context.Context, poolID string, delta decimal.Decimal) (models.PoolAccount, error) {
	rows, _ := r.DB.Query(ctx, addToPool, poolID, delta)
	pool, err := pgx.CollectOneRow(rows, rowToPool)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return pool, apperrors.ErrPoolInsufficient
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return pool, apperrors.ErrPoolNotFound
		}

		return pool, fmt.Errorf("db error: %w", err)
	}

	return pool, nil
}

const tryDebitPool = `-- name: TryDebitPool
UPDATE pool_accounts
SET balance = balance - $2, updated_at = now()
WHERE pool_id = $1 AND balance >= $2
`

// TryDebit debits the pool only when the balance covers the amount.
// Safe to race: the conditional update either hits or misses atomically.
func (r *PoolRepo) TryDebit(ctx context.Context, poolID string, amount decimal.Decimal) (bool, error) {
	tag, err := r.DB.Exec(ctx, tryDebitPool, poolID, amount)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func rowToPool(row pgx.CollectableRow) (models.PoolAccount, error) {
	var p models.PoolAccount
	err := row.Scan(&p.PoolID, &p.Balance, &p.UpdatedAt)
	return p, err
}

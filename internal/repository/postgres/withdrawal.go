package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/models"
)

type WithdrawalRepo struct {
	DB DBTX
}

const withdrawalColumns = `id, user_id, external_address, amount_requested, fee, burn, net_amount, external_amount, exchange_rate, voucher, status, created_at, updated_at`

const createWithdrawal = `-- name: CreateWithdrawal
INSERT INTO withdrawal_requests (id, user_id, external_address, amount_requested, fee, burn, net_amount, external_amount, exchange_rate, voucher, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + withdrawalColumns

func (r *WithdrawalRepo) Create(ctx context.Context, req models.WithdrawalRequest) (models.WithdrawalRequest, error) {
	rows, _ := r.DB.Query(ctx, createWithdrawal,
		req.ID, req.UserID, req.ExternalAddress,
		req.AmountRequested, req.Fee, req.Burn, req.NetAmount,
		req.ExternalAmount, req.ExchangeRate, req.Voucher, req.Status)
	created, err := pgx.CollectOneRow(rows, rowToWithdrawal)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getWithdrawal = `-- name: GetWithdrawal
SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
WHERE id = $1
`

func (r *WithdrawalRepo) Get(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	rows, _ := r.DB.Query(ctx, getWithdrawal, id)
	req, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return req, nil
	case errors.Is(err, pgx.ErrNoRows):
		return req, apperrors.ErrWithdrawalNotFound
	default:
		return req, fmt.Errorf("db error: %w", err)
	}
}

const listWithdrawalsByStatus = `-- name: ListWithdrawalsByStatus
SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
WHERE status = $1
ORDER BY created_at
LIMIT $2
`

func (r *WithdrawalRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, _ := r.DB.Query(ctx, listWithdrawalsByStatus, status, limit)
	reqs, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return reqs, nil
}

const updateWithdrawalStatus = `-- name: UpdateWithdrawalStatus
UPDATE withdrawal_requests
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
RETURNING ` + withdrawalColumns

// UpdateStatus transitions the request forward. The conditional update
// makes a lost transition visible instead of silently reapplying it.
func (r *WithdrawalRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from string, to string) (models.WithdrawalRequest, error) {
	rows, _ := r.DB.Query(ctx, updateWithdrawalStatus, id, from, to)
	req, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	if err == nil {
		return req, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		// Either the request does not exist or it left 'from' already
		_, getErr := r.Get(ctx, id)
		if getErr != nil {
			return req, getErr
		}

		switch from {
		case models.WithdrawalStatusPending:
			return req, apperrors.ErrWithdrawalNotPending
		default:
			return req, apperrors.ErrWithdrawalNotApproved
		}
	}

	return req, fmt.Errorf("db error: %w", err)
}

func rowToWithdrawal(row pgx.CollectableRow) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.UserID, &w.ExternalAddress,
		&w.AmountRequested, &w.Fee, &w.Burn, &w.NetAmount,
		&w.ExternalAmount, &w.ExchangeRate, &w.Voucher, &w.Status,
		&w.CreatedAt, &w.UpdatedAt)
	return w, err
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
)

type LedgerRepo struct {
	DB DBTX
}

const appendEntry = `-- name: AppendEntry
INSERT INTO ledger_entries (id, user_id, type, amount, meta, sig, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, type, amount, meta, sig, created_at
`

func (r *LedgerRepo) AppendEntry(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if entry.Amount.IsZero() {
		return entry, apperrors.ErrZeroAmount
	}

	if entry.Meta == nil {
		entry.Meta = map[string]string{}
	}

	rows, _ := r.DB.Query(ctx, appendEntry,
		entry.ID, entry.UserID, entry.Type, entry.Amount, entry.Meta, entry.Sig, entry.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToEntry)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// The partial unique index on one-time grant types fired
			return created, apperrors.ErrAlreadyGranted
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const sumEntries = `-- name: SumEntries
SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
WHERE user_id = $1
`

func (r *LedgerRepo) SumEntries(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.DB.QueryRow(ctx, sumEntries, userID).Scan(&sum)
	if err != nil {
		return sum, fmt.Errorf("db error: %w", err)
	}

	return sum, nil
}

func (r *LedgerRepo) ListEntries(ctx context.Context, opts repository.ListEntriesOpts) ([]models.LedgerEntry, error) {
	const listEntries = `-- name: ListEntries
	SELECT id, user_id, type, amount, meta, sig, created_at FROM ledger_entries
	WHERE user_id = $1
	  AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))
	  AND created_at >= $3
	ORDER BY created_at DESC
	LIMIT $4
	`

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	types := opts.Types
	if types == nil {
		types = []string{}
	}

	rows, _ := r.DB.Query(ctx, listEntries, opts.UserID, types, opts.Since, limit)
	entries, err := pgx.CollectRows(rows, rowToEntry)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}

const listEntriesPage = `-- name: ListEntriesPage
SELECT id, user_id, type, amount, meta, sig, created_at FROM ledger_entries
WHERE user_id = $1 AND (created_at, id) > ($2, $3)
ORDER BY created_at, id
LIMIT $4
`

func (r *LedgerRepo) ListEntriesPage(ctx context.Context, userID uuid.UUID, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, _ := r.DB.Query(ctx, listEntriesPage, userID, afterCreatedAt, afterID, limit)
	entries, err := pgx.CollectRows(rows, rowToEntry)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}

const hasEntry = `-- name: HasEntry
SELECT EXISTS (
	SELECT 1 FROM ledger_entries WHERE user_id = $1 AND type = $2
)
`

func (r *LedgerRepo) HasEntry(ctx context.Context, userID uuid.UUID, entryType string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, hasEntry, userID, entryType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

const hasEntryWithMeta = `-- name: HasEntryWithMeta
SELECT EXISTS (
	SELECT 1 FROM ledger_entries WHERE type = $1 AND meta->>$2 = $3
)
`

func (r *LedgerRepo) HasEntryWithMeta(ctx context.Context, entryType string, key string, value string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, hasEntryWithMeta, entryType, key, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

const topSpenders = `-- name: TopSpenders
SELECT user_id, -SUM(amount) AS spent FROM ledger_entries
WHERE type = 'spend_debit' AND created_at >= $1
GROUP BY user_id
ORDER BY spent DESC
LIMIT $2
`

func (r *LedgerRepo) TopSpenders(ctx context.Context, since time.Time, limit int) ([]models.TopSpender, error) {
	rows, _ := r.DB.Query(ctx, topSpenders, since, limit)
	spenders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TopSpender, error) {
		var s models.TopSpender
		err := row.Scan(&s.UserID, &s.Spent)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return spenders, nil
}

const listUserIDs = `-- name: ListUserIDs
SELECT DISTINCT user_id FROM ledger_entries
`

func (r *LedgerRepo) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, _ := r.DB.Query(ctx, listUserIDs)
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return ids, nil
}

func rowToEntry(row pgx.CollectableRow) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Meta, &e.Sig, &e.CreatedAt)
	return e, err
}

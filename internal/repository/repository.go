package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/models"
)

type ListEntriesOpts struct {
	UserID uuid.UUID
	Types  []string
	Since  time.Time
	Limit  int
}

// Ledger repository interface
// Entries are append only: no update or delete methods exist on purpose
type LedgerRepo interface {
	// Append entry exactly as provided (id, created_at and sig are set by the caller)
	// Must return apperrors.ErrZeroAmount for zero amounts
	// Must return apperrors.ErrAlreadyGranted when a one-time grant entry already exists
	AppendEntry(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)

	// Balance as defined: the sum of amounts over the user's entries
	SumEntries(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)

	ListEntries(ctx context.Context, opts ListEntriesOpts) ([]models.LedgerEntry, error)

	// Entries for a user in stable (created_at, id) order, keyset paged.
	// Unlike ListEntries there is no implicit cap: walking pages until a
	// short page visits the user's full history. Used by the reconciler
	ListEntriesPage(ctx context.Context, userID uuid.UUID, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]models.LedgerEntry, error)

	// Reports whether the user has at least one entry of the given type
	HasEntry(ctx context.Context, userID uuid.UUID, entryType string) (bool, error)

	// Reports whether any entry of the given type carries meta[key] == value.
	// Used to guard prediction settlement against a repeated market id.
	HasEntryWithMeta(ctx context.Context, entryType string, key string, value string) (bool, error)

	// Leaderboard aggregate: users ordered by total spend debits since 'since'
	TopSpenders(ctx context.Context, since time.Time, limit int) ([]models.TopSpender, error)

	// Every user that has ledger entries. Used by the reconciler
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Balance accumulator repository interface
// The accumulator is a projection of the ledger, adjusted only inside the
// same transaction that appends entries
type BalanceRepo interface {
	// Ensure the user's row exists and take its row lock (FOR UPDATE).
	// Serializes concurrent operations on the same user for the rest of
	// the transaction
	Acquire(ctx context.Context, userID uuid.UUID) (models.Balance, error)

	// Add delta (may be negative) to the user's accumulator, creating the
	// row when missing
	Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (models.Balance, error)

	Get(ctx context.Context, userID uuid.UUID) (models.Balance, error)
}

// Pool accounts repository interface
type PoolRepo interface {
	Get(ctx context.Context, poolID string) (models.PoolAccount, error)
	List(ctx context.Context) ([]models.PoolAccount, error)

	// Add delta to the pool balance. Negative deltas that would take the
	// balance below zero fail with apperrors.ErrPoolInsufficient
	Add(ctx context.Context, poolID string, delta decimal.Decimal) (models.PoolAccount, error)

	// Debit amount only if the pool covers it, reports whether it did
	TryDebit(ctx context.Context, poolID string, amount decimal.Decimal) (bool, error)
}

// Referral events repository interface
type ReferralRepo interface {
	CreateEvent(ctx context.Context, event models.ReferralEvent) (models.ReferralEvent, error)

	// Leaderboard aggregate: level-1 referrers ordered by rewards earned since 'since'
	TopReferrers(ctx context.Context, since time.Time, limit int) ([]models.TopReferrer, error)
}

// Withdrawal requests repository interface
type WithdrawalRepo interface {
	Create(ctx context.Context, req models.WithdrawalRequest) (models.WithdrawalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.WithdrawalRequest, error)

	// Transition the request from status 'from' to status 'to'.
	// Must return apperrors.ErrWithdrawalNotPending (or NotApproved) when
	// the request is no longer in 'from': transitions move forward only
	UpdateStatus(ctx context.Context, id uuid.UUID, from string, to string) (models.WithdrawalRequest, error)
}

// Wheel spins repository interface
type WheelSpinRepo interface {
	Create(ctx context.Context, spin models.WheelSpin) (models.WheelSpin, error)

	// Count of the user's spins created at or after 'since'.
	// The quota check passes since = UTC midnight
	CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// Storage aggregates every repository and runs transactions
type Storage interface {
	Ledger() LedgerRepo
	Balance() BalanceRepo
	Pool() PoolRepo
	Referral() ReferralRepo
	Withdrawal() WithdrawalRepo
	WheelSpin() WheelSpinRepo

	// Run fn within a database transaction: either every write in fn
	// commits or none do
	InTx(ctx context.Context, fn func(Storage) error) error
}

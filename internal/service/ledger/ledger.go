package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/signing"
)

// Service is the ledger store surface: balance reads, external funding
// events and the leaderboard aggregates. Spend distribution, grants and
// the rest write through their own services but share the same entry
// construction via SignedEntry.
type Service struct {
	storage repository.Storage
	signer  *signing.Signer
	logger  logger.Logger
}

func NewService(storage repository.Storage, signer *signing.Signer, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		signer:  signer,
		logger:  l,
	}
}

// SignedEntry builds a fully formed ledger entry: fresh id, timestamp at
// postgres precision and the MAC over the immutable fields.
func SignedEntry(signer *signing.Signer, userID uuid.UUID, entryType string, amount decimal.Decimal, meta map[string]string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry

	if amount.IsZero() {
		return entry, apperrors.ErrZeroAmount
	}

	id := uuid.New()
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	sig, err := signer.Sign(id, userID, entryType, amount, createdAt)
	if err != nil {
		return entry, fmt.Errorf("error while signing ledger entry. Err: %w", err)
	}

	return models.LedgerEntry{
		ID:        id,
		UserID:    userID,
		Type:      entryType,
		Amount:    amount,
		Meta:      meta,
		Sig:       sig,
		CreatedAt: createdAt,
	}, nil
}

// GetBalance returns the user's balance as defined: the sum of amounts
// over all their ledger entries
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.storage.Ledger().SumEntries(ctx, userID)
}

// Deposit records an externally triggered funding event (fiat or crypto
// deposit confirmed by a collaborator) as a credit entry
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, meta map[string]string) (models.LedgerEntry, error) {
	var created models.LedgerEntry

	if !amount.IsPositive() {
		return created, apperrors.ErrZeroAmount
	}

	entry, err := SignedEntry(s.signer, userID, models.EntryTypeDeposit, amount, meta)
	if err != nil {
		return created, err
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		created, err = st.Ledger().AppendEntry(ctx, entry)
		if err != nil {
			return err
		}

		_, err = st.Balance().Adjust(ctx, userID, amount)
		return err
	})
	if err != nil {
		return created, err
	}

	s.logger.Info("Deposit recorded", "user_id", userID, "amount", amount)
	return created, nil
}

// ListEntries returns the user's recent ledger history
func (s *Service) ListEntries(ctx context.Context, opts repository.ListEntriesOpts) ([]models.LedgerEntry, error) {
	return s.storage.Ledger().ListEntries(ctx, opts)
}

// PoolBalances returns every pool account for display
func (s *Service) PoolBalances(ctx context.Context) ([]models.PoolAccount, error) {
	return s.storage.Pool().List(ctx)
}

// TopSpenders returns the leaderboard of spenders over the window ending now
func (s *Service) TopSpenders(ctx context.Context, window time.Duration, limit int) ([]models.TopSpender, error) {
	since := time.Now().UTC().Add(-window)
	return s.storage.Ledger().TopSpenders(ctx, since, limit)
}

// TopReferrers returns the leaderboard of level-1 referrers over the window
func (s *Service) TopReferrers(ctx context.Context, window time.Duration, limit int) ([]models.TopReferrer, error) {
	since := time.Now().UTC().Add(-window)
	return s.storage.Referral().TopReferrers(ctx, since, limit)
}

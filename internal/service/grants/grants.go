// Package grants issues the one-time, time-boxed promotional credits:
// the onboarding bonus and the referral milestone bonus.
package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/service/ledger"
	"github.com/mystlabs/mystledger/internal/signing"
)

// IdentityStore provides the confirmed referral count for milestone
// eligibility: how many users name this user as their referrer.
type IdentityStore interface {
	ReferralCount(ctx context.Context, userID uuid.UUID) (int, error)
}

type Config struct {
	// Onboarding bonus amount and its hard cutoff. No grants at or
	// after the cutoff
	OnboardingAmount decimal.Decimal
	OnboardingCutoff time.Time

	// Referral milestone bonus: granted once the user has at least
	// MinReferrals confirmed referrals, before the cutoff
	MilestoneAmount  decimal.Decimal
	MilestoneCutoff  time.Time
	MinReferrals     int
}

// Result of a grant attempt. Not granting is a normal outcome, the reason
// says why
type Result struct {
	Granted bool
	Reason  string
}

type Service struct {
	cfg      Config
	storage  repository.Storage
	identity IdentityStore
	signer   *signing.Signer
	logger   logger.Logger

	// injectable clock for cutoff tests
	now func() time.Time
}

func NewService(cfg Config, storage repository.Storage, identity IdentityStore, signer *signing.Signer, l logger.Logger) (*Service, error) {
	if !cfg.OnboardingAmount.IsPositive() {
		return nil, errors.New("onboarding amount must be positive")
	}
	if !cfg.MilestoneAmount.IsPositive() {
		return nil, errors.New("milestone amount must be positive")
	}
	if cfg.MinReferrals <= 0 {
		return nil, errors.New("min referrals must be positive")
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		identity: identity,
		signer:   signer,
		logger:   l,
		now:      time.Now,
	}, nil
}

// GrantOnboardingIfEligible issues the onboarding bonus once per user,
// before the cutoff
func (s *Service) GrantOnboardingIfEligible(ctx context.Context, userID uuid.UUID) (Result, error) {
	if !s.now().Before(s.cfg.OnboardingCutoff) {
		return Result{Reason: "onboarding period is over"}, nil
	}

	return s.grant(ctx, userID, models.EntryTypeOnboardingBonus, s.cfg.OnboardingAmount)
}

// GrantReferralMilestoneIfEligible issues the milestone bonus once the
// user has enough confirmed referrals, before the cutoff
func (s *Service) GrantReferralMilestoneIfEligible(ctx context.Context, userID uuid.UUID) (Result, error) {
	if !s.now().Before(s.cfg.MilestoneCutoff) {
		return Result{Reason: "milestone period is over"}, nil
	}

	count, err := s.identity.ReferralCount(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("error while counting referrals. Err: %w", err)
	}
	if count < s.cfg.MinReferrals {
		return Result{Reason: fmt.Sprintf("needs %d confirmed referrals, has %d", s.cfg.MinReferrals, count)}, nil
	}

	return s.grant(ctx, userID, models.EntryTypeReferralMilestone, s.cfg.MilestoneAmount)
}

// grant checks and inserts in one atomic unit. The existence check runs
// under the user's row lock and the partial unique index on grant entry
// types backstops it, so two concurrent calls can never both insert.
func (s *Service) grant(ctx context.Context, userID uuid.UUID, entryType string, amount decimal.Decimal) (Result, error) {
	var result Result

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.Balance().Acquire(ctx, userID); err != nil {
			return err
		}

		granted, err := st.Ledger().HasEntry(ctx, userID, entryType)
		if err != nil {
			return err
		}
		if granted {
			return apperrors.ErrAlreadyGranted
		}

		entry, err := ledger.SignedEntry(s.signer, userID, entryType, amount, nil)
		if err != nil {
			return err
		}

		if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
			return err
		}

		_, err = st.Balance().Adjust(ctx, userID, amount)
		return err
	})

	switch {
	case err == nil:
		result = Result{Granted: true, Reason: "granted"}
		s.logger.Info("Promotional grant issued", "user_id", userID, "type", entryType, "amount", amount)
		return result, nil
	case errors.Is(err, apperrors.ErrAlreadyGranted):
		return Result{Reason: "already granted"}, nil
	default:
		return result, err
	}
}

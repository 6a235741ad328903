// Package wheel implements the daily prize wheel: a weighted random draw
// over configured prize tiers, capped per day and constrained by the
// wheel pool's solvency.
package wheel

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
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

const defaultDailyCap = 3

// Prize tier kinds: experience points (non-monetary) or a MYST credit
const (
	PrizeXP   = "xp"
	PrizeMyst = "myst"
)

type PrizeTier struct {
	Name   string
	Kind   string
	Weight int64

	// Amount for myst tiers, Points for xp tiers
	Amount decimal.Decimal
	Points int
}

// XPGranter credits experience points through the progression
// collaborator. Called inside the spin transaction, so a failed XP credit
// aborts the spin.
type XPGranter interface {
	GrantXP(ctx context.Context, userID uuid.UUID, points int) error
}

type Config struct {
	// Spins allowed per user per UTC day
	DailyCap int

	// Prize table. Must contain at least one xp tier: the first one is
	// the guaranteed fallback when the wheel pool cannot cover a myst
	// prize
	Tiers []PrizeTier
}

// SpinResult is what the caller shows the user.
type SpinResult struct {
	Prize          PrizeTier
	Downgraded     bool
	SpinsRemaining int
	PoolBalance    decimal.Decimal
}

type Service struct {
	cfg      Config
	storage  repository.Storage
	xp       XPGranter
	signer   *signing.Signer
	logger   logger.Logger
	fallback PrizeTier

	// injectable randomness for deterministic draw tests, returns a
	// value in [0, n)
	randInt func(n int64) int64
}

func NewService(cfg Config, storage repository.Storage, xp XPGranter, signer *signing.Signer, l logger.Logger) (*Service, error) {
	if cfg.DailyCap == 0 {
		cfg.DailyCap = defaultDailyCap
	}
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("prize table must not be empty")
	}

	var fallback *PrizeTier
	for i, tier := range cfg.Tiers {
		switch tier.Kind {
		case PrizeXP:
			if fallback == nil {
				fallback = &cfg.Tiers[i]
			}
		case PrizeMyst:
			if !tier.Amount.IsPositive() {
				return nil, fmt.Errorf("myst tier %q must have a positive amount", tier.Name)
			}
		default:
			return nil, fmt.Errorf("unknown prize kind %q", tier.Kind)
		}

		if tier.Weight <= 0 {
			return nil, fmt.Errorf("tier %q must have a positive weight", tier.Name)
		}
	}
	if fallback == nil {
		return nil, errors.New("prize table needs an xp tier as the guaranteed fallback")
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:      cfg,
		storage:  storage,
		xp:       xp,
		signer:   signer,
		logger:   l,
		fallback: *fallback,
		randInt:  rand.Int64N,
	}, nil
}

// Spin draws a prize for the user. A myst prize the pool cannot cover is
// downgraded to the fallback xp tier, never an error.
func (s *Service) Spin(ctx context.Context, userID uuid.UUID) (SpinResult, error) {
	var result SpinResult

	drawn := s.draw()

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		// The user's row lock serializes concurrent spins, so the quota
		// count below cannot be passed twice at the cap
		if _, err := st.Balance().Acquire(ctx, userID); err != nil {
			return err
		}

		midnight := utcMidnight(time.Now())
		count, err := st.WheelSpin().CountSince(ctx, userID, midnight)
		if err != nil {
			return err
		}
		if count >= s.cfg.DailyCap {
			return apperrors.ErrQuotaExceeded
		}

		prize := drawn
		downgraded := false

		if prize.Kind == PrizeMyst {
			covered, err := st.Pool().TryDebit(ctx, models.PoolWheel, prize.Amount)
			if err != nil {
				return err
			}
			if !covered {
				prize = s.fallback
				downgraded = true
			}
		}

		switch prize.Kind {
		case PrizeMyst:
			meta := map[string]string{"prize": prize.Name}
			entry, err := ledger.SignedEntry(s.signer, userID, models.EntryTypeWheelPrize, prize.Amount, meta)
			if err != nil {
				return err
			}
			if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
				return err
			}
			if _, err := st.Balance().Adjust(ctx, userID, prize.Amount); err != nil {
				return err
			}
		case PrizeXP:
			if err := s.xp.GrantXP(ctx, userID, prize.Points); err != nil {
				return fmt.Errorf("error while granting xp prize. Err: %w", err)
			}
		}

		if _, err := st.WheelSpin().Create(ctx, models.WheelSpin{
			ID:           uuid.New(),
			UserID:       userID,
			PrizeAwarded: prize.Name,
		}); err != nil {
			return err
		}

		pool, err := st.Pool().Get(ctx, models.PoolWheel)
		if err != nil {
			return err
		}

		result = SpinResult{
			Prize:          prize,
			Downgraded:     downgraded,
			SpinsRemaining: s.cfg.DailyCap - count - 1,
			PoolBalance:    pool.Balance,
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	s.logger.Info("Wheel spun",
		"user_id", userID,
		"prize", result.Prize.Name,
		"downgraded", result.Downgraded,
		"spins_remaining", result.SpinsRemaining,
	)

	return result, nil
}

// SpinsRemaining reports how many spins the user has left today
func (s *Service) SpinsRemaining(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.storage.WheelSpin().CountSince(ctx, userID, utcMidnight(time.Now()))
	if err != nil {
		return 0, err
	}

	remaining := s.cfg.DailyCap - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// draw picks a tier by cumulative weight
func (s *Service) draw() PrizeTier {
	var total int64
	for _, tier := range s.cfg.Tiers {
		total += tier.Weight
	}

	r := s.randInt(total)
	for _, tier := range s.cfg.Tiers {
		r -= tier.Weight
		if r < 0 {
			return tier
		}
	}

	// Unreachable when weights are positive
	return s.fallback
}

func utcMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

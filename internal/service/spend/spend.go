// Package spend implements the spend-distribution engine: it validates a
// spend against the user's balance, splits the amount across the reward
// pools, resolves the two-level referral payout and commits every
// resulting row in one transaction.
package spend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/service/ledger"
	"github.com/mystlabs/mystledger/internal/signing"
	"github.com/mystlabs/mystledger/internal/validate"
)

// Canonical split percentages. Earlier revisions of the product used
// 75/5/20 and 70/15/10/5 style splits; this configuration supersedes them.
var (
	defaultTreasuryPercent    = decimal.NewFromInt(70)
	defaultReferralPercent    = decimal.NewFromInt(15)
	defaultLeaderboardPercent = decimal.NewFromInt(10)
	defaultWheelPercent       = decimal.NewFromInt(5)

	// Inside the referral share, in percent of the original spend:
	// level-1 reward, level-2 reward, and the rest feeds the referral pool
	defaultRewardL1Percent = decimal.NewFromInt(8)
	defaultRewardL2Percent = decimal.NewFromInt(4)
)

var oneHundred = decimal.NewFromInt(100)

// IdentityStore is the single thing the engine needs from the external
// identity system: who referred a user. The second hop is resolved by
// asking again for the referrer.
type IdentityStore interface {
	ReferrerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error)
}

type Config struct {
	// Percent of every spend routed to each pool.
	// Zero values fall back to the canonical 70/15/10/5 configuration;
	// the four must sum to 100
	TreasuryPercent    decimal.Decimal
	ReferralPercent    decimal.Decimal
	LeaderboardPercent decimal.Decimal
	WheelPercent       decimal.Decimal

	// Referral rewards in percent of the original spend, not of the
	// referral share. L1+L2 must not exceed ReferralPercent; the
	// difference is the structural share the referral pool keeps
	RewardL1Percent decimal.Decimal
	RewardL2Percent decimal.Decimal
}

// Splits reports where a spend went, for observability and tests.
// Debit + every other field sums to zero.
type Splits struct {
	Amount      decimal.Decimal
	Treasury    decimal.Decimal
	Leaderboard decimal.Decimal
	Wheel       decimal.Decimal
	Referral    decimal.Decimal // structural share kept by the referral pool
	RewardL1    decimal.Decimal
	RewardL2    decimal.Decimal
	Edge        models.ReferralEdge
}

type Service struct {
	cfg      Config
	storage  repository.Storage
	identity IdentityStore
	signer   *signing.Signer
	logger   logger.Logger
}

func NewService(cfg Config, storage repository.Storage, identity IdentityStore, signer *signing.Signer, l logger.Logger) (*Service, error) {
	setDefault := func(field *decimal.Decimal, def decimal.Decimal) {
		if field.IsZero() {
			*field = def
		}
	}
	setDefault(&cfg.TreasuryPercent, defaultTreasuryPercent)
	setDefault(&cfg.ReferralPercent, defaultReferralPercent)
	setDefault(&cfg.LeaderboardPercent, defaultLeaderboardPercent)
	setDefault(&cfg.WheelPercent, defaultWheelPercent)
	setDefault(&cfg.RewardL1Percent, defaultRewardL1Percent)
	setDefault(&cfg.RewardL2Percent, defaultRewardL2Percent)

	sum := cfg.TreasuryPercent.Add(cfg.ReferralPercent).Add(cfg.LeaderboardPercent).Add(cfg.WheelPercent)
	if !sum.Equal(oneHundred) {
		return nil, fmt.Errorf("split percentages must sum to 100, got %s", sum)
	}

	if cfg.RewardL1Percent.Add(cfg.RewardL2Percent).GreaterThan(cfg.ReferralPercent) {
		return nil, errors.New("referral rewards must fit inside the referral share")
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
	}, nil
}

type spendParams struct {
	UserID    uuid.UUID `validate:"required"`
	SpendType string    `validate:"required"`
}

// Spend debits the user and distributes the amount. Balance is checked
// under the user's row lock inside the transaction, so concurrent spends
// on the same user serialize and can never jointly overdraw.
func (s *Service) Spend(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, spendType string, referenceID string) (Splits, error) {
	var splits Splits

	// Amount is checked by hand: a zero decimal would trip the struct
	// validator's required rule and hide the sentinel
	if !amount.IsPositive() {
		return splits, apperrors.ErrZeroAmount
	}

	err := validate.Struct(spendParams{UserID: userID, SpendType: spendType})
	if err != nil {
		return splits, err
	}

	edge, err := s.resolveEdge(ctx, userID)
	if err != nil {
		return splits, fmt.Errorf("error while resolving referral edge. Err: %w", err)
	}

	splits = s.computeSplits(amount, edge)

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		// Lock every balance row the spend will touch up front, in a
		// fixed global order. Referrer rewards adjust other users' rows;
		// without the ordering, two users who refer each other and spend
		// concurrently would lock in opposite order and deadlock
		for _, id := range lockOrder(userID, edge) {
			if _, err := st.Balance().Acquire(ctx, id); err != nil {
				return err
			}
		}

		// Re-check the balance from the ledger itself now that the
		// spender's row is locked: the pre-transaction read may be stale
		balance, err := st.Ledger().SumEntries(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return apperrors.ErrInsufficientBalance
		}

		meta := map[string]string{"spend_type": spendType}
		if referenceID != "" {
			meta["reference_id"] = referenceID
		}

		if err := s.append(ctx, st, userID, models.EntryTypeSpendDebit, amount.Neg(), meta); err != nil {
			return err
		}

		if splits.RewardL1.IsPositive() {
			if err := s.append(ctx, st, edge.Level1, models.EntryTypeReferralRewardL1, splits.RewardL1, meta); err != nil {
				return err
			}
		}
		if splits.RewardL2.IsPositive() {
			if err := s.append(ctx, st, edge.Level2, models.EntryTypeReferralRewardL2, splits.RewardL2, meta); err != nil {
				return err
			}
		}

		pools := []struct {
			id    string
			delta decimal.Decimal
		}{
			{models.PoolTreasury, splits.Treasury},
			{models.PoolLeaderboard, splits.Leaderboard},
			{models.PoolWheel, splits.Wheel},
			{models.PoolReferral, splits.Referral},
		}
		for _, p := range pools {
			if p.delta.IsZero() {
				continue
			}
			if _, err := st.Pool().Add(ctx, p.id, p.delta); err != nil {
				return err
			}
		}

		event := models.ReferralEvent{
			ID:           uuid.New(),
			UserID:       userID,
			RewardLevel1: splits.RewardL1,
			RewardLevel2: splits.RewardL2,
			AmountSpent:  amount,
			SpendType:    spendType,
			ReferenceID:  referenceID,
		}
		if edge.HasLevel1 {
			event.Level1ID = &edge.Level1
		}
		if edge.HasLevel2 {
			event.Level2ID = &edge.Level2
		}

		_, err = st.Referral().CreateEvent(ctx, event)
		return err
	})
	if err != nil {
		return splits, err
	}

	s.logger.Info("Spend distributed",
		"user_id", userID,
		"amount", amount,
		"spend_type", spendType,
		"reward_l1", splits.RewardL1,
		"reward_l2", splits.RewardL2,
	)

	return splits, nil
}

// append creates a signed entry and adjusts the owner's accumulator in
// the same transaction scope
func (s *Service) append(ctx context.Context, st repository.Storage, userID uuid.UUID, entryType string, amount decimal.Decimal, meta map[string]string) error {
	entry, err := ledger.SignedEntry(s.signer, userID, entryType, amount, meta)
	if err != nil {
		return err
	}

	if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
		return err
	}

	_, err = st.Balance().Adjust(ctx, userID, amount)
	return err
}

// lockOrder lists every balance row involved in the spend, sorted by
// UUID so concurrent spends always acquire locks in the same order
func lockOrder(userID uuid.UUID, edge models.ReferralEdge) []uuid.UUID {
	ids := []uuid.UUID{userID}
	if edge.HasLevel1 {
		ids = append(ids, edge.Level1)
	}
	if edge.HasLevel2 {
		ids = append(ids, edge.Level2)
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}

func (s *Service) resolveEdge(ctx context.Context, userID uuid.UUID) (models.ReferralEdge, error) {
	edge := models.ReferralEdge{UserID: userID}

	level1, ok, err := s.identity.ReferrerOf(ctx, userID)
	if err != nil {
		return edge, err
	}
	if !ok {
		return edge, nil
	}

	edge.Level1 = level1
	edge.HasLevel1 = true

	level2, ok, err := s.identity.ReferrerOf(ctx, level1)
	if err != nil {
		return edge, err
	}
	if ok {
		edge.Level2 = level2
		edge.HasLevel2 = true
	}

	return edge, nil
}

// computeSplits routes the amount. Every non-treasury share is truncated
// at base-unit precision and the treasury takes the remainder, so rounding
// never favors the user and the total always equals the amount. Unpaid
// referral rewards (missing referrer) fold into the treasury share too.
func (s *Service) computeSplits(amount decimal.Decimal, edge models.ReferralEdge) Splits {
	part := func(percent decimal.Decimal) decimal.Decimal {
		return amount.Mul(percent).Div(oneHundred).Truncate(models.MystDecimalPlaces)
	}

	splits := Splits{
		Amount:      amount,
		Leaderboard: part(s.cfg.LeaderboardPercent),
		Wheel:       part(s.cfg.WheelPercent),
		Edge:        edge,
	}

	// Structural referral-pool share: whatever the configured rewards
	// leave of the referral percent
	poolPercent := s.cfg.ReferralPercent.Sub(s.cfg.RewardL1Percent).Sub(s.cfg.RewardL2Percent)
	splits.Referral = part(poolPercent)

	if edge.HasLevel1 {
		splits.RewardL1 = part(s.cfg.RewardL1Percent)
	}
	if edge.HasLevel2 {
		splits.RewardL2 = part(s.cfg.RewardL2Percent)
	}

	splits.Treasury = amount.
		Sub(splits.Leaderboard).
		Sub(splits.Wheel).
		Sub(splits.Referral).
		Sub(splits.RewardL1).
		Sub(splits.RewardL2)

	return splits
}

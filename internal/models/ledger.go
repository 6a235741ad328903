package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MYST amounts are stored with fixed base-unit precision.
// Splits are truncated at this scale, remainders go to the treasury pool.
const MystDecimalPlaces = 8

// Ledger entry types. Entries are immutable facts: created, never updated
// or deleted. A user's balance is the sum of amounts over their entries.
const (
	EntryTypeDeposit             = "deposit"
	EntryTypeSpendDebit          = "spend_debit"
	EntryTypeReferralRewardL1    = "referral_reward_l1"
	EntryTypeReferralRewardL2    = "referral_reward_l2"
	EntryTypeOnboardingBonus     = "onboarding_bonus"
	EntryTypeReferralMilestone   = "referral_milestone"
	EntryTypePredictionWin       = "prediction_win"
	EntryTypeWithdrawalDebit     = "withdrawal_debit"
	EntryTypeWithdrawalReversal  = "withdrawal_reversal"
	EntryTypeWheelPrize          = "wheel_prize"
)

type LedgerEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Amount    decimal.Decimal
	Meta      map[string]string
	Sig       []byte
	CreatedAt time.Time
}

// Balance is the per-user accumulator row. Current is adjusted only inside
// the same transaction that appends ledger entries; the row doubles as the
// lock target that serializes per-user operations. The ledger summation
// remains the source of truth, the reconciler audits the two against each
// other.
type Balance struct {
	UserID    uuid.UUID
	Current   decimal.Decimal
	UpdatedAt time.Time
}

// TopSpender is a leaderboard aggregate over spend debits in a time window.
type TopSpender struct {
	UserID uuid.UUID
	Spent  decimal.Decimal
}

// TopReferrer aggregates referral rewards earned in a time window.
type TopReferrer struct {
	UserID  uuid.UUID
	Rewards decimal.Decimal
	Spends  int64
}

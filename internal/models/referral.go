package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralEdge is the one or two hop referrer chain for a user, resolved
// from the identity store at spend time: the user's referrer, then the
// referrer's own referrer.
type ReferralEdge struct {
	UserID     uuid.UUID
	Level1     uuid.UUID
	HasLevel1  bool
	Level2     uuid.UUID
	HasLevel2  bool
}

// ReferralEvent is the audit row written for every spend. Created, never
// mutated.
type ReferralEvent struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Level1ID      *uuid.UUID
	RewardLevel1  decimal.Decimal
	Level2ID      *uuid.UUID
	RewardLevel2  decimal.Decimal
	AmountSpent   decimal.Decimal
	SpendType     string
	ReferenceID   string
	CreatedAt     time.Time
}

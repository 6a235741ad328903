package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool account ids. Seeded by migration, balance never below zero.
const (
	PoolTreasury    = "treasury"
	PoolReferral    = "referral"
	PoolWheel       = "wheel"
	PoolLeaderboard = "leaderboard"
	PoolBurn        = "burn"
)

// AllPools lists every pool the migrations seed.
var AllPools = []string{PoolTreasury, PoolReferral, PoolWheel, PoolLeaderboard, PoolBurn}

type PoolAccount struct {
	PoolID    string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

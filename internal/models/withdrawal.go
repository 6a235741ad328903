package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal request states. Transitions move forward only:
// pending -> approved -> paid, or pending -> rejected.
const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusRejected = "rejected"
	WithdrawalStatusPaid     = "paid"
)

type WithdrawalRequest struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ExternalAddress string
	AmountRequested decimal.Decimal
	Fee             decimal.Decimal
	Burn            decimal.Decimal
	NetAmount       decimal.Decimal
	ExternalAmount  decimal.Decimal
	ExchangeRate    decimal.Decimal // snapshot at request time, never updated
	Voucher         string          // signed payout voucher for the external processor
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

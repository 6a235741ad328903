package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound = errors.New("user not found")

	// Spend and withdrawal validation
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("amount must be positive")

	// Promotional grants
	ErrAlreadyGranted = errors.New("grant already issued")

	// Withdrawal processing
	ErrBelowMinimum          = errors.New("converted net amount below configured minimum")
	ErrWithdrawalNotFound    = errors.New("withdrawal request not found")
	ErrWithdrawalNotPending  = errors.New("withdrawal request is not pending")
	ErrWithdrawalNotApproved = errors.New("withdrawal request is not approved")

	// Prediction settlement
	ErrMarketAlreadySettled = errors.New("market already settled")

	// Wheel
	ErrQuotaExceeded = errors.New("daily spin quota exceeded")

	// Pool accounts. ErrPoolInsufficient stays internal: the wheel downgrades
	// to the fallback prize instead of surfacing it
	ErrPoolNotFound     = errors.New("pool account not found")
	ErrPoolInsufficient = errors.New("pool balance insufficient")
)

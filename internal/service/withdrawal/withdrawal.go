// Package withdrawal converts ledger balance into an external-currency
// payout request, with the fee/burn split and the minimum-net floor.
package withdrawal

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
	"github.com/mystlabs/mystledger/internal/service/ledger"
	"github.com/mystlabs/mystledger/internal/signing"
	"github.com/mystlabs/mystledger/internal/validate"
)

var (
	defaultFeeRate  = decimal.NewFromFloat(0.02)
	defaultBurnRate = decimal.NewFromFloat(0.01)
)

// RateSource supplies the live MYST to external-currency exchange rate.
// The rate is snapshotted on the request row: later movement never changes
// an existing request.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

type Config struct {
	// FeeRate share of the requested amount goes to treasury, BurnRate
	// share is destroyed into the dedicated burn pool for auditability
	FeeRate  decimal.Decimal
	BurnRate decimal.Decimal

	// Minimum payout in external-currency units after conversion
	MinExternal decimal.Decimal

	// Payout voucher signing
	VoucherSecret string
	VoucherTTL    time.Duration
}

type Service struct {
	cfg     Config
	storage repository.Storage
	rates   RateSource
	signer  *signing.Signer
	voucher *voucherSigner
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, rates RateSource, signer *signing.Signer, l logger.Logger) (*Service, error) {
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = defaultFeeRate
	}
	if cfg.BurnRate.IsZero() {
		cfg.BurnRate = defaultBurnRate
	}

	voucher, err := newVoucherSigner(cfg.VoucherSecret, cfg.VoucherTTL)
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:     cfg,
		storage: storage,
		rates:   rates,
		signer:  signer,
		voucher: voucher,
		logger:  l,
	}, nil
}

type requestParams struct {
	UserID  uuid.UUID `validate:"required"`
	Address string    `validate:"required,min=8"`
}

// Request debits the user, routes the fee and burn shares to their pools
// and creates a pending withdrawal request with a signed payout voucher.
// Nothing is written when validation fails.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, externalAddress string, amountRequested decimal.Decimal) (models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest

	if !amountRequested.IsPositive() {
		return req, apperrors.ErrZeroAmount
	}
	if err := validate.Struct(requestParams{UserID: userID, Address: externalAddress}); err != nil {
		return req, err
	}

	rate, err := s.rates.Rate(ctx)
	if err != nil {
		return req, fmt.Errorf("error while fetching exchange rate. Err: %w", err)
	}
	if !rate.IsPositive() {
		return req, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}

	fee := amountRequested.Mul(s.cfg.FeeRate).Truncate(models.MystDecimalPlaces)
	burn := amountRequested.Mul(s.cfg.BurnRate).Truncate(models.MystDecimalPlaces)
	net := amountRequested.Sub(fee).Sub(burn)
	external := net.Mul(rate).Truncate(models.MystDecimalPlaces)

	if external.LessThan(s.cfg.MinExternal) {
		return req, apperrors.ErrBelowMinimum
	}

	id := uuid.New()
	voucher, err := s.voucher.Sign(id, userID, externalAddress, external, rate)
	if err != nil {
		return req, err
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		// Lock the user and re-check the balance inside the transaction
		if _, err := st.Balance().Acquire(ctx, userID); err != nil {
			return err
		}

		balance, err := st.Ledger().SumEntries(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amountRequested) {
			return apperrors.ErrInsufficientBalance
		}

		meta := map[string]string{"withdrawal_id": id.String()}
		entry, err := ledger.SignedEntry(s.signer, userID, models.EntryTypeWithdrawalDebit, amountRequested.Neg(), meta)
		if err != nil {
			return err
		}
		if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
			return err
		}
		if _, err := st.Balance().Adjust(ctx, userID, amountRequested.Neg()); err != nil {
			return err
		}

		if fee.IsPositive() {
			if _, err := st.Pool().Add(ctx, models.PoolTreasury, fee); err != nil {
				return err
			}
		}
		if burn.IsPositive() {
			if _, err := st.Pool().Add(ctx, models.PoolBurn, burn); err != nil {
				return err
			}
		}

		req, err = st.Withdrawal().Create(ctx, models.WithdrawalRequest{
			ID:              id,
			UserID:          userID,
			ExternalAddress: externalAddress,
			AmountRequested: amountRequested,
			Fee:             fee,
			Burn:            burn,
			NetAmount:       net,
			ExternalAmount:  external,
			ExchangeRate:    rate,
			Voucher:         voucher,
			Status:          models.WithdrawalStatusPending,
		})
		return err
	})
	if err != nil {
		return req, err
	}

	s.logger.Info("Withdrawal requested",
		"withdrawal_id", req.ID,
		"user_id", userID,
		"amount", amountRequested,
		"external_amount", external,
		"rate", rate,
	)

	return req, nil
}

// Approve moves a pending request to approved. The external process pays
// it out later and reports back through MarkPaid
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return s.storage.Withdrawal().UpdateStatus(ctx, id, models.WithdrawalStatusPending, models.WithdrawalStatusApproved)
}

// Reject refuses a pending request and re-credits the user the full
// requested amount. A reversal entry is appended, the original rows are
// never touched
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		req, err = st.Withdrawal().UpdateStatus(ctx, id, models.WithdrawalStatusPending, models.WithdrawalStatusRejected)
		if err != nil {
			return err
		}

		if _, err := st.Balance().Acquire(ctx, req.UserID); err != nil {
			return err
		}

		meta := map[string]string{"withdrawal_id": req.ID.String()}
		entry, err := ledger.SignedEntry(s.signer, req.UserID, models.EntryTypeWithdrawalReversal, req.AmountRequested, meta)
		if err != nil {
			return err
		}
		if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
			return err
		}
		if _, err := st.Balance().Adjust(ctx, req.UserID, req.AmountRequested); err != nil {
			return err
		}

		// Take the fee and burn shares back out of the pools, the user
		// got the full amount back
		if req.Fee.IsPositive() {
			if _, err := st.Pool().Add(ctx, models.PoolTreasury, req.Fee.Neg()); err != nil {
				return err
			}
		}
		if req.Burn.IsPositive() {
			if _, err := st.Pool().Add(ctx, models.PoolBurn, req.Burn.Neg()); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return req, err
	}

	s.logger.Info("Withdrawal rejected and re-credited", "withdrawal_id", req.ID, "user_id", req.UserID, "amount", req.AmountRequested)
	return req, nil
}

// MarkPaid records that the external process completed the payout
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return s.storage.Withdrawal().UpdateStatus(ctx, id, models.WithdrawalStatusApproved, models.WithdrawalStatusPaid)
}

// Get returns the request for display
func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return s.storage.Withdrawal().Get(ctx, id)
}

// ListPending returns pending requests oldest first, for the admin queue
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	return s.storage.Withdrawal().ListByStatus(ctx, models.WithdrawalStatusPending, limit)
}

// Package prediction settles pari-mutuel markets: winners split the total
// pool proportionally to their stake after the house fee is removed.
package prediction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/service/ledger"
	"github.com/mystlabs/mystledger/internal/signing"
)

var defaultFeeRate = decimal.NewFromFloat(0.08)

const metaMarketKey = "market_id"

// Payout computes a single winner's pari-mutuel share.
// totalPool = winning + losing; fee comes off the top; the winner gets
// stake * (winPool / winningTotal). A market with no winning stake pays
// nothing, the fee is still reported.
func Payout(userStake, winningTotal, losingTotal, feeRate decimal.Decimal) (payout, fee decimal.Decimal) {
	totalPool := winningTotal.Add(losingTotal)
	fee = totalPool.Mul(feeRate)

	if !winningTotal.IsPositive() {
		return decimal.Zero, fee
	}

	winPool := totalPool.Sub(fee)
	payout = userStake.Mul(winPool).Div(winningTotal)
	return payout, fee
}

// Stake is one winning bettor's position, supplied by the market
// collaborator at resolution time.
type Stake struct {
	UserID uuid.UUID
	Amount decimal.Decimal
}

type Config struct {
	// House fee rate taken off the total pool. Default 8%
	FeeRate decimal.Decimal
}

// Settlement reports what a market resolution paid out. The fee and the
// truncation remainders are never minted anywhere: they are simply the
// part of the pool that stays with the house (the stakes themselves were
// distributed at bet time through the spend engine).
type Settlement struct {
	MarketID    string
	Fee         decimal.Decimal
	TotalPaid   decimal.Decimal
	WinnerCount int
}

type Service struct {
	cfg     Config
	storage repository.Storage
	signer  *signing.Signer
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, signer *signing.Signer, l logger.Logger) *Service {
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = defaultFeeRate
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cfg:     cfg,
		storage: storage,
		signer:  signer,
		logger:  l,
	}
}

// SettleMarket credits every winning bettor once per market resolution.
// Callers must not invoke it twice for the same market; the entry-meta
// guard turns a repeat into ErrMarketAlreadySettled instead of a double
// payout.
func (s *Service) SettleMarket(ctx context.Context, marketID string, winners []Stake, winningTotal, losingTotal decimal.Decimal) (Settlement, error) {
	settlement := Settlement{MarketID: marketID}

	if marketID == "" {
		return settlement, fmt.Errorf("market id must not be empty")
	}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		settled, err := st.Ledger().HasEntryWithMeta(ctx, models.EntryTypePredictionWin, metaMarketKey, marketID)
		if err != nil {
			return err
		}
		if settled {
			return apperrors.ErrMarketAlreadySettled
		}

		meta := map[string]string{metaMarketKey: marketID}

		_, fee := Payout(decimal.Zero, winningTotal, losingTotal, s.cfg.FeeRate)
		settlement.Fee = fee.Truncate(models.MystDecimalPlaces)

		totalPaid := decimal.Zero
		for _, w := range winners {
			payout, _ := Payout(w.Amount, winningTotal, losingTotal, s.cfg.FeeRate)
			payout = payout.Truncate(models.MystDecimalPlaces)
			if !payout.IsPositive() {
				continue
			}

			entry, err := ledger.SignedEntry(s.signer, w.UserID, models.EntryTypePredictionWin, payout, meta)
			if err != nil {
				return err
			}
			if _, err := st.Ledger().AppendEntry(ctx, entry); err != nil {
				return err
			}
			if _, err := st.Balance().Adjust(ctx, w.UserID, payout); err != nil {
				return err
			}

			totalPaid = totalPaid.Add(payout)
			settlement.WinnerCount++
		}

		settlement.TotalPaid = totalPaid
		return nil
	})
	if err != nil {
		return settlement, err
	}

	s.logger.Info("Market settled",
		"market_id", marketID,
		"winners", settlement.WinnerCount,
		"total_paid", settlement.TotalPaid,
		"fee", settlement.Fee,
	)

	return settlement, nil
}

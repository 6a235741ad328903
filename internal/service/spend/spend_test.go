package spend

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mystlabs/mystledger/internal/apperrors"
	"github.com/mystlabs/mystledger/internal/models"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/repository/postgres"
	"github.com/mystlabs/mystledger/internal/service/ledger"
	"github.com/mystlabs/mystledger/internal/signing"
	"github.com/mystlabs/mystledger/internal/testutil"
)

type identityStub struct {
	referrers map[uuid.UUID]uuid.UUID
}

func (s identityStub) ReferrerOf(_ context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	r, ok := s.referrers[userID]
	return r, ok, nil
}

func newTestSigner(t *testing.T) *signing.Signer {
	t.Helper()

	signer, err := signing.New("spend-test-key")
	require.NoError(t, err)
	return signer
}

// seedBalance funds the user with a deposit entry so spends have something
// to debit
func seedBalance(t *testing.T, st repository.Storage, signer *signing.Signer, userID uuid.UUID, amount decimal.Decimal) {
	t.Helper()

	entry, err := ledger.SignedEntry(signer, userID, models.EntryTypeDeposit, amount, nil)
	require.NoError(t, err)

	_, err = st.Ledger().AppendEntry(t.Context(), entry)
	require.NoError(t, err)

	_, err = st.Balance().Adjust(t.Context(), userID, amount)
	require.NoError(t, err)
}

func TestNewService(t *testing.T) {
	t.Parallel()

	t.Run("defaults are accepted", func(t *testing.T) {
		_, err := NewService(Config{}, nil, identityStub{}, newTestSigner(t), nil)
		require.NoError(t, err)
	})

	t.Run("percentages must sum to 100", func(t *testing.T) {
		cfg := Config{
			TreasuryPercent:    decimal.NewFromInt(80),
			ReferralPercent:    decimal.NewFromInt(15),
			LeaderboardPercent: decimal.NewFromInt(10),
			WheelPercent:       decimal.NewFromInt(5),
		}

		_, err := NewService(cfg, nil, identityStub{}, newTestSigner(t), nil)
		require.Error(t, err)
	})

	t.Run("rewards must fit inside the referral share", func(t *testing.T) {
		cfg := Config{
			TreasuryPercent:    decimal.NewFromInt(70),
			ReferralPercent:    decimal.NewFromInt(15),
			LeaderboardPercent: decimal.NewFromInt(10),
			WheelPercent:       decimal.NewFromInt(5),
			RewardL1Percent:    decimal.NewFromInt(12),
			RewardL2Percent:    decimal.NewFromInt(4),
		}

		_, err := NewService(cfg, nil, identityStub{}, newTestSigner(t), nil)
		require.Error(t, err)
	})
}

func TestComputeSplits(t *testing.T) {
	t.Parallel()

	svc, err := NewService(Config{}, nil, identityStub{}, newTestSigner(t), nil)
	require.NoError(t, err)

	requireConserved := func(t *testing.T, s Splits) {
		t.Helper()

		total := s.Treasury.
			Add(s.Leaderboard).
			Add(s.Wheel).
			Add(s.Referral).
			Add(s.RewardL1).
			Add(s.RewardL2)
		require.True(t, s.Amount.Equal(total), "splits must sum back to the amount, got %s of %s", total, s.Amount)
	}

	fullEdge := models.ReferralEdge{
		Level1: uuid.New(), HasLevel1: true,
		Level2: uuid.New(), HasLevel2: true,
	}

	t.Run("canonical split with both referrers", func(t *testing.T) {
		splits := svc.computeSplits(decimal.NewFromInt(100), fullEdge)

		require.True(t, decimal.NewFromInt(70).Equal(splits.Treasury))
		require.True(t, decimal.NewFromInt(10).Equal(splits.Leaderboard))
		require.True(t, decimal.NewFromInt(5).Equal(splits.Wheel))
		require.True(t, decimal.NewFromInt(3).Equal(splits.Referral))
		require.True(t, decimal.NewFromInt(8).Equal(splits.RewardL1))
		require.True(t, decimal.NewFromInt(4).Equal(splits.RewardL2))
		requireConserved(t, splits)
	})

	t.Run("missing referrers fold into treasury", func(t *testing.T) {
		splits := svc.computeSplits(decimal.NewFromInt(100), models.ReferralEdge{})

		require.True(t, splits.RewardL1.IsZero())
		require.True(t, splits.RewardL2.IsZero())
		require.True(t, decimal.NewFromInt(82).Equal(splits.Treasury))
		requireConserved(t, splits)
	})

	t.Run("level-1 only", func(t *testing.T) {
		splits := svc.computeSplits(decimal.NewFromInt(100), models.ReferralEdge{Level1: uuid.New(), HasLevel1: true})

		require.True(t, decimal.NewFromInt(8).Equal(splits.RewardL1))
		require.True(t, splits.RewardL2.IsZero())
		require.True(t, decimal.NewFromInt(74).Equal(splits.Treasury))
		requireConserved(t, splits)
	})

	t.Run("truncation remainder goes to treasury", func(t *testing.T) {
		// 0.00000007 is too small for any non-treasury share to survive
		// truncation at base-unit precision
		amount := decimal.RequireFromString("0.00000007")
		splits := svc.computeSplits(amount, fullEdge)

		require.True(t, splits.Leaderboard.IsZero())
		require.True(t, splits.Wheel.IsZero())
		require.True(t, splits.Referral.IsZero())
		require.True(t, splits.RewardL1.IsZero())
		require.True(t, splits.RewardL2.IsZero())
		require.True(t, amount.Equal(splits.Treasury))
		requireConserved(t, splits)
	})

	t.Run("awkward amount still conserves", func(t *testing.T) {
		splits := svc.computeSplits(decimal.RequireFromString("33.33333333"), fullEdge)
		requireConserved(t, splits)
	})
}

func TestLockOrder(t *testing.T) {
	t.Parallel()

	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	c := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	t.Run("sorted regardless of roles", func(t *testing.T) {
		got := lockOrder(c, models.ReferralEdge{Level1: a, HasLevel1: true, Level2: b, HasLevel2: true})
		require.Equal(t, []uuid.UUID{a, b, c}, got)

		got = lockOrder(a, models.ReferralEdge{Level1: c, HasLevel1: true, Level2: b, HasLevel2: true})
		require.Equal(t, []uuid.UUID{a, b, c}, got)
	})

	t.Run("referral cycles dedupe", func(t *testing.T) {
		// a refers b refers a: the spender shows up as its own level 2
		got := lockOrder(a, models.ReferralEdge{Level1: b, HasLevel1: true, Level2: a, HasLevel2: true})
		require.Equal(t, []uuid.UUID{a, b}, got)
	})

	t.Run("no referrers", func(t *testing.T) {
		require.Equal(t, []uuid.UUID{b}, lockOrder(b, models.ReferralEdge{}))
	})
}

func TestSpend(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	signer := newTestSigner(t)

	t.Run("distributes across pools and referrers", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)

			spender := uuid.New()
			level1 := uuid.New()
			level2 := uuid.New()

			identity := identityStub{referrers: map[uuid.UUID]uuid.UUID{
				spender: level1,
				level1:  level2,
			}}

			svc, err := NewService(Config{}, st, identity, signer, nil)
			require.NoError(t, err)

			seedBalance(t, st, signer, spender, decimal.NewFromInt(500))

			treasuryBefore, err := st.Pool().Get(t.Context(), models.PoolTreasury)
			require.NoError(t, err)

			splits, err := svc.Spend(t.Context(), spender, decimal.NewFromInt(100), "booster_pack", "order-77")
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(8).Equal(splits.RewardL1))
			require.True(t, decimal.NewFromInt(4).Equal(splits.RewardL2))

			balance, err := st.Ledger().SumEntries(t.Context(), spender)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(400).Equal(balance), "spender must be debited the full amount")

			l1Balance, err := st.Ledger().SumEntries(t.Context(), level1)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(8).Equal(l1Balance))

			l2Balance, err := st.Ledger().SumEntries(t.Context(), level2)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(4).Equal(l2Balance))

			treasuryAfter, err := st.Pool().Get(t.Context(), models.PoolTreasury)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(70).Equal(treasuryAfter.Balance.Sub(treasuryBefore.Balance)))
		})
	})

	t.Run("no referrers routes rewards to treasury", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)

			spender := uuid.New()
			svc, err := NewService(Config{}, st, identityStub{}, signer, nil)
			require.NoError(t, err)

			seedBalance(t, st, signer, spender, decimal.NewFromInt(100))

			treasuryBefore, err := st.Pool().Get(t.Context(), models.PoolTreasury)
			require.NoError(t, err)

			splits, err := svc.Spend(t.Context(), spender, decimal.NewFromInt(100), "booster_pack", "")
			require.NoError(t, err)
			require.True(t, splits.RewardL1.IsZero())

			treasuryAfter, err := st.Pool().Get(t.Context(), models.PoolTreasury)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(82).Equal(treasuryAfter.Balance.Sub(treasuryBefore.Balance)))
		})
	})

	t.Run("insufficient balance leaves the ledger untouched", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			st := postgres.NewStorage(tx)

			spender := uuid.New()
			svc, err := NewService(Config{}, st, identityStub{}, signer, nil)
			require.NoError(t, err)

			seedBalance(t, st, signer, spender, decimal.NewFromInt(10))

			_, err = svc.Spend(t.Context(), spender, decimal.NewFromInt(100), "booster_pack", "")
			require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

			balance, err := st.Ledger().SumEntries(t.Context(), spender)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(10).Equal(balance))
		})
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		svc, err := NewService(Config{}, postgres.NewStorage(pg.Pool), identityStub{}, signer, nil)
		require.NoError(t, err)

		_, err = svc.Spend(t.Context(), uuid.New(), decimal.NewFromInt(-5), "booster_pack", "")
		require.ErrorIs(t, err, apperrors.ErrZeroAmount)

		// Zero must surface the same sentinel, not a validation error
		_, err = svc.Spend(t.Context(), uuid.New(), decimal.Zero, "booster_pack", "")
		require.ErrorIs(t, err, apperrors.ErrZeroAmount)
	})

	t.Run("concurrent spends never overdraw", func(t *testing.T) {
		// Committed on purpose: row-lock serialization only shows across
		// real transactions
		st := postgres.NewStorage(pg.Pool)

		spender := uuid.New()
		svc, err := NewService(Config{}, st, identityStub{}, signer, nil)
		require.NoError(t, err)

		err = st.InTx(t.Context(), func(txSt repository.Storage) error {
			seedBalance(t, txSt, signer, spender, decimal.NewFromInt(100))
			return nil
		})
		require.NoError(t, err)

		const attempts = 5
		spendAmount := decimal.NewFromInt(30)

		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.Spend(context.Background(), spender, spendAmount, "booster_pack", "")
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
		}
		require.Equal(t, 3, succeeded, "100 covers exactly three 30-unit spends")

		balance, err := st.Ledger().SumEntries(t.Context(), spender)
		require.NoError(t, err)
		require.True(t, decimal.NewFromInt(10).Equal(balance))
	})

	// Referrer rewards touch other users' balance rows. The fixed lock
	// order keeps two users who refer each other from deadlocking when
	// they spend at the same time
	t.Run("mutual referrers spend concurrently", func(t *testing.T) {
		st := postgres.NewStorage(pg.Pool)

		alice := uuid.New()
		bob := uuid.New()
		identity := identityStub{referrers: map[uuid.UUID]uuid.UUID{
			alice: bob,
			bob:   alice,
		}}

		svc, err := NewService(Config{}, st, identity, signer, nil)
		require.NoError(t, err)

		err = st.InTx(t.Context(), func(txSt repository.Storage) error {
			seedBalance(t, txSt, signer, alice, decimal.NewFromInt(1000))
			seedBalance(t, txSt, signer, bob, decimal.NewFromInt(1000))
			return nil
		})
		require.NoError(t, err)

		const rounds = 5
		spendAmount := decimal.NewFromInt(10)

		for range rounds {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, id := range []uuid.UUID{alice, bob} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = svc.Spend(context.Background(), id, spendAmount, "booster_pack", "")
				}()
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
		}
	})
}

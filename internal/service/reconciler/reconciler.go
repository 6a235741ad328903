// Package reconciler audits the ledger projections: the per-user balance
// accumulators must equal direct summation over the entries, and every
// entry's MAC must verify. Read only, it fixes nothing and logs loudly.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/signing"
)

const (
	defaultInterval = 15 * time.Minute
	auditPageSize   = 500
)

type Config struct {
	// How often the scheduled audit runs
	Interval time.Duration
}

// Report of one audit pass.
type Report struct {
	UsersChecked  int
	Drifted       int
	BadSignatures int
}

func (r Report) Clean() bool {
	return r.Drifted == 0 && r.BadSignatures == 0
}

type Service struct {
	cfg     Config
	storage repository.Storage
	signer  *signing.Signer
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, signer *signing.Signer, l logger.Logger) *Service {
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
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

// RunOnce audits every user with ledger activity
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	userIDs, err := s.storage.Ledger().ListUserIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("error while listing ledger users. Err: %w", err)
	}

	for _, userID := range userIDs {
		report.UsersChecked++

		if err := s.checkDrift(ctx, userID, &report); err != nil {
			return report, err
		}

		if err := s.sweepSignatures(ctx, userID, &report); err != nil {
			return report, err
		}
	}

	if report.Clean() {
		s.logger.Info("Reconciliation pass clean", "users_checked", report.UsersChecked)
	}

	return report, nil
}

// checkDrift compares the balance accumulator against direct summation.
// Both reads happen under the user's balance row lock: every writer
// adjusts the accumulator under the same lock, so a spend committing
// mid-audit cannot make a healthy ledger look drifted
func (s *Service) checkDrift(ctx context.Context, userID uuid.UUID, report *Report) error {
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		balance, err := st.Balance().Acquire(ctx, userID)
		if err != nil {
			return err
		}

		sum, err := st.Ledger().SumEntries(ctx, userID)
		if err != nil {
			return err
		}

		if !balance.Current.Equal(sum) {
			report.Drifted++
			s.logger.Error("Balance accumulator drifted from ledger summation",
				"user_id", userID,
				"accumulator", balance.Current,
				"ledger_sum", sum,
			)
		}

		return nil
	})
}

// sweepSignatures verifies the MAC of every entry the user has ever
// written, keyset paging through the full history. Entries are immutable
// so this runs outside the balance lock
func (s *Service) sweepSignatures(ctx context.Context, userID uuid.UUID, report *Report) error {
	var (
		after   time.Time
		afterID uuid.UUID
	)

	for {
		entries, err := s.storage.Ledger().ListEntriesPage(ctx, userID, after, afterID, auditPageSize)
		if err != nil {
			return err
		}

		for _, e := range entries {
			ok, err := s.signer.Verify(e.Sig, e.ID, e.UserID, e.Type, e.Amount, e.CreatedAt)
			if err != nil {
				return err
			}
			if !ok {
				report.BadSignatures++
				s.logger.Error("Ledger entry signature does not verify",
					"entry_id", e.ID,
					"user_id", e.UserID,
					"type", e.Type,
				)
			}
		}

		if len(entries) < auditPageSize {
			return nil
		}

		last := entries[len(entries)-1]
		after, afterID = last.CreatedAt, last.ID
	}
}

// Start schedules periodic audits and blocks until the context is done
func (s *Service) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("error while creating scheduler. Err: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Reconciliation pass failed", "error", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("error while scheduling reconciliation job. Err: %w", err)
	}

	sched.Start()
	s.logger.Info("Reconciler started", "interval", s.cfg.Interval)

	<-ctx.Done()
	return sched.Shutdown()
}

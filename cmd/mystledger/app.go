package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mystlabs/mystledger/internal/db"
	"github.com/mystlabs/mystledger/internal/logger"
	"github.com/mystlabs/mystledger/internal/repository"
	"github.com/mystlabs/mystledger/internal/repository/postgres"
	"github.com/mystlabs/mystledger/internal/service/reconciler"
	"github.com/mystlabs/mystledger/internal/service/withdrawal"
	"github.com/mystlabs/mystledger/internal/signing"
)

// App is the operational entry point: migrations, pool inspection, the
// reconciliation daemon and the manual withdrawal transitions. The engine
// itself is a library, collaborators embed it in process.
type App struct {
	cfg     *Config
	logger  logger.Logger
	storage repository.Storage
	signer  *signing.Signer
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	signer, err := signing.New(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("error while creating entry signer. Err: %w", err)
	}

	return &App{
		cfg:     c,
		logger:  l,
		storage: postgres.NewStorage(pool),
		signer:  signer,
	}, nil
}

// Run dispatches the subcommand
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: mystledger <migrate|pools|reconcile|withdrawals> [args]")
	}

	switch args[0] {
	case "migrate":
		// NewApp migrated already, nothing left to do
		a.logger.Info("Migrations applied")
		return nil

	case "pools":
		return a.printPools(ctx)

	case "reconcile":
		return a.runReconciler(ctx)

	case "withdrawals":
		return a.runWithdrawals(ctx, args[1:])

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) printPools(ctx context.Context) error {
	pools, err := a.storage.Pool().List(ctx)
	if err != nil {
		return err
	}

	for _, p := range pools {
		fmt.Printf("%-12s %s\n", p.PoolID, p.Balance)
	}

	return nil
}

func (a *App) runReconciler(ctx context.Context) error {
	interval, err := time.ParseDuration(a.cfg.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("invalid reconcile interval %q: %w", a.cfg.ReconcileInterval, err)
	}

	svc := reconciler.NewService(reconciler.Config{Interval: interval}, a.storage, a.signer, a.logger)

	// One pass up front so a misconfiguration surfaces before daemonizing
	report, err := svc.RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Initial reconciliation pass finished",
		"users_checked", report.UsersChecked,
		"drifted", report.Drifted,
		"bad_signatures", report.BadSignatures,
	)

	return svc.Start(ctx)
}

func (a *App) runWithdrawals(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: mystledger withdrawals <list|approve|reject> [id]")
	}

	// Rates are not needed for the admin transitions, a unit source is
	// enough to construct the service
	svc, err := withdrawal.NewService(
		withdrawal.Config{VoucherSecret: a.cfg.SecretKey},
		a.storage,
		unitRateSource{},
		a.signer,
		a.logger,
	)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		pending, err := svc.ListPending(ctx, 50)
		if err != nil {
			return err
		}
		for _, w := range pending {
			fmt.Printf("%s  user=%s  amount=%s  external=%s %s\n",
				w.ID, w.UserID, w.AmountRequested, w.ExternalAmount, w.ExternalAddress)
		}
		return nil

	case "approve", "reject":
		if len(args) < 2 {
			return fmt.Errorf("usage: mystledger withdrawals %s <id>", args[0])
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid withdrawal id %q: %w", args[1], err)
		}

		if args[0] == "approve" {
			w, err := svc.Approve(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("approved %s\n", w.ID)
			return nil
		}

		w, err := svc.Reject(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("rejected %s, re-credited %s\n", w.ID, w.AmountRequested)
		return nil

	default:
		return fmt.Errorf("unknown withdrawals command %q", args[0])
	}
}

type unitRateSource struct{}

func (unitRateSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

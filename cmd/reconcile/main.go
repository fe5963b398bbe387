package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/config"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/reconcile"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/ui"
)

var (
	configFile = flag.String("config", "", "Config file (default: built-in local sqlite config)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Abort the sweep after this long")
)

// reconcile sweeps every user partition, repairing stored categories and
// recomputing the monthly aggregates from the source rows.
func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `reconcile - repair spendtrack categories and monthly aggregates

Usage:
  reconcile [flags]

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, closer, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer()

	users, ok := st.(reconcile.UserLister)
	if !ok {
		return fmt.Errorf("backend %s cannot enumerate users", cfg.Backend)
	}

	ui.Header("spendtrack reconcile")
	ui.Info(fmt.Sprintf("backend %s", cfg.Backend))

	if err := reconcile.NewJob(st, users).Run(ctx); err != nil {
		return err
	}
	ui.Success("reconcile complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		fs, err := store.NewFirestore(ctx, cfg.ProjectID, cfg.Collection)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore backend: %w", err)
		}
		return fs, fs.Close, nil
	case config.BackendSQLite:
		db, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		return db, db.Close, nil
	case config.BackendMemory:
		return store.NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

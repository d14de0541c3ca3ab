package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/tradingagents/config"
	"github.com/mohammad-safakhou/tradingagents/internal/runtime"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCMD(&app{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by subcommands.
type app struct {
	cfgPath string
	// open replaces sql.Open; tests point it at sqlmock.
	open func(driver, dsn string) (*sql.DB, error)
}

func newRootCMD(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "tradingagents",
		Short:        "TradingAgents report storage and retrieval",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	root.AddCommand(serveCMD(a), migrateCMD(a), purgeCMD(a), importCMD(a), tokenCMD(a), dbinfoCMD(a))
	return root
}

func (a *app) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(a.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := runtime.NewLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

var errNoDatabase = errors.New("database not configured: set NEON_DATABASE_URL, DATABASE_URL or storage.postgres.url")

// newStore builds a Store without connecting.
func (a *app) newStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if !cfg.Storage.Postgres.Configured() {
		return nil, errNoDatabase
	}
	cc, err := runtime.ConnConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{store.WithLogger(logger)}
	if a.open != nil {
		opts = append(opts, store.WithOpener(a.open))
	}
	return store.New(cc, opts...), nil
}

package server

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/tradingagents/internal/migrations"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
	"go.uber.org/zap"
)

// Migrate applies pending migrations over a dedicated connection, then checks
// the resulting schema. Schema drift is logged, not returned.
func Migrate(ctx context.Context, m *store.Manager, logger *zap.Logger) error {
	reg, err := migrations.DefaultRegistry()
	if err != nil {
		return err
	}
	db, err := m.OpenDirect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	r := migrations.NewRunner(db, reg, logger)
	if err := r.MigrateUp(ctx, ""); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if ok, issues := r.ValidateSchema(ctx); !ok {
		logger.Warn("schema validation found issues", zap.Strings("issues", issues))
	}
	return nil
}

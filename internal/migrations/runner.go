package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// IntegrityError reports a migration whose recorded checksum no longer
// matches its definition.
type IntegrityError struct {
	Version  string
	Name     string
	Recorded string
	Current  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("migration %s (%s) integrity check failed: recorded checksum %s, current %s",
		e.Version, e.Name, short(e.Recorded), short(e.Current))
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// Status is the state of one migration.
type Status struct {
	Version     string `json:"version"`
	Name        string `json:"name"`
	Applied     bool   `json:"applied"`
	IntegrityOK bool   `json:"integrity_ok"`
	Checksum    string `json:"checksum"`
}

// Runner applies a Registry to a database. db should be a dedicated
// connection: every statement runs in autocommit mode.
type Runner struct {
	db       *sql.DB
	registry *Registry
	logger   *zap.Logger
}

func NewRunner(db *sql.DB, registry *Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, registry: registry, logger: logger}
}

// recorded returns the checksum stored for version. A missing history table
// counts as nothing applied.
func (r *Runner) recorded(ctx context.Context, version string) (string, bool, error) {
	var sum string
	err := r.db.QueryRowContext(ctx, `SELECT checksum FROM migration_history WHERE version = $1`, version).Scan(&sum)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case isUndefinedTable(err):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("read migration history for %s: %w", version, err)
	}
	return sum, true, nil
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}

func (r *Runner) record(ctx context.Context, m Migration) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO migration_history (version, name, checksum)
VALUES ($1, $2, $3)
ON CONFLICT (version) DO UPDATE SET
    name = EXCLUDED.name,
    checksum = EXCLUDED.checksum,
    applied_at = CURRENT_TIMESTAMP`, m.Version, m.Name, m.Checksum())
	if err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	return nil
}

// check verifies that an applied migration still matches its definition.
func (r *Runner) check(ctx context.Context, m Migration) (bool, error) {
	sum, applied, err := r.recorded(ctx, m.Version)
	if err != nil || !applied {
		return false, err
	}
	if sum != m.Checksum() {
		r.logger.Error("migration integrity check failed", zap.String("version", m.Version), zap.String("name", m.Name))
		return true, &IntegrityError{Version: m.Version, Name: m.Name, Recorded: sum, Current: m.Checksum()}
	}
	return true, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	r.logger.Info("applying migration", zap.String("version", m.Version), zap.String("name", m.Name))
	if _, err := r.db.ExecContext(ctx, m.UpSQL); err != nil {
		r.logger.Error("apply migration", zap.String("version", m.Version), zap.Error(err))
		return fmt.Errorf("apply migration %s (%s): %w", m.Version, m.Name, err)
	}
	return r.record(ctx, m)
}

// MigrateUp bootstraps the history table, then applies pending migrations in
// ascending order up to and including target ("" applies all). An applied
// migration whose checksum drifted stops the run with *IntegrityError. A
// failing statement stops the run; migrations applied before it stay applied.
func (r *Runner) MigrateUp(ctx context.Context, target string) error {
	all := r.registry.Migrations()
	for _, m := range all {
		if m.Name != historyMigration {
			continue
		}
		applied, err := r.check(ctx, m)
		if err != nil {
			return err
		}
		if !applied {
			r.logger.Info("creating migration history table")
			if err := r.apply(ctx, m); err != nil {
				return err
			}
		}
	}

	count := 0
	for _, m := range all {
		if m.Name == historyMigration {
			continue
		}
		if target != "" && m.Version > target {
			break
		}
		applied, err := r.check(ctx, m)
		if err != nil {
			return err
		}
		if applied {
			r.logger.Debug("migration already applied", zap.String("version", m.Version))
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return err
		}
		count++
	}
	r.logger.Info("migration complete", zap.Int("applied", count))
	return nil
}

// MigrateDown rolls applied migrations back in descending order while their
// version is greater than target. Migrations without down SQL are skipped.
func (r *Runner) MigrateDown(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("rollback target version is required")
	}
	all := r.registry.Migrations()
	var applied []Migration
	for i := len(all) - 1; i >= 0; i-- {
		_, ok, err := r.recorded(ctx, all[i].Version)
		if err != nil {
			return err
		}
		if ok {
			applied = append(applied, all[i])
		}
	}

	count := 0
	historyDropped := false
	for _, m := range applied {
		if m.Version <= target {
			break
		}
		if strings.TrimSpace(m.DownSQL) == "" {
			r.logger.Warn("no rollback SQL, skipping", zap.String("version", m.Version), zap.String("name", m.Name))
			continue
		}
		r.logger.Info("rolling back migration", zap.String("version", m.Version), zap.String("name", m.Name))
		if _, err := r.db.ExecContext(ctx, m.DownSQL); err != nil {
			r.logger.Error("roll back migration", zap.String("version", m.Version), zap.Error(err))
			return fmt.Errorf("roll back migration %s (%s): %w", m.Version, m.Name, err)
		}
		switch {
		case m.Name == historyMigration:
			historyDropped = true
		case !historyDropped:
			if _, err := r.db.ExecContext(ctx, `DELETE FROM migration_history WHERE version = $1`, m.Version); err != nil {
				return fmt.Errorf("remove migration record %s: %w", m.Version, err)
			}
		}
		count++
	}
	r.logger.Info("rollback complete", zap.Int("rolled_back", count))
	return nil
}

// Status reports every migration with its applied and integrity state.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	all := r.registry.Migrations()
	out := make([]Status, 0, len(all))
	for _, m := range all {
		sum, applied, err := r.recorded(ctx, m.Version)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{
			Version:     m.Version,
			Name:        m.Name,
			Applied:     applied,
			IntegrityOK: !applied || sum == m.Checksum(),
			Checksum:    m.Checksum(),
		})
	}
	return out, nil
}

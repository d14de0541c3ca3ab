// Package migrations holds the agent_reports schema as versioned, checksummed
// SQL migrations and applies them over a dedicated autocommit connection.
package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// The SQL files must stay byte-identical to what existing deployments
// recorded in migration_history, trailing whitespace included. Any edit
// changes the checksum and halts MigrateUp on those databases.
//
//go:embed sql/*.sql
var sqlFiles embed.FS

// historyMigration is bootstrapped before any other migration is considered.
const historyMigration = "create_migration_history_table"

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// Checksum is the hex SHA-256 of version, name, up and down SQL concatenated.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.Version + m.Name + m.UpSQL + m.DownSQL))
	return hex.EncodeToString(sum[:])
}

// Registry is an ordered set of migrations.
type Registry struct {
	migrations []Migration
}

// NewRegistry sorts migrations by version and rejects duplicates.
func NewRegistry(migrations ...Migration) (*Registry, error) {
	ms := append([]Migration(nil), migrations...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	for i, m := range ms {
		if m.Version == "" || m.Name == "" {
			return nil, fmt.Errorf("migration %d: version and name are required", i)
		}
		if i > 0 && ms[i-1].Version == m.Version {
			return nil, fmt.Errorf("duplicate migration version %s", m.Version)
		}
	}
	return &Registry{migrations: ms}, nil
}

// DefaultRegistry returns the embedded agent_reports migrations.
func DefaultRegistry() (*Registry, error) {
	return Load(sqlFiles, "sql")
}

// Load reads NNN_name.up.sql / NNN_name.down.sql pairs from dir in fsys. A
// missing down file yields an empty rollback.
func Load(fsys fs.FS, dir string) (*Registry, error) {
	drv, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	defer drv.Close()

	var out []Migration
	version, err := drv.First()
	for err == nil {
		m, rerr := readMigration(drv, version)
		if rerr != nil {
			return nil, rerr
		}
		out = append(out, m)
		version, err = drv.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return NewRegistry(out...)
}

func readMigration(drv source.Driver, version uint) (Migration, error) {
	m := Migration{Version: fmt.Sprintf("%03d", version)}
	up, name, err := drv.ReadUp(version)
	if err != nil {
		return m, fmt.Errorf("read up migration %s: %w", m.Version, err)
	}
	m.Name = name
	if m.UpSQL, err = readAll(up); err != nil {
		return m, fmt.Errorf("read up migration %s: %w", m.Version, err)
	}
	down, _, err := drv.ReadDown(version)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return m, fmt.Errorf("read down migration %s: %w", m.Version, err)
	default:
		if m.DownSQL, err = readAll(down); err != nil {
			return m, fmt.Errorf("read down migration %s: %w", m.Version, err)
		}
	}
	return m, nil
}

func readAll(rc io.ReadCloser) (string, error) {
	defer rc.Close()
	b, err := io.ReadAll(rc)
	return string(b), err
}

// Migrations returns the migrations in ascending version order.
func (r *Registry) Migrations() []Migration {
	return append([]Migration(nil), r.migrations...)
}

// Get looks a migration up by version.
func (r *Registry) Get(version string) (Migration, bool) {
	for _, m := range r.migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}

// Latest returns the highest version, or "" for an empty registry.
func (r *Registry) Latest() string {
	if len(r.migrations) == 0 {
		return ""
	}
	return r.migrations[len(r.migrations)-1].Version
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Connector hands out pooled connections.
type Connector interface {
	Acquire(ctx context.Context) (*sql.Conn, error)
	Release(conn *sql.Conn)
}

// Manager owns the lazily created connection pool shared by the report
// services. It is safe for concurrent use.
type Manager struct {
	cfg    ConnConfig
	logger *zap.Logger
	open   func(driver, dsn string) (*sql.DB, error)

	mu sync.Mutex
	db *sql.DB
}

// NewManager returns a Manager for cfg. No connection is made until the pool
// is first needed.
func NewManager(cfg ConnConfig, opts ...Option) *Manager {
	o := buildOptions(opts)
	m := &Manager{cfg: cfg, logger: o.logger, open: o.open}
	if cfg.ChannelBinding {
		m.logger.Warn("channel_binding=require requested but not supported by the driver; relying on sslmode",
			zap.String("sslmode", cfg.SSLMode))
	}
	return m
}

// Config returns the connection settings.
func (m *Manager) Config() ConnConfig { return m.cfg }

// CreatePool opens the pool once and returns it on later calls.
func (m *Manager) CreatePool(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}
	db, err := m.open("postgres", m.cfg.DSN())
	if err != nil {
		return nil, &ConnectionError{Op: "create_pool", Err: err}
	}
	db.SetMaxOpenConns(m.cfg.PoolSize)
	db.SetMaxIdleConns(m.cfg.PoolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		m.logger.Error("create connection pool", zap.String("target", m.cfg.Redacted()), zap.Error(err))
		return nil, &ConnectionError{Op: "create_pool", Err: err}
	}
	m.db = db
	m.logger.Info("created connection pool", zap.Int("max_connections", m.cfg.PoolSize), zap.String("sslmode", m.cfg.SSLMode))
	return db, nil
}

// DB returns the pool, creating it if needed.
func (m *Manager) DB(ctx context.Context) (*sql.DB, error) {
	return m.CreatePool(ctx)
}

// Acquire borrows a connection from the pool.
func (m *Manager) Acquire(ctx context.Context) (*sql.Conn, error) {
	db, err := m.CreatePool(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		m.logger.Error("acquire connection", zap.Error(err))
		return nil, &ConnectionError{Op: "acquire", Err: err}
	}
	return conn, nil
}

// Release returns conn to the pool. Failures are logged, never returned.
func (m *Manager) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		m.logger.Error("release connection", zap.Error(err))
	}
}

// Shutdown closes the pool. Calling it without a pool is a no-op.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		m.logger.Error("close connection pool", zap.Error(err))
		return err
	}
	m.logger.Info("connection pool closed")
	return nil
}

// OpenDirect opens a dedicated single-connection handle outside the pool,
// used for DDL. Statements run in autocommit mode. The caller closes it.
func (m *Manager) OpenDirect(ctx context.Context) (*sql.DB, error) {
	db, err := m.open("postgres", m.cfg.DSN())
	if err != nil {
		return nil, &ConnectionError{Op: "open_direct", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Op: "open_direct", Err: err}
	}
	return db, nil
}

// Health is the result of a connectivity probe.
type Health struct {
	Healthy        bool    `json:"healthy"`
	PoolCreated    bool    `json:"connection_pool_created"`
	PoolSize       int     `json:"pool_size"`
	SSLMode        string  `json:"ssl_mode"`
	ResponseTimeMs float64 `json:"response_time_ms,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// HealthCheck runs SELECT 1 through the pool. It never fails; problems are
// reported in the result.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	m.mu.Lock()
	created := m.db != nil
	m.mu.Unlock()
	h := Health{PoolCreated: created, PoolSize: m.cfg.PoolSize, SSLMode: m.cfg.SSLMode}

	start := time.Now()
	conn, err := m.Acquire(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer m.Release(conn)
	var one int
	if err := conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		h.Error = err.Error()
		return h
	}
	if one != 1 {
		h.Error = "connection validation failed"
		return h
	}
	h.Healthy = true
	h.PoolCreated = true
	h.ResponseTimeMs = math.Round(float64(time.Since(start).Microseconds())/10) / 100
	return h
}

// DatabaseInfo describes the connected server for diagnostics.
type DatabaseInfo struct {
	Version           string `json:"version"`
	DatabaseName      string `json:"database_name"`
	TotalConnections  int64  `json:"total_connections"`
	ActiveConnections int64  `json:"active_connections"`
	IdleConnections   int64  `json:"idle_connections"`
	DatabaseSize      string `json:"database_size"`
	SSLEnabled        bool   `json:"ssl_enabled"`
	IsReplica         bool   `json:"is_replica"`
	PoolSize          int    `json:"pool_size"`
	SSLMode           string `json:"ssl_mode"`
}

// DatabaseInfo gathers server version, connection counts and size.
func (m *Manager) DatabaseInfo(ctx context.Context) (DatabaseInfo, error) {
	info := DatabaseInfo{PoolSize: m.cfg.PoolSize, SSLMode: m.cfg.SSLMode}
	conn, err := m.Acquire(ctx)
	if err != nil {
		return info, err
	}
	defer m.Release(conn)

	if err := conn.QueryRowContext(ctx, `SELECT version(), current_database()`).Scan(&info.Version, &info.DatabaseName); err != nil {
		return info, err
	}
	if err := conn.QueryRowContext(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE state = 'active'),
       count(*) FILTER (WHERE state = 'idle')
FROM pg_stat_activity
WHERE datname = current_database()`).Scan(&info.TotalConnections, &info.ActiveConnections, &info.IdleConnections); err != nil {
		return info, err
	}
	if err := conn.QueryRowContext(ctx, `SELECT pg_size_pretty(pg_database_size(current_database()))`).Scan(&info.DatabaseSize); err != nil {
		return info, err
	}
	var ssl string
	if err := conn.QueryRowContext(ctx, `SHOW ssl`).Scan(&ssl); err != nil {
		return info, err
	}
	info.SSLEnabled = ssl == "on"
	if err := conn.QueryRowContext(ctx, `SELECT pg_is_in_recovery()`).Scan(&info.IsReplica); err != nil {
		return info, err
	}
	return info, nil
}

// Collector exposes database/sql pool statistics to Prometheus. It returns
// nil until the pool exists.
func (m *Manager) Collector() prometheus.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	return collectors.NewDBStatsCollector(m.db, m.cfg.Database)
}

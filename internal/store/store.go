// Package store persists TradingAgents analysis sessions in Postgres.
//
// A Manager owns the connection pool. ReportStore writes sessions and agent
// reports through it with retries, ReportReader serves the read side and the
// envelope-wrapped variants used by the HTTP API.
package store

import (
	"context"

	"go.uber.org/zap"
)

// Store bundles the pool with the write and read services.
type Store struct {
	Pool    *Manager
	Reports *ReportStore
	Reader  *ReportReader
}

// New wires a Store for cfg. The pool is created lazily.
func New(cfg ConnConfig, opts ...Option) *Store {
	m := NewManager(cfg, opts...)
	return &Store{
		Pool:    m,
		Reports: NewReportStore(m, opts...),
		Reader:  NewReportReader(m, opts...),
	}
}

// NewWithURL parses rawURL and opens the pool eagerly so that configuration
// and connectivity problems surface at startup.
func NewWithURL(ctx context.Context, rawURL string, poolSize int, sslMode string, logger *zap.Logger, opts ...Option) (*Store, error) {
	cfg, err := ParseConnConfig(rawURL, poolSize, sslMode)
	if err != nil {
		return nil, err
	}
	s := New(cfg, append([]Option{WithLogger(logger)}, opts...)...)
	if _, err := s.Pool.CreatePool(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close shuts the pool down.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	return s.Pool.Shutdown()
}

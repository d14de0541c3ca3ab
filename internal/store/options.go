package store

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Option customises a Manager or one of the report services.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	open    func(driver, dsn string) (*sql.DB, error)
	retrier *Retrier
	now     func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), open: sql.Open, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOpener replaces sql.Open.
func WithOpener(open func(driver, dsn string) (*sql.DB, error)) Option {
	return func(o *options) { o.open = open }
}

// WithRetrier overrides the retry policy used by the report services.
// Per-operation retry counts are still applied on top of it.
func WithRetrier(r Retrier) Option {
	return func(o *options) { o.retrier = &r }
}

// WithClock sets the clock used for session identifiers and envelopes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

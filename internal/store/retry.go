package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// Retrier re-runs operations that fail with transient database errors.
// MaxRetries counts retries after the first attempt.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter returns the random component added to each delay. Defaults to
	// a uniform value in [0, 1s).
	Jitter func() time.Duration
	Logger *zap.Logger
}

// NewRetrier returns a Retrier with the default delays.
func NewRetrier(maxRetries int, logger *zap.Logger) Retrier {
	return Retrier{MaxRetries: maxRetries, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay, Logger: logger}
}

// WithMaxRetries returns a copy of r with a different retry count.
func (r Retrier) WithMaxRetries(n int) Retrier {
	r.MaxRetries = n
	return r
}

func (r Retrier) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// expBackOff yields min(base*2^n + jitter, max) for the n-th retry.
type expBackOff struct {
	base, max time.Duration
	jitter    func() time.Duration
	attempt   int
}

func (b *expBackOff) NextBackOff() time.Duration {
	shift := b.attempt
	if shift > 30 {
		shift = 30
	}
	d := b.base*time.Duration(1<<uint(shift)) + b.jitter()
	b.attempt++
	if d > b.max || d < 0 {
		return b.max
	}
	return d
}

func (b *expBackOff) Reset() { b.attempt = 0 }

func defaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

func (r Retrier) backOff(ctx context.Context) backoff.BackOff {
	base, maxDelay, jitter := r.BaseDelay, r.MaxDelay, r.Jitter
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if jitter == nil {
		jitter = defaultJitter
	}
	retries := r.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := &expBackOff{base: base, max: maxDelay, jitter: jitter}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, fails with a non-retryable error, ctx ends, or
// the retry budget is spent. Exhaustion yields *RetryExhaustedError.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := r.logger()
	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				log.Info("operation succeeded after retry", zap.String("op", op), zap.Int("attempt", attempts))
			}
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		recordRetry(ctx, op)
		log.Warn("retrying database operation",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.MaxRetries+1),
			zap.Duration("delay", next),
			zap.Error(err))
	}
	err := backoff.RetryNotify(operation, r.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if !IsRetryable(err) {
		return err
	}
	log.Error("database operation exhausted retries", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	return &RetryExhaustedError{Op: op, Attempts: attempts, Err: err}
}

// WithConn runs fn on a pooled connection inside Do. The connection is always
// released.
func (r Retrier) WithConn(ctx context.Context, pool Connector, op string, fn func(context.Context, *sql.Conn) error) error {
	return r.Do(ctx, op, func(ctx context.Context) error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer pool.Release(conn)
		return fn(ctx, conn)
	})
}

// WithTx runs fn in a transaction on a pooled connection inside Do. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r Retrier) WithTx(ctx context.Context, pool Connector, op string, fn func(context.Context, *sql.Tx) error) error {
	return r.WithConn(ctx, pool, op, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger().Error("rollback failed", zap.String("op", op), zap.Error(rbErr))
			}
			return err
		}
		return tx.Commit()
	})
}

// IsRetryable reports whether err is a transient connectivity or contention
// failure worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53":
			return true
		case "57":
			// admin_shutdown, crash_shutdown, cannot_connect_now
			return len(pqErr.Code) == 5 && pqErr.Code[2] == 'P'
		case "40":
			return pqErr.Code == "40001" || pqErr.Code == "40P01"
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

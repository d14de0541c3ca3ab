// Package retention periodically purges old analysis sessions on a cron
// schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/tradingagents/config"
	"go.uber.org/zap"
)

// Purger deletes sessions older than days and reports how many were removed.
type Purger interface {
	PurgeOlderThan(ctx context.Context, days int) int64
}

// Sweeper runs Purger on a schedule. With a Locker, only one replica sweeps
// per tick.
type Sweeper struct {
	purger  Purger
	locker  Locker
	days    int
	lockTTL time.Duration
	expr    *cronexpr.Expression
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Sweeper from cfg. locker may be nil.
func New(cfg config.RetentionConfig, purger Purger, locker Locker, logger *zap.Logger) (*Sweeper, error) {
	if purger == nil {
		return nil, errors.New("retention: purger is required")
	}
	cfg = cfg.Normalize()
	expr, err := cronexpr.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("retention: schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		purger:  purger,
		locker:  locker,
		days:    cfg.Days,
		lockTTL: cfg.LockTTL,
		expr:    expr,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// NextRun returns the first scheduled time strictly after t.
func (s *Sweeper) NextRun(t time.Time) time.Time {
	return s.expr.Next(t)
}

// RunOnce performs a single sweep. ran is false when another replica holds
// the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (purged int64, ran bool, err error) {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, LockKey, s.lockTTL)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			s.logger.Debug("retention sweep held by another instance")
			return 0, false, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release retention lock", zap.Error(err))
			}
		}()
	}
	purged = s.purger.PurgeOlderThan(ctx, s.days)
	s.logger.Info("retention sweep finished", zap.Int("days", s.days), zap.Int64("purged", purged))
	return purged, true, nil
}

// Start sweeps at every scheduled time until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	for {
		next := s.NextRun(s.now())
		if next.IsZero() {
			s.logger.Warn("retention schedule has no future runs")
			return
		}
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention sweep", zap.Error(err))
		}
	}
}

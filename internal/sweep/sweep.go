// Package sweep expires trips that already departed and requests whose
// deadline passed.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/delivery-matching/internal/lock"
	"github.com/example/delivery-matching/internal/observability"
)

const (
	lockKey          = "expiry-sweep"
	defaultBatchSize = 500
	defaultLockTTL   = 10 * time.Minute
)

type Store interface {
	ExpireTrips(ctx context.Context, now time.Time, limit int) (int, error)
	ExpireRequests(ctx context.Context, now time.Time, limit int) (int, error)
}

type Result struct {
	Trips    int  `json:"trips"`
	Requests int  `json:"requests"`
	Skipped  bool `json:"skipped"`
}

// Sweeper writes one atomic batch per collection per run. Documents left
// over when a batch is full are picked up by the next run.
type Sweeper struct {
	Store     Store
	Locker    lock.Locker
	Logger    *slog.Logger
	BatchSize int
	LockTTL   time.Duration
	Now       func() time.Time
}

// Run performs one sweep. When another run holds the lock it returns a
// skipped result without touching the store.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, lockKey, s.lockTTL())
		if err != nil {
			return Result{}, fmt.Errorf("sweep.Sweeper.Run: %w", err)
		}
		if !ok {
			s.logger().Info("expiry sweep skipped, another run holds the lock")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger().Warn("release sweep lock failed", "error", err)
			}
		}()
	}

	now := s.now()
	var res Result
	var err error

	res.Trips, err = s.Store.ExpireTrips(ctx, now, s.batchSize())
	if err != nil {
		return res, fmt.Errorf("sweep.Sweeper.Run: trips: %w", err)
	}
	observability.SweepExpiredTotal.WithLabelValues("trips").Add(float64(res.Trips))

	res.Requests, err = s.Store.ExpireRequests(ctx, now, s.batchSize())
	if err != nil {
		return res, fmt.Errorf("sweep.Sweeper.Run: requests: %w", err)
	}
	observability.SweepExpiredTotal.WithLabelValues("requests").Add(float64(res.Requests))

	s.logger().Info("expiry sweep finished", "trips", res.Trips, "requests", res.Requests)
	return res, nil
}

// Loop runs the sweep every interval until ctx is done. Runs execute on
// this goroutine, so a slow run delays the next instead of overlapping it.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger().Error("expiry sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize <= 0 || s.BatchSize > defaultBatchSize {
		return defaultBatchSize
	}
	return s.BatchSize
}

func (s *Sweeper) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return defaultLockTTL
	}
	return s.LockTTL
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

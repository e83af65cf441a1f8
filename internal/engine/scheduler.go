package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Scheduler re-runs a full load-and-sync cycle at a fixed interval, with
// a small random jitter so several archives pointed at one source do not
// align their calls.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	jitter   time.Duration
	logger   *slog.Logger
}

// NewScheduler builds a scheduler around an existing syncer.
func NewScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if syncer == nil {
		return nil, errors.New("scheduler requires a syncer")
	}
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		jitter:   interval / 10,
		logger:   logger.With("component", "scheduler"),
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx
// is cancelled. A failed cycle is logged and the cadence keeps going.
func (s *Scheduler) Run(ctx context.Context, instruments ...string) error {
	for {
		s.cycle(ctx, instruments)

		wait := s.interval
		if s.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(s.jitter)))
		}
		s.logger.Info("next cycle scheduled", "in", wait.Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context, instruments []string) {
	if ctx.Err() != nil {
		return
	}
	if err := s.syncer.LoadIndex(ctx); err != nil {
		s.logger.Error("index load failed", "error", err)
		return
	}
	report, err := s.syncer.Sync(ctx, instruments...)
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}
	s.logger.Info("cycle finished",
		"state", report.State,
		"written", report.Counters.ChunksWritten,
		"failed", report.Counters.FailedPeriods)
}

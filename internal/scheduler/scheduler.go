// Package scheduler runs the periodic sync loop in-process. Exact firing
// times are unnecessary: the finalize pass is ledger-gated to once per
// calendar day, so extra ticks are cheap no-ops.
package scheduler

import (
	"context"
	"time"

	"github.com/mediapulse/adsync/internal/syncer"
	"go.uber.org/zap"
)

// Scheduler drives the coordinator on fixed intervals.
type Scheduler struct {
	coord            *syncer.Coordinator
	todayInterval    time.Duration
	finalizeInterval time.Duration
	logger           *zap.Logger
}

func New(coord *syncer.Coordinator, todayInterval, finalizeInterval time.Duration, logger *zap.Logger) *Scheduler {
	if todayInterval <= 0 {
		todayInterval = 6 * time.Hour
	}
	if finalizeInterval <= 0 {
		finalizeInterval = time.Hour
	}
	return &Scheduler{
		coord:            coord,
		todayInterval:    todayInterval,
		finalizeInterval: finalizeInterval,
		logger:           logger,
	}
}

// Run blocks until ctx is cancelled. Both passes run once immediately on
// start so a restarted process catches up without waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	todayTicker := time.NewTicker(s.todayInterval)
	finalizeTicker := time.NewTicker(s.finalizeInterval)
	defer todayTicker.Stop()
	defer finalizeTicker.Stop()

	s.logger.Info("scheduler running",
		zap.Duration("today_interval", s.todayInterval),
		zap.Duration("finalize_interval", s.finalizeInterval),
	)

	s.runFinalize(ctx)
	s.runToday(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-todayTicker.C:
			s.runToday(ctx)
		case <-finalizeTicker.C:
			s.runFinalize(ctx)
		}
	}
}

func (s *Scheduler) runToday(ctx context.Context) {
	res := s.coord.SyncToday(ctx)
	s.logResult("today sync", res)
}

func (s *Scheduler) runFinalize(ctx context.Context) {
	res := s.coord.FinalizeYesterday(ctx)
	if res.Skipped {
		s.logger.Debug("finalize already ran today", zap.String("date", res.Date))
		return
	}
	s.logResult("yesterday finalize", res)
}

func (s *Scheduler) logResult(name string, res syncer.Result) {
	for _, p := range res.Platforms {
		if p.Err != nil {
			s.logger.Error(name+" platform failed",
				zap.String("run_id", res.RunID),
				zap.String("platform", string(p.Platform)),
				zap.Error(p.Err),
			)
		}
	}
	if res.RollupErr != nil {
		s.logger.Error(name+" rollup refresh failed",
			zap.String("run_id", res.RunID),
			zap.Error(res.RollupErr),
		)
	}
	if res.OK() && res.RollupErr == nil {
		s.logger.Info(name+" complete",
			zap.String("run_id", res.RunID),
			zap.String("date", res.Date),
		)
	}
}

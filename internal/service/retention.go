package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
)

// StartRetentionScheduler purges old runs on the configured cron schedule
// until ctx is cancelled. It returns immediately; the loop runs in its own
// goroutine. Nothing is scheduled without a store or when retention is off.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg config.RetentionConfig) error {
	if !cfg.Enabled || s.store == nil {
		slog.Info("retention scheduler disabled",
			"enabled", cfg.Enabled,
			"persistent", s.store != nil,
		)
		return nil
	}
	sched, err := config.CronParser.Parse(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
	}

	slog.Info("retention scheduler started",
		"schedule", cfg.Schedule,
		"run_days", cfg.RunDays,
	)

	go s.retentionLoop(ctx, sched, cfg.RunDays)
	return nil
}

func (s *Service) retentionLoop(ctx context.Context, sched cron.Schedule, days int) {
	for {
		now := s.now()
		next := sched.Next(now)
		slog.Debug("next retention purge", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("retention scheduler stopped")
			return
		case <-timer.C:
		}

		if _, err := s.PurgeRuns(ctx, days); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("retention purge failed", "error", err)
		}
	}
}

// PurgeRuns deletes runs older than days and their records.
func (s *Service) PurgeRuns(ctx context.Context, days int) (int64, error) {
	if s.store == nil {
		return 0, ErrPersistenceDisabled
	}
	start := time.Now()
	n, err := s.store.PurgeRunsOlderThan(ctx, days)
	if err != nil {
		return 0, err
	}
	slog.Info("purged old runs",
		"count", n,
		"older_than_days", days,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.recorder.Record(ctx, audit.EventRunsPurged, "", map[string]any{
		"count":           n,
		"older_than_days": days,
	})
	return n, nil
}

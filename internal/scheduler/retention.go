package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// sweepHistory enforces the schedule log retention cap after a firing. The
// cap is read fresh from settings every time so operators can tune it
// without a restart. A cap of 0 (or an absent setting) keeps everything.
// Ad-hoc job logs are never touched by the sweep.
func (s *Scheduler) sweepHistory(ctx context.Context) {
	limit, err := s.settings.CronHistoryLimit(ctx)
	if err != nil {
		s.logger.Warn("failed to read history retention limit", zap.Error(err))
		return
	}
	if limit <= 0 {
		return
	}

	deleted, err := s.schedules.TrimLogs(ctx, limit)
	if err != nil {
		s.logger.Warn("history retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("history retention sweep",
			zap.Int("limit", limit),
			zap.Int64("deleted", deleted),
		)
	}
}

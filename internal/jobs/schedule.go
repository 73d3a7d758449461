package jobs

import (
	"context"
	"time"

	"learnplan/internal/logger"
)

// Scheduler enqueues a recurring job. The pending-job dedupe keeps at most
// one copy queued however often it fires.
type Scheduler struct {
	Repo     *Repo
	Type     string
	Interval time.Duration
	Log      *logger.Logger
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return nil
	}
	s.enqueue(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.enqueue(ctx)
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) {
	inserted, err := s.Repo.Enqueue(ctx, s.Type, s.Type, struct{}{}, s.Repo.now())
	if err != nil {
		s.Log.Warn("schedule enqueue failed", "job_type", s.Type, "error", err)
		return
	}
	if inserted {
		s.Log.Debug("job scheduled", "job_type", s.Type)
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"learnplan/internal/logger"
)

type Repairer interface {
	Repair(ctx context.Context, userID, planID string) (bool, error)
	RepairAll(ctx context.Context) (int, error)
}

type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Worker struct {
	ID        string
	Repo      *Repo
	Repairer  Repairer
	Pruner    Pruner
	Retention time.Duration
	Poll      time.Duration
	Log       *logger.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	poll := w.Poll
	if poll <= 0 {
		poll = 800 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// drain everything that is due before sleeping again
			for {
				ok, err := w.ProcessNext(ctx)
				if err != nil {
					w.Log.Warn("worker claim error", "worker", w.ID, "error", err)
				}
				if !ok || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// ProcessNext claims and handles one due job. It reports whether a job was
// handled.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.Repo.Claim(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	log := w.Log.With("job_id", job.ID, "job_type", job.Type)

	var err error
	switch job.Type {
	case TypeProgressRepair:
		var p repairPayload
		if jerr := json.Unmarshal(job.Payload, &p); jerr != nil || p.UserID == "" || p.PlanID == "" {
			_ = w.Repo.MarkFailed(ctx, job.ID, "bad payload")
			return
		}
		var changed bool
		changed, err = w.Repairer.Repair(ctx, p.UserID, p.PlanID)
		if err == nil {
			log.Info("assignment repaired", "user_id", p.UserID, "plan_id", p.PlanID, "changed", changed)
		}
	case TypeProgressRepairAll:
		var n int
		n, err = w.Repairer.RepairAll(ctx)
		if err == nil {
			log.Info("repair pass finished", "repaired", n)
		}
	case TypeActivityPrune:
		if w.Retention <= 0 || w.Pruner == nil {
			_ = w.Repo.MarkDone(ctx, job.ID)
			return
		}
		var n int64
		n, err = w.Pruner.Prune(ctx, w.Repo.now().Add(-w.Retention))
		if err == nil {
			log.Info("activity pruned", "deleted", n)
		}
	default:
		_ = w.Repo.MarkFailed(ctx, job.ID, "unknown job type")
		return
	}

	if err != nil {
		log.Warn("job failed", "attempt", job.Attempts+1, "error", err)
		w.retry(ctx, job, err.Error())
		return
	}
	if err := w.Repo.MarkDone(ctx, job.ID); err != nil {
		log.Warn("mark done failed", "error", err)
	}
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_ = w.Repo.MarkFailed(ctx, job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := w.Repo.now().Add(time.Duration(sec) * time.Second)

	if err := w.Repo.RetryLater(ctx, job.ID, attempts, next, errMsg); err != nil {
		// a pending twin already covers this work
		_ = w.Repo.MarkFailed(ctx, job.ID, fmt.Sprintf("%s (requeue: %v)", errMsg, err))
	}
}

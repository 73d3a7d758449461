package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const stuckAfter = 5 * time.Minute

type Repo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Enqueue adds a pending job unless one with the same type and dedupe key
// is already pending. It reports whether a row was inserted.
func (r *Repo) Enqueue(ctx context.Context, typ, dedupeKey string, payload any, runAt time.Time) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	now := r.now()
	j := Job{
		Type:        typ,
		DedupeKey:   dedupeKey,
		Payload:     datatypes.JSON(raw),
		RunAt:       runAt,
		Status:      StatusPending,
		MaxAttempts: 8,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&j)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) EnqueueRepair(ctx context.Context, userID, planID string) error {
	_, err := r.Enqueue(ctx, TypeProgressRepair, userID+"/"+planID, repairPayload{UserID: userID, PlanID: planID}, r.now())
	return err
}

// Claim one due job. Postgres uses SKIP LOCKED; elsewhere the claim is a
// conditional single-row update and losing the race yields no job.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	now := r.now()
	db := r.DB.WithContext(ctx)

	if err := r.requeueStuck(ctx, now); err != nil {
		return nil, err
	}

	if r.DB.Dialector.Name() == "postgres" {
		var job Job
		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= ?
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=?, updated_at=?
where id in (select id from cte)
returning *;
`, now, workerID, now, now).Scan(&job).Error
		})
		if err != nil {
			return nil, err
		}
		if job.ID == 0 {
			return nil, nil
		}
		return &job, nil
	}

	var cand Job
	err := db.Where("status = ? AND run_at <= ?", StatusPending, now).
		Order("run_at ASC").Order("id ASC").
		First(&cand).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res := db.Model(&Job{}).
		Where("id = ? AND status = ?", cand.ID, StatusPending).
		Updates(map[string]any{"status": StatusRunning, "locked_by": workerID, "locked_at": now, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	cand.Status = StatusRunning
	cand.LockedBy = &workerID
	cand.LockedAt = &now
	return &cand, nil
}

// requeueStuck puts RUNNING jobs whose lock has expired back to PENDING, one
// row at a time. A job whose key already has a pending twin cannot go back
// to PENDING; it is failed instead since the twin covers its work.
func (r *Repo) requeueStuck(ctx context.Context, now time.Time) error {
	db := r.DB.WithContext(ctx)

	var ids []uint64
	if err := db.Model(&Job{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", StatusRunning, now.Add(-stuckAfter)).
		Order("id ASC").
		Limit(100).
		Pluck("id", &ids).Error; err != nil {
		return err
	}

	for _, id := range ids {
		err := db.Model(&Job{}).
			Where("id = ? AND status = ?", id, StatusRunning).
			Updates(map[string]any{"status": StatusPending, "locked_by": nil, "locked_at": nil, "updated_at": now}).Error
		if err == nil {
			continue
		}
		if ferr := r.MarkFailed(ctx, id, "superseded by pending job: "+err.Error()); ferr != nil {
			return ferr
		}
	}
	return nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusDone, "updated_at": r.now()}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusFailed, "last_error": errMsg, "updated_at": r.now()}).Error
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   attempts,
			"run_at":     runAt,
			"locked_by":  nil,
			"locked_at":  nil,
			"last_error": errMsg,
			"updated_at": r.now(),
		}).Error
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

package assignment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnplan/internal/activity"
	"learnplan/internal/apperr"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
)

type PlanReader interface {
	Get(ctx context.Context, planID string) (plan.Plan, error)
	GetMany(ctx context.Context, planIDs []string) (map[string]plan.Plan, error)
}

type Emitter interface {
	Emit(ctx context.Context, ev activity.Event)
}

type Store struct {
	db       *gorm.DB
	log      *logger.Logger
	plans    PlanReader
	activity Emitter
	now      func() time.Time
}

func NewStore(db *gorm.DB, baseLog *logger.Logger, plans PlanReader, activity Emitter) *Store {
	return &Store{
		db:       db,
		log:      baseLog.With("store", "AssignmentStore"),
		plans:    plans,
		activity: activity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Assign links planID to userID. The plan must exist, so no orphan link is
// ever written. An existing link is returned as is.
func (s *Store) Assign(ctx context.Context, userID, planID string, opts AssignOptions) (UserPlan, error) {
	if userID == "" {
		return UserPlan{}, apperr.Validation("assignment.assign", "user id required")
	}
	if opts.InitialProgress < 0 || opts.InitialProgress > 100 {
		return UserPlan{}, apperr.Validation("assignment.assign", "initial progress %d out of range", opts.InitialProgress)
	}
	if opts.TotalSteps < 0 {
		return UserPlan{}, apperr.Validation("assignment.assign", "total steps %d negative", opts.TotalSteps)
	}

	p, err := s.plans.Get(ctx, planID)
	if err != nil {
		return UserPlan{}, err
	}

	existing, err := s.Get(ctx, userID, planID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return UserPlan{}, err
	}

	total := opts.TotalSteps
	if total == 0 {
		total = len(p.Steps)
	}
	now := s.now()
	up := UserPlan{
		UserID:             userID,
		PlanID:             planID,
		Progress:           opts.InitialProgress,
		CompletedSteps:     roundHalfUp(opts.InitialProgress*total, 100),
		TotalSteps:         total,
		LastProgressUpdate: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&up)
	if res.Error != nil {
		return UserPlan{}, apperr.FromDB("assignment.assign", res.Error)
	}
	if res.RowsAffected == 0 {
		// a concurrent assign linked the pair first; its row and event stand
		return s.Get(ctx, userID, planID)
	}

	s.activity.Emit(ctx, activity.Event{
		UserID:    userID,
		Action:    activity.PlanAssigned,
		Timestamp: now,
		Details: activity.Details{
			PlanID:          planID,
			InitialProgress: activity.Int(up.Progress),
			TotalSteps:      activity.Int(up.TotalSteps),
		},
	})
	return up, nil
}

func (s *Store) Get(ctx context.Context, userID, planID string) (UserPlan, error) {
	var up UserPlan
	err := s.db.WithContext(ctx).Where("user_id = ? AND plan_id = ?", userID, planID).First(&up).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserPlan{}, apperr.NotFound("assignment.get", "plan %s is not assigned to user", planID)
	}
	if err != nil {
		return UserPlan{}, apperr.FromDB("assignment.get", err)
	}
	return up, nil
}

// GetByUserID lists the user's assignments, newest first, with their plans
// resolved in one batch read.
func (s *Store) GetByUserID(ctx context.Context, userID string) ([]Entry, error) {
	var rows []UserPlan
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("plan_id ASC").
		Find(&rows).Error; err != nil {
		return nil, apperr.FromDB("assignment.list", err)
	}
	if len(rows) == 0 {
		return []Entry{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PlanID)
	}
	plans, err := s.plans.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		p, ok := plans[r.PlanID]
		if !ok {
			s.log.Warn("assignment references missing plan", "user_id", r.UserID, "plan_id", r.PlanID)
			continue
		}
		out = append(out, Entry{UserPlan: r, Plan: p})
	}
	return out, nil
}

// UpdateProgress overwrites the summary (last writer wins) and records the
// change. The previous progress is read right before the write.
func (s *Store) UpdateProgress(ctx context.Context, userID, planID string, sum Summary) error {
	prev, err := s.Get(ctx, userID, planID)
	if err != nil {
		return err
	}

	now := s.now()
	res := s.db.WithContext(ctx).
		Model(&UserPlan{}).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Updates(map[string]any{
			"progress":             sum.Progress,
			"completed_steps":      sum.CompletedSteps,
			"total_steps":          sum.TotalSteps,
			"last_progress_update": now,
			"updated_at":           now,
		})
	if res.Error != nil {
		return apperr.FromDB("assignment.update_progress", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("assignment.update_progress", "plan %s is not assigned to user", planID)
	}

	s.activity.Emit(ctx, activity.Event{
		UserID:    userID,
		Action:    activity.ProgressUpdate,
		Timestamp: now,
		Details: activity.Details{
			PlanID:           planID,
			PreviousProgress: activity.Int(prev.Progress),
			NewProgress:      activity.Int(sum.Progress),
			CompletedSteps:   activity.Int(sum.CompletedSteps),
			TotalSteps:       activity.Int(sum.TotalSteps),
		},
	})
	return nil
}

// Remove deletes only the link; the plan may still be referenced elsewhere.
func (s *Store) Remove(ctx context.Context, userID, planID string) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Delete(&UserPlan{}).Error; err != nil {
		return apperr.FromDB("assignment.remove", err)
	}
	return nil
}

// ForEach walks every assignment in (user_id, plan_id) order, one page at a
// time.
func (s *Store) ForEach(ctx context.Context, fn func(UserPlan) error) error {
	const pageSize = 200
	var lastUser, lastPlan string
	first := true
	for {
		q := s.db.WithContext(ctx).Order("user_id ASC").Order("plan_id ASC").Limit(pageSize)
		if !first {
			q = q.Where("user_id > ? OR (user_id = ? AND plan_id > ?)", lastUser, lastUser, lastPlan)
		}
		var page []UserPlan
		if err := q.Find(&page).Error; err != nil {
			return apperr.FromDB("assignment.for_each", err)
		}
		for _, up := range page {
			if err := fn(up); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		last := page[len(page)-1]
		lastUser, lastPlan, first = last.UserID, last.PlanID, false
	}
}

func roundHalfUp(num, den int) int {
	if den <= 0 {
		return 0
	}
	return (2*num + den) / (2 * den)
}

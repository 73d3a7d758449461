package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"learnplan/internal/apperr"
	"learnplan/internal/logger"
)

const maxModifyAttempts = 5

// Store owns the plans table. Every write is a single-row statement.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{
		db:  db,
		log: baseLog.With("store", "PlanStore"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Create(ctx context.Context, c Content) (Plan, error) {
	now := s.now()
	p := Plan{
		PlanID:                  uuid.NewString(),
		Title:                   c.Title,
		Description:             c.Description,
		EstimatedTimeToComplete: c.EstimatedTimeToComplete,
		Tags:                    append([]string{}, c.Tags...),
		Steps:                   make([]Step, len(c.Steps)),
		Notes:                   c.Notes,
		Revision:                1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	copy(p.Steps, c.Steps)
	for i := range p.Steps {
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
	if err := validate(&p); err != nil {
		return Plan{}, apperr.Validation("plan.create", "%v", err)
	}

	row := toRow(p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Plan{}, apperr.FromDB("plan.create", err)
	}
	s.log.Debug("plan created", "plan_id", p.PlanID, "steps", len(p.Steps))
	return p, nil
}

func (s *Store) Get(ctx context.Context, planID string) (Plan, error) {
	var row Row
	if err := s.db.WithContext(ctx).Where("plan_id = ?", planID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Plan{}, apperr.NotFound("plan.get", "plan %s", planID)
		}
		return Plan{}, apperr.FromDB("plan.get", err)
	}
	return fromRow(row), nil
}

// GetMany resolves several plans in one read. Missing ids are absent from
// the result.
func (s *Store) GetMany(ctx context.Context, planIDs []string) (map[string]Plan, error) {
	out := make(map[string]Plan, len(planIDs))
	if len(planIDs) == 0 {
		return out, nil
	}
	var rows []Row
	if err := s.db.WithContext(ctx).Where("plan_id IN ?", planIDs).Find(&rows).Error; err != nil {
		return nil, apperr.FromDB("plan.get_many", err)
	}
	for _, r := range rows {
		out[r.PlanID] = fromRow(r)
	}
	return out, nil
}

// Update applies the fields present in pt and writes the merged record back.
func (s *Store) Update(ctx context.Context, planID string, pt Patch) (Plan, error) {
	return s.Modify(ctx, planID, func(p *Plan) error {
		pt.apply(p)
		return nil
	})
}

// Modify is the read-modify-write primitive. fn mutates a fresh copy of the
// current record; the write only lands if nobody else wrote the plan since
// it was read, otherwise fn is re-applied to the newer record.
func (s *Store) Modify(ctx context.Context, planID string, fn func(*Plan) error) (Plan, error) {
	for attempt := 1; attempt <= maxModifyAttempts; attempt++ {
		cur, err := s.Get(ctx, planID)
		if err != nil {
			return Plan{}, err
		}

		next := cur
		next.Tags = append([]string{}, cur.Tags...)
		next.Steps = append([]Step{}, cur.Steps...)
		if err := fn(&next); err != nil {
			return Plan{}, err
		}
		if err := validate(&next); err != nil {
			return Plan{}, apperr.Validation("plan.update", "%v", err)
		}

		next.PlanID = cur.PlanID
		next.CreatedAt = cur.CreatedAt
		next.Revision = cur.Revision + 1
		next.UpdatedAt = s.now()
		if !next.UpdatedAt.After(cur.UpdatedAt) {
			next.UpdatedAt = cur.UpdatedAt.Add(time.Microsecond)
		}

		ok, err := s.replace(ctx, cur.Revision, next)
		if err != nil {
			return Plan{}, err
		}
		if ok {
			return next, nil
		}
		s.log.Debug("plan write conflict, retrying", "plan_id", planID, "attempt", attempt)
	}
	return Plan{}, apperr.Conflict("plan.update", "plan %s changed concurrently %d times", planID, maxModifyAttempts)
}

// replace writes every mutable column of p in one statement, conditional on
// the stored revision still being expected.
func (s *Store) replace(ctx context.Context, expected int64, p Plan) (bool, error) {
	row := toRow(p)
	res := s.db.WithContext(ctx).
		Model(&Row{}).
		Where("plan_id = ? AND revision = ?", p.PlanID, expected).
		Updates(map[string]any{
			"title":                      row.Title,
			"description":                row.Description,
			"estimated_time_to_complete": row.EstimatedTimeToComplete,
			"tags":                       row.Tags,
			"steps":                      row.Steps,
			"notes":                      row.Notes,
			"revision":                   row.Revision,
			"updated_at":                 row.UpdatedAt,
		})
	if res.Error != nil {
		return false, apperr.FromDB("plan.update", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete is unconditional and idempotent.
func (s *Store) Delete(ctx context.Context, planID string) error {
	if err := s.db.WithContext(ctx).Where("plan_id = ?", planID).Delete(&Row{}).Error; err != nil {
		return apperr.FromDB("plan.delete", err)
	}
	return nil
}

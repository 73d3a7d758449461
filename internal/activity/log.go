package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"learnplan/internal/apperr"
	"learnplan/internal/logger"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Publisher fans recorded events out to live listeners.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Log is the append-only, per-user activity record.
type Log struct {
	db  *gorm.DB
	log *logger.Logger
	pub Publisher
	now func() time.Time
}

func NewLog(db *gorm.DB, baseLog *logger.Logger, pub Publisher) *Log {
	return &Log{
		db:  db,
		log: baseLog.With("component", "ActivityLog"),
		pub: pub,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Record appends ev. The id is a UUIDv7 so ids sort in generation order.
func (l *Log) Record(ctx context.Context, ev Event) (Event, error) {
	if ev.UserID == "" {
		return Event{}, apperr.Validation("activity.record", "user id required")
	}
	if !ev.Action.Valid() {
		return Event{}, apperr.Validation("activity.record", "unknown action %q", ev.Action)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, apperr.Backend("activity.record", err)
	}
	ev.ActivityID = id.String()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	row := toRow(ev)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Event{}, apperr.FromDB("activity.record", err)
	}

	if l.pub != nil {
		if err := l.pub.Publish(ctx, ev); err != nil {
			l.log.Warn("activity publish failed", "activity_id", ev.ActivityID, "action", ev.Action, "error", err)
		}
	}
	return ev, nil
}

// Emit records ev and swallows the failure after logging it. The audit
// trail never rolls back the state change it describes.
func (l *Log) Emit(ctx context.Context, ev Event) {
	if _, err := l.Record(ctx, ev); err != nil {
		l.log.Warn("activity record failed",
			"user_id", ev.UserID,
			"action", ev.Action,
			"plan_id", ev.Details.PlanID,
			"error", err,
		)
	}
}

func (l *Log) ListByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	return l.list(ctx, "activity.list", l.db.Where("user_id = ?", userID), limit)
}

func (l *Log) ListByUserAndAction(ctx context.Context, userID string, action Action, limit int) ([]Event, error) {
	if !action.Valid() {
		return nil, apperr.Validation("activity.list", "unknown action %q", action)
	}
	return l.list(ctx, "activity.list", l.db.Where("user_id = ? AND action = ?", userID, string(action)), limit)
}

// ListPlanHistory returns the progress updates recorded for one plan.
func (l *Log) ListPlanHistory(ctx context.Context, userID, planID string, limit int) ([]Event, error) {
	q := l.db.Where("user_id = ? AND plan_id = ? AND action = ?", userID, planID, string(ProgressUpdate))
	return l.list(ctx, "activity.plan_history", q, limit)
}

func (l *Log) list(ctx context.Context, op string, q *gorm.DB, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var rows []Row
	if err := q.WithContext(ctx).
		Order("occurred_at DESC").
		Order("activity_id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Prune deletes events older than before. Only the retention job calls it.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&Row{})
	if res.Error != nil {
		return 0, apperr.FromDB("activity.prune", res.Error)
	}
	l.log.Info("activity pruned", "before", before, "deleted", res.RowsAffected)
	return res.RowsAffected, nil
}

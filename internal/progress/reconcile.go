package progress

import (
	"context"
	"errors"

	"learnplan/internal/activity"
	"learnplan/internal/apperr"
	"learnplan/internal/assignment"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
)

type PlanStore interface {
	Get(ctx context.Context, planID string) (plan.Plan, error)
	Modify(ctx context.Context, planID string, fn func(*plan.Plan) error) (plan.Plan, error)
}

type AssignmentStore interface {
	Get(ctx context.Context, userID, planID string) (assignment.UserPlan, error)
	UpdateProgress(ctx context.Context, userID, planID string, sum assignment.Summary) error
	ForEach(ctx context.Context, fn func(assignment.UserPlan) error) error
}

type Emitter interface {
	Emit(ctx context.Context, ev activity.Event)
}

// RepairQueue schedules an out-of-band repair of one assignment.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, userID, planID string) error
}

// Result is the outcome of a step change. Partial means the plan was written
// but the assignment summary was not; a repair has been queued.
type Result struct {
	Plan    plan.Plan          `json:"plan"`
	Summary assignment.Summary `json:"summary"`
	Partial bool               `json:"partial"`
}

// Reconciler keeps the assignment summary in line with the plan's step list.
// Writes go plan first, summary second, audit last; only the plan write can
// fail the operation.
type Reconciler struct {
	plans       PlanStore
	assignments AssignmentStore
	activity    Emitter
	repairs     RepairQueue
	log         *logger.Logger
}

func NewReconciler(plans PlanStore, assignments AssignmentStore, activity Emitter, repairs RepairQueue, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{
		plans:       plans,
		assignments: assignments,
		activity:    activity,
		repairs:     repairs,
		log:         baseLog.With("component", "Reconciler"),
	}
}

// ToggleStep flips one step's completion and propagates the new summary.
func (r *Reconciler) ToggleStep(ctx context.Context, userID, planID, stepID string) (Result, error) {
	var toggled plan.Step
	p, err := r.plans.Modify(ctx, planID, func(p *plan.Plan) error {
		i := p.StepIndex(stepID)
		if i < 0 {
			return apperr.Validation("progress.toggle_step", "plan %s has no step %q", planID, stepID)
		}
		p.Steps[i].Completed = !p.Steps[i].Completed
		toggled = p.Steps[i]
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := r.propagate(ctx, userID, p)
	r.emitStep(ctx, userID, planID, toggled)
	return res, nil
}

// SetSteps sets the completion flag of several steps in one plan write.
// Steps already in the requested state are left alone and not recorded.
func (r *Reconciler) SetSteps(ctx context.Context, userID, planID string, states map[string]bool) (Result, error) {
	if len(states) == 0 {
		return Result{}, apperr.Validation("progress.set_steps", "no step states given")
	}
	var changed []plan.Step
	p, err := r.plans.Modify(ctx, planID, func(p *plan.Plan) error {
		changed = changed[:0]
		for id := range states {
			if p.StepIndex(id) < 0 {
				return apperr.Validation("progress.set_steps", "plan %s has no step %q", planID, id)
			}
		}
		for i := range p.Steps {
			want, ok := states[p.Steps[i].ID]
			if !ok || p.Steps[i].Completed == want {
				continue
			}
			p.Steps[i].Completed = want
			changed = append(changed, p.Steps[i])
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := r.propagate(ctx, userID, p)
	for _, s := range changed {
		r.emitStep(ctx, userID, planID, s)
	}
	return res, nil
}

// propagate writes the summary derived from p. A failure leaves the plan
// as written and queues a repair.
func (r *Reconciler) propagate(ctx context.Context, userID string, p plan.Plan) Result {
	sum := Summarize(p.Steps)
	res := Result{Plan: p, Summary: sum}

	err := r.assignments.UpdateProgress(ctx, userID, p.PlanID, sum)
	if err == nil {
		return res
	}
	res.Partial = true
	r.log.Warn("partial reconciliation: summary write failed",
		"user_id", userID,
		"plan_id", p.PlanID,
		"progress", sum.Progress,
		"error", err,
	)
	if errors.Is(err, apperr.ErrNotFound) || r.repairs == nil {
		return res
	}
	if qerr := r.repairs.EnqueueRepair(ctx, userID, p.PlanID); qerr != nil {
		r.log.Warn("repair enqueue failed", "user_id", userID, "plan_id", p.PlanID, "error", qerr)
	}
	return res
}

func (r *Reconciler) emitStep(ctx context.Context, userID, planID string, s plan.Step) {
	action := activity.StepUncompleted
	if s.Completed {
		action = activity.StepCompleted
	}
	r.activity.Emit(ctx, activity.Event{
		UserID: userID,
		Action: action,
		Details: activity.Details{
			PlanID:    planID,
			StepID:    s.ID,
			Completed: activity.Bool(s.Completed),
		},
	})
}

// Repair recomputes one assignment's summary from its plan and writes it
// when it has drifted. A link whose plan is gone is left untouched. It
// reports whether anything was written.
func (r *Reconciler) Repair(ctx context.Context, userID, planID string) (bool, error) {
	up, err := r.assignments.Get(ctx, userID, planID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p, err := r.plans.Get(ctx, planID)
	if errors.Is(err, apperr.ErrNotFound) {
		// deletion only cascades to the deleting user's link; others stay
		// and listing skips them
		r.log.Debug("assignment of deleted plan left in place", "user_id", userID, "plan_id", planID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sum := Summarize(p.Steps)
	if sum == up.Summary() {
		return false, nil
	}
	r.log.Info("repairing stale summary",
		"user_id", userID,
		"plan_id", planID,
		"stored", up.Progress,
		"computed", sum.Progress,
	)
	if err := r.assignments.UpdateProgress(ctx, userID, planID, sum); err != nil {
		return false, err
	}
	return true, nil
}

// RepairAll runs Repair over every assignment and returns how many changed.
// It keeps going past individual failures and returns the first one.
func (r *Reconciler) RepairAll(ctx context.Context) (int, error) {
	repaired := 0
	var firstErr error
	err := r.assignments.ForEach(ctx, func(up assignment.UserPlan) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := r.Repair(ctx, up.UserID, up.PlanID)
		if err != nil {
			r.log.Warn("repair failed", "user_id", up.UserID, "plan_id", up.PlanID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		if changed {
			repaired++
		}
		return nil
	})
	if err != nil {
		return repaired, err
	}
	return repaired, firstErr
}

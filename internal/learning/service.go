package learning

import (
	"context"
	"errors"
	"strings"

	"learnplan/internal/activity"
	"learnplan/internal/apperr"
	"learnplan/internal/assignment"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
	"learnplan/internal/preferences"
	"learnplan/internal/progress"
)

// Service is the surface the transport layer talks to. Every plan mutation
// is scoped to a plan the caller holds an assignment for.
type Service struct {
	Plans       *plan.Store
	Assignments *assignment.Store
	Activity    *activity.Log
	Reconciler  *progress.Reconciler
	Preferences *preferences.Store
	Log         *logger.Logger
}

func (s *Service) CreatePlan(ctx context.Context, c plan.Content) (plan.Plan, error) {
	return s.Plans.Create(ctx, c)
}

// CreatePlanForUser stores a freshly generated plan and assigns it. If the
// assignment cannot be written the plan is deleted again.
func (s *Service) CreatePlanForUser(ctx context.Context, userID string, c plan.Content, opts assignment.AssignOptions) (assignment.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return assignment.Entry{}, apperr.Validation("learning.create_plan", "user id required")
	}
	p, err := s.Plans.Create(ctx, c)
	if err != nil {
		return assignment.Entry{}, err
	}
	up, err := s.Assignments.Assign(ctx, userID, p.PlanID, opts)
	if err != nil {
		if derr := s.Plans.Delete(ctx, p.PlanID); derr != nil {
			s.Log.Warn("orphan plan left after failed assign", "plan_id", p.PlanID, "error", derr)
		}
		return assignment.Entry{}, err
	}
	return assignment.Entry{UserPlan: up, Plan: p}, nil
}

func (s *Service) AssignPlan(ctx context.Context, userID, planID string, opts assignment.AssignOptions) (assignment.UserPlan, error) {
	return s.Assignments.Assign(ctx, userID, planID, opts)
}

func (s *Service) GetPlan(ctx context.Context, userID, planID string) (assignment.Entry, error) {
	up, err := s.Assignments.Get(ctx, userID, planID)
	if err != nil {
		return assignment.Entry{}, err
	}
	p, err := s.Plans.Get(ctx, planID)
	if err != nil {
		return assignment.Entry{}, err
	}
	return assignment.Entry{UserPlan: up, Plan: p}, nil
}

func (s *Service) ListUserPlans(ctx context.Context, userID string) ([]assignment.Entry, error) {
	return s.Assignments.GetByUserID(ctx, userID)
}

func (s *Service) ToggleStep(ctx context.Context, userID, planID, stepID string) (progress.Result, error) {
	if _, err := s.Assignments.Get(ctx, userID, planID); err != nil {
		return progress.Result{}, err
	}
	return s.Reconciler.ToggleStep(ctx, userID, planID, stepID)
}

func (s *Service) SetSteps(ctx context.Context, userID, planID string, states map[string]bool) (progress.Result, error) {
	if _, err := s.Assignments.Get(ctx, userID, planID); err != nil {
		return progress.Result{}, err
	}
	return s.Reconciler.SetSteps(ctx, userID, planID, states)
}

func (s *Service) UpdateNotes(ctx context.Context, userID, planID, notes string) (plan.Plan, error) {
	if _, err := s.Assignments.Get(ctx, userID, planID); err != nil {
		return plan.Plan{}, err
	}
	p, err := s.Plans.Update(ctx, planID, plan.Patch{Notes: &notes})
	if err != nil {
		return plan.Plan{}, err
	}
	s.Activity.Emit(ctx, activity.Event{
		UserID:  userID,
		Action:  activity.NotesUpdated,
		Details: activity.Details{PlanID: planID},
	})
	return p, nil
}

// DeletePlan drops the caller's link and the plan itself. Deleting a plan the
// caller no longer holds is a no-op.
func (s *Service) DeletePlan(ctx context.Context, userID, planID string) error {
	_, err := s.Assignments.Get(ctx, userID, planID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// plan first: while the link survives a retry can finish the job
	if err := s.Plans.Delete(ctx, planID); err != nil {
		return err
	}
	if err := s.Assignments.Remove(ctx, userID, planID); err != nil {
		return err
	}
	s.Activity.Emit(ctx, activity.Event{
		UserID:  userID,
		Action:  activity.PlanRemoved,
		Details: activity.Details{PlanID: planID},
	})
	return nil
}

// ListActivity returns the caller's events, newest first. An empty action
// lists every kind.
func (s *Service) ListActivity(ctx context.Context, userID, action string, limit int) ([]activity.Event, error) {
	action = strings.ToUpper(strings.TrimSpace(action))
	if action == "" {
		return s.Activity.ListByUser(ctx, userID, limit)
	}
	return s.Activity.ListByUserAndAction(ctx, userID, activity.Action(action), limit)
}

// ProgressHistory stays readable after the plan itself is deleted.
func (s *Service) ProgressHistory(ctx context.Context, userID, planID string, limit int) ([]activity.Event, error) {
	return s.Activity.ListPlanHistory(ctx, userID, planID, limit)
}

func (s *Service) GetPreferences(ctx context.Context, userID string) (preferences.Preferences, error) {
	return s.Preferences.Get(ctx, userID)
}

// UpdatePreferences merges pt into the caller's preferences. The first call
// creates them.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, pt preferences.Patch) (preferences.Preferences, error) {
	return s.Preferences.Upsert(ctx, userID, pt)
}

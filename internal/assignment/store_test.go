package assignment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"learnplan/internal/activity"
	"learnplan/internal/apperr"
	"learnplan/internal/assignment"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
	"learnplan/internal/testutil"
)

type fixture struct {
	db       *gorm.DB
	plans    *plan.Store
	activity *activity.Log
	store    *assignment.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.OpenDB(t)
	clock := testutil.NewClock()
	plans := plan.NewStore(gdb, logger.Nop()).WithClock(clock.Now)
	acts := activity.NewLog(gdb, logger.Nop(), nil).WithClock(clock.Now)
	return fixture{
		db:       gdb,
		plans:    plans,
		activity: acts,
		store:    assignment.NewStore(gdb, logger.Nop(), plans, acts).WithClock(clock.Now),
	}
}

func (f fixture) createPlan(t *testing.T, steps int) plan.Plan {
	t.Helper()
	c := plan.Content{Title: "Plan"}
	for i := 0; i < steps; i++ {
		c.Steps = append(c.Steps, plan.Step{Title: "step"})
	}
	p, err := f.plans.Create(context.Background(), c)
	require.NoError(t, err)
	return p
}

func TestAssignCountsStepsAndRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 4)

	up, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, up.Progress)
	require.Equal(t, 0, up.CompletedSteps)
	require.Equal(t, 4, up.TotalSteps)

	evs, err := f.activity.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, activity.PlanAssigned, evs[0].Action)
	require.Equal(t, p.PlanID, evs[0].Details.PlanID)
	require.Equal(t, 4, *evs[0].Details.TotalSteps)
}

func TestAssignInitialProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 3)

	up, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{InitialProgress: 50})
	require.NoError(t, err)
	require.Equal(t, 50, up.Progress)
	require.Equal(t, 2, up.CompletedSteps) // 1.5 rounds half up

	up, err = f.store.Assign(ctx, "u2", p.PlanID, assignment.AssignOptions{InitialProgress: 10, TotalSteps: 10})
	require.NoError(t, err)
	require.Equal(t, 10, up.TotalSteps)
	require.Equal(t, 1, up.CompletedSteps)

	_, err = f.store.Assign(ctx, "u3", p.PlanID, assignment.AssignOptions{InitialProgress: 101})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAssignMissingPlanCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Assign(ctx, "u1", "no-such-plan", assignment.AssignOptions{})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.store.Get(ctx, "u1", "no-such-plan")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	evs, err := f.activity.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestAssignTwiceReturnsExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 2)

	first, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{})
	require.NoError(t, err)
	second, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{InitialProgress: 100})
	require.NoError(t, err)
	require.Equal(t, first.Progress, second.Progress)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))

	evs, err := f.activity.ListByUserAndAction(ctx, "u1", activity.PlanAssigned, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestGetByUserIDResolvesPlans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	older := f.createPlan(t, 1)
	newer := f.createPlan(t, 2)
	gone := f.createPlan(t, 3)

	for _, p := range []plan.Plan{older, newer, gone} {
		_, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{})
		require.NoError(t, err)
	}
	_, err := f.store.Assign(ctx, "u2", older.PlanID, assignment.AssignOptions{})
	require.NoError(t, err)
	require.NoError(t, f.plans.Delete(ctx, gone.PlanID))

	entries, err := f.store.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, newer.PlanID, entries[0].Plan.PlanID)
	require.Equal(t, older.PlanID, entries[1].Plan.PlanID)
	require.Equal(t, 2, entries[0].UserPlan.TotalSteps)

	none, err := f.store.GetByUserID(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateProgressRecordsPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 4)
	_, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{InitialProgress: 25})
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateProgress(ctx, "u1", p.PlanID, assignment.Summary{Progress: 75, CompletedSteps: 3, TotalSteps: 4}))

	up, err := f.store.Get(ctx, "u1", p.PlanID)
	require.NoError(t, err)
	require.Equal(t, assignment.Summary{Progress: 75, CompletedSteps: 3, TotalSteps: 4}, up.Summary())
	require.True(t, up.LastProgressUpdate.After(up.CreatedAt))

	evs, err := f.activity.ListByUserAndAction(ctx, "u1", activity.ProgressUpdate, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, 25, *evs[0].Details.PreviousProgress)
	require.Equal(t, 75, *evs[0].Details.NewProgress)
	require.Equal(t, 3, *evs[0].Details.CompletedSteps)

	err = f.store.UpdateProgress(ctx, "u9", p.PlanID, assignment.Summary{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveKeepsPlanAndOtherUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 2)
	for _, u := range []string{"u1", "u2"} {
		_, err := f.store.Assign(ctx, u, p.PlanID, assignment.AssignOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, f.store.Remove(ctx, "u1", p.PlanID))
	require.NoError(t, f.store.Remove(ctx, "u1", p.PlanID))

	_, err := f.store.Get(ctx, "u1", p.PlanID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.Get(ctx, "u2", p.PlanID)
	require.NoError(t, err)
	_, err = f.plans.Get(ctx, p.PlanID)
	require.NoError(t, err)
}

func TestForEachVisitsAllAndStopsOnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 1)
	for _, u := range []string{"u3", "u1", "u2"} {
		_, err := f.store.Assign(ctx, u, p.PlanID, assignment.AssignOptions{})
		require.NoError(t, err)
	}

	var seen []string
	require.NoError(t, f.store.ForEach(ctx, func(up assignment.UserPlan) error {
		seen = append(seen, up.UserID)
		return nil
	}))
	require.Equal(t, []string{"u1", "u2", "u3"}, seen)

	stop := errors.New("stop")
	calls := 0
	err := f.store.ForEach(ctx, func(assignment.UserPlan) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestAssignLosingRaceReturnsWinnersRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createPlan(t, 4)

	// another writer links the pair right after Assign's existence check
	winner := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	fired := false
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:concurrent_assign", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "user_plans" {
			return
		}
		fired = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			`insert into user_plans (user_id, plan_id, progress, completed_steps, total_steps, last_progress_update, created_at, updated_at)
			 values (?, ?, 25, 1, 4, ?, ?, ?)`,
			"u1", p.PlanID, winner, winner, winner)
	}))

	up, err := f.store.Assign(ctx, "u1", p.PlanID, assignment.AssignOptions{InitialProgress: 75})
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, 25, up.Progress)
	require.Equal(t, 1, up.CompletedSteps)

	evs, err := f.activity.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Empty(t, evs)
}

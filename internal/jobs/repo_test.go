package jobs_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnplan/internal/jobs"
	"learnplan/internal/testutil"
)

func newRepo(t *testing.T) (*jobs.Repo, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock()
	return &jobs.Repo{DB: testutil.OpenDB(t), Now: clock.Now}, clock
}

func TestEnqueueDedupesPendingJobs(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	runAt := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	ok, err := repo.Enqueue(ctx, jobs.TypeProgressRepair, "u1/p1", map[string]string{"x": "1"}, runAt)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Enqueue(ctx, jobs.TypeProgressRepair, "u1/p1", map[string]string{"x": "2"}, runAt)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.Enqueue(ctx, jobs.TypeProgressRepair, "u1/p2", nil, runAt)
	require.NoError(t, err)
	require.True(t, ok)

	// same key under another type is a different job
	ok, err = repo.Enqueue(ctx, jobs.TypeProgressRepairAll, "u1/p1", nil, runAt)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClaimTakesDueJobsOnce(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	require.NoError(t, repo.EnqueueRepair(ctx, "u1", "p1"))
	_, err := repo.Enqueue(ctx, jobs.TypeActivityPrune, "prune", struct{}{}, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	j, err := repo.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, j)
	require.Equal(t, jobs.TypeProgressRepair, j.Type)
	require.Equal(t, jobs.StatusRunning, j.Status)
	require.Equal(t, "w1", *j.LockedBy)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(j.Payload, &payload))
	require.Equal(t, map[string]string{"user_id": "u1", "plan_id": "p1"}, payload)

	// the prune job is not due yet
	next, err := repo.Claim(ctx, "w2")
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestFinishedJobFreesItsKey(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	require.NoError(t, repo.EnqueueRepair(ctx, "u1", "p1"))
	j, err := repo.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, j)

	// a running job does not block a fresh pending one
	ok, err := repo.Enqueue(ctx, jobs.TypeProgressRepair, "u1/p1", nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.MarkDone(ctx, j.ID))
	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusDone, got.Status)
}

func TestRetryLaterReschedules(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	require.NoError(t, repo.EnqueueRepair(ctx, "u1", "p1"))
	j, err := repo.Claim(ctx, "w1")
	require.NoError(t, err)

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RetryLater(ctx, j.ID, 1, later, "boom"))

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.LockedBy)
	require.Equal(t, "boom", *got.LastError)
	require.True(t, got.RunAt.Equal(later))

	none, err := repo.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestClaimRequeuesStuckJobsPastAPendingTwin(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.EnqueueRepair(ctx, "u1", "p1"))
	twinned, err := repo.Claim(ctx, "w-dead")
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, jobs.TypeProgressRepair, "u1/p1", nil, later)
	require.NoError(t, err)

	require.NoError(t, repo.EnqueueRepair(ctx, "u2", "p2"))
	alone, err := repo.Claim(ctx, "w-dead")
	require.NoError(t, err)
	require.NotEqual(t, twinned.ID, alone.ID)

	// both workers died long ago
	require.NoError(t, repo.DB.Model(&jobs.Job{}).
		Where("status = ?", jobs.StatusRunning).
		Update("locked_at", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)).Error)

	j, err := repo.Claim(ctx, "w-live")
	require.NoError(t, err)
	require.NotNil(t, j)
	require.Equal(t, alone.ID, j.ID)
	require.Equal(t, "w-live", *j.LockedBy)

	got, err := repo.Get(ctx, twinned.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
	require.Contains(t, *got.LastError, "superseded")
}

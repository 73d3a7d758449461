package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnplan/internal/activity"
	"learnplan/internal/logger"
)

func TestNewRedisPublisherRequiresAddress(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), "  ", "", logger.Nop())
	require.Error(t, err)

	_, err = NewRedisPublisher(context.Background(), "localhost:6379", "", nil)
	require.Error(t, err)
}

func TestMessageShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(toMessage(activity.Event{
		ActivityID: "a1",
		UserID:     "u1",
		Action:     activity.StepCompleted,
		Timestamp:  ts,
		Details:    activity.Details{PlanID: "p1", StepID: "s1", Completed: activity.Bool(true)},
	}))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"activity_id": "a1",
		"user_id": "u1",
		"action": "STEP_COMPLETED",
		"timestamp": "2026-03-01T12:00:00Z",
		"details": {"planId": "p1", "stepId": "s1", "completed": true}
	}`, string(raw))
}

// Runs only against a live server: REDIS_ADDR=localhost:6379 go test ./internal/notify
func TestPublishSubscribeRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := NewRedisPublisher(ctx, addr, "learnplan.test."+t.Name(), logger.Nop())
	require.NoError(t, err)
	defer pub.Close()

	got := make(chan Message, 1)
	require.NoError(t, pub.Subscribe(ctx, func(m Message) { got <- m }))

	require.NoError(t, pub.Publish(ctx, activity.Event{ActivityID: "a1", UserID: "u1", Action: activity.PlanAssigned}))

	select {
	case m := <-got:
		require.Equal(t, "a1", m.ActivityID)
		require.Equal(t, activity.PlanAssigned, m.Action)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

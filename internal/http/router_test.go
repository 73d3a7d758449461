package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnplan/internal/activity"
	"learnplan/internal/assignment"
	"learnplan/internal/auth"
	"learnplan/internal/config"
	httpx "learnplan/internal/http"
	"learnplan/internal/jobs"
	"learnplan/internal/learning"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
	"learnplan/internal/preferences"
	"learnplan/internal/progress"
	"learnplan/internal/testutil"
)

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func newClient(t *testing.T) *client {
	t.Helper()
	gdb := testutil.OpenDB(t)
	log := logger.Nop()

	plans := plan.NewStore(gdb, log)
	acts := activity.NewLog(gdb, log, nil)
	assigns := assignment.NewStore(gdb, log, plans, acts)
	svc := &learning.Service{
		Plans:       plans,
		Assignments: assigns,
		Activity:    acts,
		Reconciler:  progress.NewReconciler(plans, assigns, acts, &jobs.Repo{DB: gdb}, log),
		Preferences: preferences.NewStore(gdb, log),
		Log:         log,
	}

	jwtSvc := auth.NewJWT("test-secret")
	srv := httptest.NewServer(httpx.NewRouter(config.Config{}, svc, jwtSvc, log))
	t.Cleanup(srv.Close)

	tok, err := jwtSvc.Sign("user-1", time.Hour)
	require.NoError(t, err)
	return &client{t: t, srv: srv, token: tok}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &buf)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndAuth(t *testing.T) {
	c := newClient(t)

	resp, err := http.Get(c.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me map[string]string
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/me", nil, &me))
	require.Equal(t, "user-1", me["user_id"])

	c.token = ""
	require.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/plans", nil, nil))
}

func TestPlanLifecycle(t *testing.T) {
	c := newClient(t)

	var created assignment.Entry
	status := c.do(http.MethodPost, "/plans", map[string]any{
		"title": "Learn Rust",
		"tags":  []string{"rust"},
		"steps": []map[string]any{{"title": "Ownership"}, {"title": "Traits"}, {"title": "Async"}},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	id := created.Plan.PlanID
	require.NotEmpty(t, id)

	var res progress.Result
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/plans/"+id+"/steps/step-2/toggle", nil, &res))
	require.Equal(t, 33, res.Summary.Progress)
	require.False(t, res.Partial)

	require.Equal(t, http.StatusOK, c.do(http.MethodPatch, "/plans/"+id+"/steps", map[string]any{
		"steps": map[string]bool{"step-1": true, "step-3": true},
	}, &res))
	require.Equal(t, 100, res.Summary.Progress)

	var p plan.Plan
	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/plans/"+id+"/notes", map[string]string{"notes": "done!"}, &p))
	require.Equal(t, "done!", p.Notes)

	var list struct {
		Items []assignment.Entry `json:"items"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/plans", nil, &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, 100, list.Items[0].UserPlan.Progress)

	var hist struct {
		Items []activity.Event `json:"items"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/plans/"+id+"/history", nil, &hist))
	require.Len(t, hist.Items, 2)

	var feed struct {
		Items []activity.Event `json:"items"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/activity?action=STEP_COMPLETED&limit=2", nil, &feed))
	require.Len(t, feed.Items, 2)

	require.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/plans/"+id, nil, nil))
	require.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/plans/"+id, nil, nil))

	var errBody map[string]string
	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/plans/"+id, nil, &errBody))
	require.Equal(t, "not_found", errBody["code"])
}

func TestErrorMapping(t *testing.T) {
	c := newClient(t)

	var created assignment.Entry
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/plans", map[string]any{
		"title": "Learn Zig",
		"steps": []map[string]any{{"title": "comptime"}},
	}, &created))
	id := created.Plan.PlanID

	var body map[string]string
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/plans/"+id+"/steps/ghost/toggle", nil, &body))
	require.Equal(t, "validation", body["code"])

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/plans", map[string]any{"title": ""}, &body))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPut, "/plans/"+id+"/notes", map[string]any{}, &body))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/activity?limit=abc", nil, &body))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/activity?action=NOPE", nil, &body))

	require.Equal(t, http.StatusNotFound, c.do(http.MethodPut, "/plans/missing/assignment", nil, &body))
	require.Equal(t, "not_found", body["code"])
}

func TestPreferences(t *testing.T) {
	c := newClient(t)

	var body map[string]string
	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/preferences", nil, &body))
	require.Equal(t, "not_found", body["code"])

	var p preferences.Preferences
	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/preferences", map[string]any{
		"learning_style":        "visual",
		"difficulty_preference": "challenging",
		"interests":             []string{"databases"},
	}, &p))
	require.Equal(t, "user-1", p.UserID)

	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/preferences", map[string]any{
		"pace_preference": "moderate",
	}, &p))

	var got preferences.Preferences
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/preferences", nil, &got))
	require.Equal(t, "visual", got.LearningStyle)
	require.Equal(t, "moderate", got.PacePreference)
	require.Equal(t, "challenging", got.DifficultyPreference)
	require.Equal(t, []string{"databases"}, got.Interests)

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPut, "/preferences", map[string]any{
		"interests": []string{""},
	}, &body))
	require.Equal(t, "validation", body["code"])

	c.token = ""
	require.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/preferences", nil, nil))
}

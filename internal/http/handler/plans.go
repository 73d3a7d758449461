package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"learnplan/internal/assignment"
	"learnplan/internal/auth"
	"learnplan/internal/learning"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
)

type PlanHandler struct {
	Svc *learning.Service
	Log *logger.Logger
}

type stepReq struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

type createPlanReq struct {
	Title                   string    `json:"title"`
	Description             string    `json:"description"`
	EstimatedTimeToComplete string    `json:"estimated_time_to_complete"`
	Tags                    []string  `json:"tags"`
	Steps                   []stepReq `json:"steps"`
	Notes                   string    `json:"notes"`
	InitialProgress         int       `json:"initial_progress"`
}

func (req createPlanReq) content() plan.Content {
	c := plan.Content{
		Title:                   strings.TrimSpace(req.Title),
		Description:             req.Description,
		EstimatedTimeToComplete: req.EstimatedTimeToComplete,
		Tags:                    req.Tags,
		Notes:                   req.Notes,
	}
	for _, s := range req.Steps {
		c.Steps = append(c.Steps, plan.Step{
			ID:          strings.TrimSpace(s.ID),
			Title:       s.Title,
			Description: s.Description,
			Completed:   s.Completed,
		})
	}
	return c
}

func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createPlanReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}

	e, err := h.Svc.CreatePlanForUser(r.Context(), uid, req.content(), assignment.AssignOptions{
		InitialProgress: req.InitialProgress,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	entries, err := h.Svc.ListUserPlans(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	e, err := h.Svc.GetPlan(r.Context(), uid, chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *PlanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	if err := h.Svc.DeletePlan(r.Context(), uid, chi.URLParam(r, "planID")); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignReq struct {
	InitialProgress int `json:"initial_progress"`
	TotalSteps      int `json:"total_steps"`
}

func (h *PlanHandler) Assign(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	// an empty body assigns with defaults
	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "bad json")
		return
	}

	up, err := h.Svc.AssignPlan(r.Context(), uid, chi.URLParam(r, "planID"), assignment.AssignOptions{
		InitialProgress: req.InitialProgress,
		TotalSteps:      req.TotalSteps,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (h *PlanHandler) ToggleStep(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	res, err := h.Svc.ToggleStep(r.Context(), uid, chi.URLParam(r, "planID"), chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setStepsReq struct {
	Steps map[string]bool `json:"steps"`
}

func (h *PlanHandler) SetSteps(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req setStepsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}

	res, err := h.Svc.SetSteps(r.Context(), uid, chi.URLParam(r, "planID"), req.Steps)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type notesReq struct {
	Notes *string `json:"notes"`
}

func (h *PlanHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req notesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}
	if req.Notes == nil {
		badRequest(w, "notes required")
		return
	}

	p, err := h.Svc.UpdateNotes(r.Context(), uid, chi.URLParam(r, "planID"), *req.Notes)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PlanHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	limit, ok := limitParam(r)
	if !ok {
		badRequest(w, "invalid limit")
		return
	}
	evs, err := h.Svc.ProgressHistory(r.Context(), uid, chi.URLParam(r, "planID"), limit)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": evs})
}

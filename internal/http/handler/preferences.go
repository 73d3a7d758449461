package handler

import (
	"encoding/json"
	"net/http"

	"learnplan/internal/auth"
	"learnplan/internal/learning"
	"learnplan/internal/logger"
	"learnplan/internal/preferences"
)

type PreferencesHandler struct {
	Svc *learning.Service
	Log *logger.Logger
}

type preferencesReq struct {
	LearningStyle        *string        `json:"learning_style"`
	PacePreference       *string        `json:"pace_preference"`
	DifficultyPreference *string        `json:"difficulty_preference"`
	Interests            *[]string      `json:"interests"`
	Extra                map[string]any `json:"extra"`
}

func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	p, err := h.Svc.GetPreferences(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update serves PUT /preferences. Absent fields keep their stored value.
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req preferencesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}

	p, err := h.Svc.UpdatePreferences(r.Context(), uid, preferences.Patch{
		LearningStyle:        req.LearningStyle,
		PacePreference:       req.PacePreference,
		DifficultyPreference: req.DifficultyPreference,
		Interests:            req.Interests,
		Extra:                req.Extra,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

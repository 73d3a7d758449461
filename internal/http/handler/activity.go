package handler

import (
	"net/http"

	"learnplan/internal/auth"
	"learnplan/internal/learning"
	"learnplan/internal/logger"
)

type ActivityHandler struct {
	Svc *learning.Service
	Log *logger.Logger
}

// List serves GET /activity?action=&limit=, newest first.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	limit, ok := limitParam(r)
	if !ok {
		badRequest(w, "invalid limit")
		return
	}
	evs, err := h.Svc.ListActivity(r.Context(), uid, r.URL.Query().Get("action"), limit)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": evs})
}

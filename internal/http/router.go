package http

import (
	"net/http"

	"learnplan/internal/auth"
	"learnplan/internal/config"
	"learnplan/internal/http/handler"
	mw "learnplan/internal/http/middleware"
	"learnplan/internal/learning"
	"learnplan/internal/logger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg config.Config, svc *learning.Service, jwtSvc *auth.JWT, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	me := &handler.MeHandler{}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	log = log.With("component", "http")
	plans := &handler.PlanHandler{Svc: svc, Log: log}
	acts := &handler.ActivityHandler{Svc: svc, Log: log}
	prefs := &handler.PreferencesHandler{Svc: svc, Log: log}

	r.Route("/plans", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", plans.Create)
		r.Get("/", plans.List)

		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", plans.Get)
			r.Delete("/", plans.Delete)
			r.Put("/assignment", plans.Assign)
			r.Post("/steps/{stepID}/toggle", plans.ToggleStep)
			r.Patch("/steps", plans.SetSteps)
			r.Put("/notes", plans.UpdateNotes)
			r.Get("/history", plans.History)
		})
	})

	r.With(auth.RequireAuth(jwtSvc)).Get("/activity", acts.List)

	r.Route("/preferences", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/", prefs.Get)
		r.Put("/", prefs.Update)
	})

	return r
}

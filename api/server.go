/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/countries/*      Countries, projections, milestones
  /api/users/*          Achievements, progress, posts
  /api/achievements     Achievement catalog
  /api/milestones       Threshold catalog
  /api/scenarios/*      Demo scenarios
  /api/feed, /clock, /stats, /recalculate

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. Empty origins
// allow the local dashboard ports.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/countries", func(r chi.Router) {
			r.Get("/", h.ListCountries)
			r.Post("/", h.CreateCountry)
			r.Get("/{id}", h.GetCountry)
			r.Get("/{id}/indicators", h.GetIndicators)
			r.Post("/{id}/indicators", h.AppendIndicators)
			r.Get("/{id}/projection", h.GetProjection)
			r.Post("/{id}/recalculate", h.Recalculate)
			r.Get("/{id}/milestones", h.ListMilestones)
			r.Post("/{id}/embassies", h.AddEmbassy)
			r.Get("/{id}/feed", h.CountryFeed)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/evaluate", h.Evaluate)
			r.Get("/achievements", h.ListUnlocked)
			r.Post("/achievements/{achievementID}/unlock", h.UnlockAchievement)
			r.Get("/progress", h.GetProgress)
			r.Post("/posts", h.AddPost)
			r.Get("/feed", h.UserFeed)
		})

		r.Get("/achievements", h.ListAchievements)
		r.Get("/milestones", h.ListThresholds)
		r.Post("/recalculate", h.RecalculateAll)
		r.Get("/feed", h.GlobalFeed)
		r.Get("/clock", h.GetClock)
		r.Get("/stats", h.GetStats)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

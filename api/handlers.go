/*
handlers.go - HTTP API handlers for the nation engine

PURPOSE:
  Exposes the projection engine, milestones, achievements and the activity
  feed via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Countries:
    GET    /api/countries                       List countries with cached state
    POST   /api/countries                       Create country (baseline + first indicators)
    GET    /api/countries/{id}                  Get country
    GET    /api/countries/{id}/indicators       Indicator history
    POST   /api/countries/{id}/indicators       Append an indicator version
    GET    /api/countries/{id}/projection?at=   Read-only projection at a time
    POST   /api/countries/{id}/recalculate      Recalculate and persist
    GET    /api/countries/{id}/milestones       Recorded milestones
    POST   /api/countries/{id}/embassies        Open an embassy
    GET    /api/countries/{id}/feed             Country feed

  Users:
    POST   /api/users/{id}/evaluate             Evaluate achievements against a country
    POST   /api/users/{id}/achievements/{aid}/unlock  Manual unlock
    GET    /api/users/{id}/achievements         Unlocked achievements
    GET    /api/users/{id}/progress             Progress summary
    POST   /api/users/{id}/posts                Record a post
    GET    /api/users/{id}/feed                 User feed

  Catalogs and system:
    GET    /api/achievements?category=          Achievement catalog
    GET    /api/milestones                      Threshold catalog
    POST   /api/recalculate                     Recalculate every country
    GET    /api/feed                            Global feed
    GET    /api/clock                           Simulated clock
    GET    /api/stats                           Async queue counters

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    GET    /api/scenarios/current               Last loaded scenario
    POST   /api/scenarios/load                  Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, target before anchor
  - 404: Unknown country or achievement
  - 409: Conflict (duplicate country id)
  - 500: Internal errors
  A manual unlock of an already unlocked achievement is 200 with
  already_unlocked set, never 409.
  Evaluating against an unknown country is 200 with nothing unlocked.

SECURITY NOTE:
  No authentication. User ids come from the path.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/engine"
	"github.com/warp/nation-engine/factory"
	"github.com/warp/nation-engine/milestone"
)

const defaultFeedLimit = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Collaborators records the auxiliary facts achievement counters read.
type Collaborators interface {
	AddEmbassy(ctx context.Context, countryID economy.CountryID, partner string) error
	AddPost(ctx context.Context, userID economy.UserID) error
	RegisterAccount(ctx context.Context, userID economy.UserID, createdAt time.Time) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *engine.Service
	Feed     activity.Store
	Emitter  *activity.Emitter
	Catalogs *factory.Catalogs
	Collab   Collaborators
	Log      logrus.FieldLogger

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. collab is usually the same store as feed.
func NewHandler(svc *engine.Service, feed activity.Store, emitter *activity.Emitter, catalogs *factory.Catalogs, collab Collaborators, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Service:  svc,
		Feed:     feed,
		Emitter:  emitter,
		Catalogs: catalogs,
		Collab:   collab,
		Log:      log,
	}
}

// =============================================================================
// COUNTRY HANDLERS
// =============================================================================

// ListCountries returns all countries with their cached state.
func (h *Handler) ListCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.Service.Countries(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list countries", err)
		return
	}

	dtos := make([]CountryDTO, len(countries))
	for i, c := range countries {
		dtos[i] = toCountryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCountry stores a country and runs its first recalculation.
func (h *Handler) CreateCountry(w http.ResponseWriter, r *http.Request) {
	var req CreateCountryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	gdp, err := decimal.NewFromString(req.GDPPerCapita)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid gdp_per_capita", err)
		return
	}
	anchor := h.Service.Clock().Now()
	if req.AnchorTime != "" {
		if anchor, err = parseSimTime("anchor_time", req.AnchorTime); err != nil {
			h.writeDomainError(w, "Invalid anchor_time", err)
			return
		}
	}
	ind, err := fromIndicatorsDTO(req.Indicators)
	if err != nil {
		h.writeDomainError(w, "Invalid indicators", err)
		return
	}

	res, err := h.Service.CreateCountry(r.Context(), engine.NewCountry{
		ID:      economy.CountryID(req.ID),
		Name:    req.Name,
		OwnerID: economy.UserID(req.OwnerID),
		Baseline: economy.BaselineSnapshot{
			AnchorTime:   anchor,
			Population:   req.Population,
			GDPPerCapita: gdp,
		},
		Indicators: ind,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create country", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecalculateResponse(res))
}

func (h *Handler) GetCountry(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Country(r.Context(), countryID(r))
	if err != nil {
		h.writeDomainError(w, "Country not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toCountryDTO(*c))
}

func (h *Handler) GetIndicators(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.IndicatorHistory(r.Context(), countryID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to load indicators", err)
		return
	}

	dtos := make([]IndicatorsDTO, len(history))
	for i, ind := range history {
		dtos[i] = toIndicatorsDTO(ind)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AppendIndicators adds a version. The projection catches up on the next
// recalculation.
func (h *Handler) AppendIndicators(w http.ResponseWriter, r *http.Request) {
	var req IndicatorsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ind, err := fromIndicatorsDTO(req)
	if err != nil {
		h.writeDomainError(w, "Invalid indicators", err)
		return
	}

	saved, err := h.Service.UpdateIndicators(r.Context(), countryID(r), ind)
	if err != nil {
		h.writeDomainError(w, "Failed to update indicators", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndicatorsDTO(saved))
}

// GetProjection computes the state at ?at= (default now) without persisting.
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	at := h.Service.Clock().Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		var err error
		if at, err = parseSimTime("at", raw); err != nil {
			h.writeDomainError(w, "Invalid at", err)
			return
		}
	}

	state, err := h.Service.Project(r.Context(), countryID(r), at)
	if err != nil {
		h.writeDomainError(w, "Failed to project", err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(state))
}

// Recalculate persists the state at the optional body time (default now).
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var target *economy.SimTime
	if req.At != "" {
		at, err := parseSimTime("at", req.At)
		if err != nil {
			h.writeDomainError(w, "Invalid at", err)
			return
		}
		target = &at
	}

	res, err := h.Service.Recalculate(r.Context(), countryID(r), target)
	if err != nil {
		h.writeDomainError(w, "Failed to recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalculateResponse(res))
}

func (h *Handler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.Milestones(r.Context(), countryID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list milestones", err)
		return
	}
	if events == nil {
		events = []milestone.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AddEmbassy records an embassy and re-evaluates the owner's diplomatic
// achievements.
func (h *Handler) AddEmbassy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Partner string `json:"partner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Partner == "" {
		writeError(w, http.StatusBadRequest, "partner is required", err)
		return
	}

	id := countryID(r)
	c, err := h.Service.Country(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Country not found", err)
		return
	}
	if err := h.Collab.AddEmbassy(r.Context(), id, req.Partner); err != nil {
		h.writeDomainError(w, "Failed to add embassy", err)
		return
	}

	category := achievement.CategoryDiplomatic
	unlocked := h.Service.EvaluateAchievements(r.Context(), c.OwnerID, id, &category)
	writeJSON(w, http.StatusCreated, EvaluateResponse{Unlocked: nonNilUnlocks(unlocked)})
}

func (h *Handler) CountryFeed(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, r, activity.Filter{CountryID: countryID(r)})
}

// RecalculateAll recalculates every country at simulated now.
func (h *Handler) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.RecalculateAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Evaluate runs the rule engine synchronously for one user and country.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var category *achievement.Category
	if req.Category != "" {
		c, err := achievement.ParseCategory(req.Category)
		if err != nil {
			h.writeDomainError(w, "Invalid category", err)
			return
		}
		category = &c
	}

	// an unknown country is logged by the engine and unlocks nothing
	unlocked := h.Service.EvaluateAchievements(r.Context(), userID(r), economy.CountryID(req.CountryID), category)
	writeJSON(w, http.StatusOK, EvaluateResponse{Unlocked: nonNilUnlocks(unlocked)})
}

// UnlockAchievement is the manual unlock path. Idempotent.
func (h *Handler) UnlockAchievement(w http.ResponseWriter, r *http.Request) {
	ach := h.achievements(w)
	if ach == nil {
		return
	}

	res, err := ach.UnlockSpecific(r.Context(), userID(r), chi.URLParam(r, "achievementID"))
	if err != nil {
		h.writeDomainError(w, "Failed to unlock", err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyUnlocked {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) ListUnlocked(w http.ResponseWriter, r *http.Request) {
	ach := h.achievements(w)
	if ach == nil {
		return
	}

	unlocks, err := ach.Unlocked(r.Context(), userID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilUnlocks(unlocks))
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	ach := h.achievements(w)
	if ach == nil {
		return
	}

	progress, err := ach.GetProgress(r.Context(), userID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to load progress", err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// AddPost records a post. Social achievements are evaluated against the
// country given in the body, if any.
func (h *Handler) AddPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountryID string `json:"country_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	user := userID(r)
	if err := h.Collab.RegisterAccount(r.Context(), user, time.Now().UTC()); err != nil {
		h.writeDomainError(w, "Failed to register account", err)
		return
	}
	if err := h.Collab.AddPost(r.Context(), user); err != nil {
		h.writeDomainError(w, "Failed to add post", err)
		return
	}

	resp := EvaluateResponse{Unlocked: []achievement.Unlock{}}
	if req.CountryID != "" {
		category := achievement.CategorySocial
		resp.Unlocked = nonNilUnlocks(h.Service.EvaluateAchievements(r.Context(), user, economy.CountryID(req.CountryID), &category))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) UserFeed(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, r, activity.Filter{UserID: userID(r)})
}

// =============================================================================
// CATALOG & SYSTEM HANDLERS
// =============================================================================

// ListAchievements returns the catalog, optionally one category.
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	defs := h.Catalogs.Achievements.All()
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := achievement.ParseCategory(raw)
		if err != nil {
			h.writeDomainError(w, "Invalid category", err)
			return
		}
		defs = h.Catalogs.Achievements.ByCategory(c)
	}

	dtos := make([]AchievementDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toAchievementDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	all := h.Catalogs.Milestones.All()
	dtos := make([]ThresholdDTO, len(all))
	for i, t := range all {
		dtos[i] = toThresholdDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GlobalFeed(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, r, activity.Filter{})
}

func (h *Handler) GetClock(w http.ResponseWriter, r *http.Request) {
	clock := h.Service.Clock()
	writeJSON(w, http.StatusOK, ClockDTO{
		Now:       clock.Now().String(),
		SimEpoch:  clock.SimEpoch.String(),
		WallEpoch: clock.WallEpoch.UTC().Format(time.RFC3339),
		Rate:      clock.Rate,
	})
}

// GetStats reports the async queues so dropped or failed side work is visible.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := StatsDTO{Queues: h.Service.Stats()}
	if h.Emitter != nil {
		stats.Queues = append(stats.Queues, h.Emitter.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeFeed(w http.ResponseWriter, r *http.Request, f activity.Filter) {
	f.Limit = defaultFeedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		f.Limit = n
	}

	records, err := h.Feed.ListActivity(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list feed", err)
		return
	}
	if records == nil {
		records = []activity.Record{}
	}
	writeJSON(w, http.StatusOK, FeedResponse{Records: records})
}

func (h *Handler) achievements(w http.ResponseWriter) *achievement.Engine {
	ach := h.Service.Achievements()
	if ach == nil {
		writeError(w, http.StatusServiceUnavailable, "Achievements are not configured", nil)
	}
	return ach
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case economy.IsClientError(err):
		writeCodedError(w, http.StatusBadRequest, message, errorCode(err), err)
	case economy.IsNotFound(err):
		writeCodedError(w, http.StatusNotFound, message, errorCode(err), err)
	case economy.IsConflict(err):
		writeCodedError(w, http.StatusConflict, message, "conflict", err)
	default:
		h.Log.WithError(err).Error(message)
		writeCodedError(w, http.StatusInternalServerError, message, "internal", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, economy.ErrInvalidTime):
		return "invalid_time"
	case errors.Is(err, economy.ErrBaselineImmutable):
		return "baseline_immutable"
	case errors.Is(err, economy.ErrUnknownCountry):
		return "unknown_country"
	case errors.Is(err, economy.ErrUnknownAchievement):
		return "unknown_achievement"
	default:
		return "invalid_input"
	}
}

func toRecalculateResponse(res *engine.Result) RecalculateResponse {
	resp := RecalculateResponse{State: toStateDTO(res.State), Milestones: res.Milestones}
	if resp.Milestones == nil {
		resp.Milestones = []milestone.Event{}
	}
	return resp
}

func nonNilUnlocks(u []achievement.Unlock) []achievement.Unlock {
	if u == nil {
		return []achievement.Unlock{}
	}
	return u
}

func countryID(r *http.Request) economy.CountryID {
	return economy.CountryID(chi.URLParam(r, "id"))
}

func userID(r *http.Request) economy.UserID {
	return economy.UserID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeCodedError(w, status, message, "", err)
}

func writeCodedError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

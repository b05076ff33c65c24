/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with countries,
	collaborator facts (accounts, embassies, posts) and a few simulated years
	of history, so milestones, achievements and the feed have something to
	show.

AVAILABLE SCENARIOS:

	emerging-economy: One developing nation fast-forwarded five years
	great-powers:     Three large nations with an embassy network
	policy-shift:     A stimulus indicator version that turns into a boom

HOW SCENARIOS WORK:
 1. Create countries anchored at simulated now (existing ids are kept)
 2. Record collaborator facts
 3. Optionally fast-forward with yearly recalculations
 4. Evaluate each owner's achievements synchronously

Scenarios are additive and idempotent: loading one twice keeps the first
countries, and milestones and unlocks never repeat.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "great-powers"}

USAGE VIA CLI:

	nation-engine seed great-powers

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to Seed

SEE ALSO:
  - handlers.go: Collaborators
  - factory/catalog/achievements.yaml: what the seeded facts unlock
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "emerging-economy",
		Name:        "Emerging Economy",
		Description: "Ruritania grows from developing to the 100B club over five simulated years",
	},
	{
		ID:          "great-powers",
		Name:        "Great Powers",
		Description: "Aurelia, Borealis and Caldera with embassies between them",
	},
	{
		ID:          "policy-shift",
		Name:        "Policy Shift",
		Description: "A stimulus package takes Ostrava's growth into miracle territory",
	},
}

// ErrUnknownScenario is returned by Seed for an id not in the list.
var ErrUnknownScenario = errors.New("unknown scenario")

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Seed(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// Seed loads a scenario by id.
func (h *Handler) Seed(ctx context.Context, id string) error {
	var err error
	switch id {
	case "emerging-economy":
		err = h.loadEmergingEconomyScenario(ctx)
	case "great-powers":
		err = h.loadGreatPowersScenario(ctx)
	case "policy-shift":
		err = h.loadPolicyShiftScenario(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Log.WithField("scenario", id).Info("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmergingEconomyScenario(ctx context.Context) error {
	// the account predates the country; the first registration wins
	if err := h.Collab.RegisterAccount(ctx, "player-1", time.Now().UTC().AddDate(0, 0, -400)); err != nil {
		return err
	}

	// 10M people at $8,000: developing crosses 10k per capita in year four
	// and total GDP passes 100B on the way
	if err := h.seedCountry(ctx, engine.NewCountry{
		ID:      "ruritania",
		Name:    "Ruritania",
		OwnerID: "player-1",
		Baseline: economy.BaselineSnapshot{
			Population:   10_000_000,
			GDPPerCapita: decimal.NewFromInt(8_000),
		},
		Indicators: economy.EconomicIndicators{
			RealGrowthRate:            0.06,
			PopulationGrowthRate:      0.015,
			InflationRate:             0.025,
			UnemploymentRate:          0.045,
			LaborForceParticipation:   0.63,
			TaxRevenuePercent:         0.22,
			GovernmentSpendingPercent: 0.24,
		},
	}); err != nil {
		return err
	}

	for _, partner := range []string{"borealis", "caldera"} {
		if err := h.Collab.AddEmbassy(ctx, "ruritania", partner); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ {
		if err := h.Collab.AddPost(ctx, "player-1"); err != nil {
			return err
		}
	}

	if err := h.fastForward(ctx, "ruritania", 5); err != nil {
		return err
	}
	h.Service.EvaluateAchievements(ctx, "player-1", "ruritania", nil)
	return nil
}

func (h *Handler) loadGreatPowersScenario(ctx context.Context) error {
	powers := []struct {
		id, name, owner string
		population      int64
		gdpPerCapita    int64
		growth          float64
	}{
		{"aurelia", "Aurelia", "player-2", 320_000_000, 62_000, 0.021},
		{"borealis", "Borealis", "player-3", 1_100_000_000, 14_000, 0.055},
		{"caldera", "Caldera", "player-4", 5_000_000, 70_000, 0.012},
	}

	for _, p := range powers {
		if err := h.Collab.RegisterAccount(ctx, economy.UserID(p.owner), time.Now().UTC().AddDate(-2, 0, 0)); err != nil {
			return err
		}
		if err := h.seedCountry(ctx, engine.NewCountry{
			ID:      economy.CountryID(p.id),
			Name:    p.name,
			OwnerID: economy.UserID(p.owner),
			Baseline: economy.BaselineSnapshot{
				Population:   p.population,
				GDPPerCapita: decimal.NewFromInt(p.gdpPerCapita),
			},
			Indicators: economy.EconomicIndicators{
				RealGrowthRate:            p.growth,
				PopulationGrowthRate:      0.006,
				InflationRate:             0.02,
				UnemploymentRate:          0.04,
				LaborForceParticipation:   0.64,
				TaxRevenuePercent:         0.3,
				GovernmentSpendingPercent: 0.36,
			},
		}); err != nil {
			return err
		}
	}

	// every power opens an embassy with every other
	for _, from := range powers {
		for _, to := range powers {
			if from.id == to.id {
				continue
			}
			if err := h.Collab.AddEmbassy(ctx, economy.CountryID(from.id), to.id); err != nil {
				return err
			}
		}
	}

	for _, p := range powers {
		h.Service.EvaluateAchievements(ctx, economy.UserID(p.owner), economy.CountryID(p.id), nil)
	}
	return nil
}

func (h *Handler) loadPolicyShiftScenario(ctx context.Context) error {
	if err := h.seedCountry(ctx, engine.NewCountry{
		ID:      "ostrava",
		Name:    "Ostrava",
		OwnerID: "player-5",
		Baseline: economy.BaselineSnapshot{
			Population:   30_000_000,
			GDPPerCapita: decimal.NewFromInt(18_000),
		},
		Indicators: economy.EconomicIndicators{
			RealGrowthRate:            0.02,
			PopulationGrowthRate:      0.008,
			InflationRate:             0.03,
			UnemploymentRate:          0.09,
			LaborForceParticipation:   0.6,
			TaxRevenuePercent:         0.25,
			GovernmentSpendingPercent: 0.27,
		},
	}); err != nil {
		return err
	}

	// the stimulus applies one simulated year from now
	history, err := h.Service.IndicatorHistory(ctx, "ostrava")
	if err != nil {
		return err
	}
	if len(history) == 1 {
		stimulus := economy.EconomicIndicators{
			EffectiveFrom:             h.Service.Clock().Now().AddYears(1),
			RealGrowthRate:            0.09,
			PopulationGrowthRate:      0.01,
			InflationRate:             0.035,
			UnemploymentRate:          0.03,
			LaborForceParticipation:   0.66,
			TaxRevenuePercent:         0.24,
			GovernmentSpendingPercent: 0.38,
		}
		if _, err := h.Service.UpdateIndicators(ctx, "ostrava", stimulus); err != nil {
			return err
		}
	}

	if err := h.fastForward(ctx, "ostrava", 3); err != nil {
		return err
	}
	h.Service.EvaluateAchievements(ctx, "player-5", "ostrava", nil)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// seedCountry creates a country anchored at simulated now. An existing id is
// left as it is.
func (h *Handler) seedCountry(ctx context.Context, in engine.NewCountry) error {
	if in.Baseline.AnchorTime.IsZero() {
		in.Baseline.AnchorTime = h.Service.Clock().Now()
	}
	_, err := h.Service.CreateCountry(ctx, in)
	if economy.IsConflict(err) {
		h.Log.WithField("country_id", in.ID).Info("country already seeded")
		return nil
	}
	return err
}

// fastForward recalculates a country once per simulated year past its
// anchor so each crossing is recorded at the year it happened.
func (h *Handler) fastForward(ctx context.Context, id economy.CountryID, years int) error {
	c, err := h.Service.Country(ctx, id)
	if err != nil {
		return err
	}
	for i := 1; i <= years; i++ {
		at := c.Baseline.AnchorTime.AddYears(i)
		if c.Current != nil && !at.After(c.Current.AsOf) {
			continue
		}
		if _, err := h.Service.Recalculate(ctx, id, &at); err != nil {
			return err
		}
	}
	return nil
}

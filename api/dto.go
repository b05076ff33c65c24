/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND TIME:
  Money is a decimal string ("186956456200.15") so clients never see float
  rounding. Simulated instants are RFC3339.

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
)

// =============================================================================
// COUNTRIES
// =============================================================================

// CountryDTO represents a country in API responses.
type CountryDTO struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	OwnerID   string      `json:"owner_id"`
	Baseline  BaselineDTO `json:"baseline"`
	Current   *StateDTO   `json:"current,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
}

type BaselineDTO struct {
	AnchorTime   string          `json:"anchor_time"`
	Population   int64           `json:"population"`
	GDPPerCapita decimal.Decimal `json:"gdp_per_capita"`
}

// StateDTO is a projected state.
type StateDTO struct {
	CountryID          string          `json:"country_id"`
	AsOf               string          `json:"as_of"`
	Population         int64           `json:"population"`
	GDPPerCapita       decimal.Decimal `json:"gdp_per_capita"`
	TotalGDP           decimal.Decimal `json:"total_gdp"`
	EconomicTier       string          `json:"economic_tier"`
	PopulationTier     string          `json:"population_tier"`
	AdjustedGrowthRate float64         `json:"adjusted_growth_rate"`
}

// IndicatorsDTO carries one indicator version. Rates are fractions.
type IndicatorsDTO struct {
	EffectiveFrom             string  `json:"effective_from,omitempty"`
	RealGrowthRate            float64 `json:"real_growth_rate"`
	PopulationGrowthRate      float64 `json:"population_growth_rate"`
	InflationRate             float64 `json:"inflation_rate"`
	UnemploymentRate          float64 `json:"unemployment_rate"`
	LaborForceParticipation   float64 `json:"labor_force_participation"`
	TaxRevenuePercent         float64 `json:"tax_revenue_percent"`
	GovernmentSpendingPercent float64 `json:"government_spending_percent"`
}

// CreateCountryRequest is the request to create a country. AnchorTime
// defaults to simulated now.
type CreateCountryRequest struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	OwnerID      string        `json:"owner_id"`
	AnchorTime   string        `json:"anchor_time,omitempty"`
	Population   int64         `json:"population"`
	GDPPerCapita string        `json:"gdp_per_capita"`
	Indicators   IndicatorsDTO `json:"indicators"`
}

// RecalculateRequest optionally pins the target time.
type RecalculateRequest struct {
	At string `json:"at,omitempty"`
}

// RecalculateResponse is the outcome of a recalculation.
type RecalculateResponse struct {
	State      StateDTO          `json:"state"`
	Milestones []milestone.Event `json:"milestones"`
}

// =============================================================================
// CATALOGS
// =============================================================================

type AchievementDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Rarity      string `json:"rarity"`
	Points      int    `json:"points"`
}

type ThresholdDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	Upper     string `json:"upper,omitempty"`
	Dimension string `json:"dimension,omitempty"`
	Tier      string `json:"tier,omitempty"`
	Rank      int    `json:"rank"`
	Priority  string `json:"priority"`
}

// =============================================================================
// USERS
// =============================================================================

// EvaluateRequest asks for an achievement evaluation against a country.
type EvaluateRequest struct {
	CountryID string `json:"country_id"`
	Category  string `json:"category,omitempty"`
}

type EvaluateResponse struct {
	Unlocked []achievement.Unlock `json:"unlocked"`
}

// =============================================================================
// SYSTEM
// =============================================================================

type ClockDTO struct {
	Now       string  `json:"now"`
	SimEpoch  string  `json:"sim_epoch"`
	WallEpoch string  `json:"wall_epoch"`
	Rate      float64 `json:"rate"`
}

type StatsDTO struct {
	Queues []dispatch.Stats `json:"queues"`
}

type FeedResponse struct {
	Records []activity.Record `json:"records"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCountryDTO(c economy.Country) CountryDTO {
	dto := CountryDTO{
		ID:      string(c.ID),
		Name:    c.Name,
		OwnerID: string(c.OwnerID),
		Baseline: BaselineDTO{
			AnchorTime:   c.Baseline.AnchorTime.String(),
			Population:   c.Baseline.Population,
			GDPPerCapita: c.Baseline.GDPPerCapita,
		},
	}
	if c.Current != nil {
		s := toStateDTO(*c.Current)
		dto.Current = &s
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toStateDTO(s economy.ProjectedState) StateDTO {
	return StateDTO{
		CountryID:          string(s.CountryID),
		AsOf:               s.AsOf.String(),
		Population:         s.Population,
		GDPPerCapita:       s.GDPPerCapita,
		TotalGDP:           s.TotalGDP,
		EconomicTier:       s.EconomicTier.String(),
		PopulationTier:     s.PopulationTier.String(),
		AdjustedGrowthRate: s.AdjustedGrowthRate,
	}
}

func toIndicatorsDTO(ind economy.EconomicIndicators) IndicatorsDTO {
	return IndicatorsDTO{
		EffectiveFrom:             ind.EffectiveFrom.String(),
		RealGrowthRate:            ind.RealGrowthRate,
		PopulationGrowthRate:      ind.PopulationGrowthRate,
		InflationRate:             ind.InflationRate,
		UnemploymentRate:          ind.UnemploymentRate,
		LaborForceParticipation:   ind.LaborForceParticipation,
		TaxRevenuePercent:         ind.TaxRevenuePercent,
		GovernmentSpendingPercent: ind.GovernmentSpendingPercent,
	}
}

// fromIndicatorsDTO converts a request body. An empty EffectiveFrom stays
// zero so the service applies its default.
func fromIndicatorsDTO(dto IndicatorsDTO) (economy.EconomicIndicators, error) {
	ind := economy.EconomicIndicators{
		RealGrowthRate:            dto.RealGrowthRate,
		PopulationGrowthRate:      dto.PopulationGrowthRate,
		InflationRate:             dto.InflationRate,
		UnemploymentRate:          dto.UnemploymentRate,
		LaborForceParticipation:   dto.LaborForceParticipation,
		TaxRevenuePercent:         dto.TaxRevenuePercent,
		GovernmentSpendingPercent: dto.GovernmentSpendingPercent,
	}
	if dto.EffectiveFrom != "" {
		at, err := parseSimTime("effective_from", dto.EffectiveFrom)
		if err != nil {
			return economy.EconomicIndicators{}, err
		}
		ind.EffectiveFrom = at
	}
	return ind, nil
}

func toAchievementDTO(d achievement.Definition) AchievementDTO {
	return AchievementDTO{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    string(d.Category),
		Rarity:      string(d.Rarity),
		Points:      d.Points,
	}
}

func toThresholdDTO(t milestone.Threshold) ThresholdDTO {
	dto := ThresholdDTO{
		ID:        t.ID,
		Kind:      string(t.Kind),
		Label:     t.Label,
		Value:     t.Value.String(),
		Dimension: string(t.Dimension),
		Tier:      t.Tier,
		Rank:      t.Rank,
		Priority:  string(t.Priority()),
	}
	if t.Upper.Valid {
		dto.Upper = t.Upper.Decimal.String()
	}
	return dto
}

// parseSimTime accepts RFC3339 or a plain date.
func parseSimTime(field, s string) (economy.SimTime, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return economy.SimTimeOf(t), nil
		}
	}
	return economy.SimTime{}, &economy.InvalidInputError{Field: field, Reason: "use RFC3339 or YYYY-MM-DD"}
}

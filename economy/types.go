/*
Package economy provides the country state model and the pure calculation core.

PURPOSE:
  A country's economic trajectory is anchored on an immutable baseline and
  driven by editor-supplied indicators. Everything else (current population,
  GDP, tiers) is derived by replaying growth from the anchor to a target
  simulated time. The derived state is never hand-edited.

KEY CONCEPTS IN THIS FILE (types.go):
  - BaselineSnapshot: write-once anchor (population, GDP/capita, anchor time)
  - EconomicIndicators: mutable policy inputs, versioned by EffectiveFrom
  - ProjectedState: derived value, recomputed on demand
  - Country: aggregate owning the baseline and the cached "current" projection

DESIGN PRINCIPLES:
  1. Single source of truth: baseline + indicators. The cached projection on
     the country record is refreshed by recalculation only.
  2. Precision: money uses decimal.Decimal so threshold comparisons are exact.
  3. Type safety: CountryID and UserID are distinct types.

SEE ALSO:
  - projection.go: the Time-Progression Calculator
  - tier.go: the Tier Classifier
  - store.go: persistence interfaces
*/
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CountryID string

// UserID is the opaque identifier supplied by the identity provider.
type UserID string

// =============================================================================
// BASELINE - Immutable anchor snapshot
// =============================================================================

// BaselineSnapshot is the anchor a country's trajectory is computed from.
// It is never mutated after creation.
type BaselineSnapshot struct {
	CountryID    CountryID
	AnchorTime   SimTime
	Population   int64
	GDPPerCapita decimal.Decimal
}

// Validate reports malformed baseline values.
func (b BaselineSnapshot) Validate() error {
	if b.AnchorTime.IsZero() {
		return &InvalidInputError{Field: "anchor_time", Reason: "must be set"}
	}
	if b.Population <= 0 {
		return &InvalidInputError{Field: "population", Reason: "must be positive"}
	}
	if !b.GDPPerCapita.IsPositive() {
		return &InvalidInputError{Field: "gdp_per_capita", Reason: "must be positive"}
	}
	return nil
}

// =============================================================================
// INDICATORS - Editor-supplied policy inputs
// =============================================================================

// EconomicIndicators are the policy inputs of a country. All rates are annual
// fractions (0.03 = 3%).
type EconomicIndicators struct {
	// EffectiveFrom is the simulated instant this version starts to apply.
	// The first version of a country applies from the baseline anchor.
	EffectiveFrom SimTime

	RealGrowthRate       float64 // per-capita real GDP growth
	PopulationGrowthRate float64
	InflationRate        float64

	UnemploymentRate        float64
	LaborForceParticipation float64

	TaxRevenuePercent         float64
	GovernmentSpendingPercent float64
}

// Validate reports rates that would make compounding meaningless.
func (ind EconomicIndicators) Validate() error {
	rates := []struct {
		field string
		value float64
	}{
		{"real_growth_rate", ind.RealGrowthRate},
		{"population_growth_rate", ind.PopulationGrowthRate},
		{"inflation_rate", ind.InflationRate},
	}
	for _, r := range rates {
		if !isFinite(r.value) || r.value <= -1 {
			return &InvalidInputError{Field: r.field, Reason: "must be finite and greater than -1"}
		}
	}

	ratios := []struct {
		field string
		value float64
	}{
		{"unemployment_rate", ind.UnemploymentRate},
		{"labor_force_participation", ind.LaborForceParticipation},
		{"tax_revenue_percent", ind.TaxRevenuePercent},
		{"government_spending_percent", ind.GovernmentSpendingPercent},
	}
	for _, r := range ratios {
		if !isFinite(r.value) || r.value < 0 {
			return &InvalidInputError{Field: r.field, Reason: "must be finite and non-negative"}
		}
	}
	return nil
}

// =============================================================================
// PROJECTED STATE - Derived, never hand-edited
// =============================================================================

// ProjectedState is the country state at AsOf. It is a pure function of the
// baseline and the indicator versions effective at or before AsOf.
type ProjectedState struct {
	CountryID      CountryID
	AsOf           SimTime
	Population     int64
	GDPPerCapita   decimal.Decimal
	TotalGDP       decimal.Decimal
	EconomicTier   EconomicTier
	PopulationTier PopulationTier

	// AdjustedGrowthRate is the damped per-capita growth rate that applies
	// from AsOf onward under the state's own economic tier.
	AdjustedGrowthRate float64
}

// =============================================================================
// COUNTRY - Aggregate row (baseline + cached current projection)
// =============================================================================

type Country struct {
	ID       CountryID
	Name     string
	OwnerID  UserID
	Baseline BaselineSnapshot

	// Current is the cached projection written by the last recalculation.
	// Nil until the first recalculation runs.
	Current *ProjectedState

	CreatedAt time.Time
}

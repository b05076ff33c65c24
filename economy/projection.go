/*
projection.go - Time-Progression Calculator

PURPOSE:
  Computes a country's ProjectedState at a target simulated time from its
  baseline and indicator history. This is the only component that must stay
  pure: no clock reads, no store reads, no randomness. Same inputs, same
  bits out.

ALGORITHM:
  1. Split [anchor, target] into indicator segments. Version 0 applies from
     the anchor; later versions apply from their EffectiveFrom. Versions
     effective after the target are ignored.
  2. Inside a segment, integrate in sub-intervals of at most MaxStepYears.
     Each sub-interval compounds with exp(dt * log1p(r)), which stays stable
     for long spans and small rates.
  3. The per-capita rate of a sub-interval is the indicator rate damped by
     the economic tier of the state at the START of the sub-interval.
  4. When growth would carry GDP/capita across the next tier breakpoint, the
     sub-interval is cut at the exact crossing time and the value is placed
     on the breakpoint. The tie-break puts it in the higher tier, whose cap
     gates the remainder. Cutting at crossings makes the result independent
     of where sub-intervals start, so anchor->T2 and anchor->T1->T2 agree.
  5. totalGdp = population * gdpPerCapita.

EXAMPLE:
  calc := economy.NewCalculator(nil)
  state, err := calc.Project(baseline, indicators, baseline.AnchorTime.AddYears(12))
  if errors.Is(err, economy.ErrInvalidTime) {
      // target before anchor: caller mistake
  }

SEE ALSO:
  - tier.go: breakpoints, caps and damping
  - engine/service.go: loads inputs and persists the result
*/
package economy

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// MaxStepYears bounds each compounding sub-interval.
const MaxStepYears = 1.0

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	classifier *Classifier
}

// NewCalculator creates a calculator. A nil classifier uses the default tables.
func NewCalculator(classifier *Classifier) *Calculator {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Calculator{classifier: classifier}
}

func (c *Calculator) Classifier() *Classifier { return c.classifier }

// Project computes the state at target under a single indicator set.
func (c *Calculator) Project(baseline BaselineSnapshot, indicators EconomicIndicators, target SimTime) (ProjectedState, error) {
	return c.ProjectTimeline(baseline, []EconomicIndicators{indicators}, target)
}

// ProjectTimeline computes the state at target under an indicator history.
func (c *Calculator) ProjectTimeline(baseline BaselineSnapshot, timeline []EconomicIndicators, target SimTime) (ProjectedState, error) {
	if err := baseline.Validate(); err != nil {
		return ProjectedState{}, err
	}
	if target.Before(baseline.AnchorTime) {
		return ProjectedState{}, &InvalidTimeError{
			CountryID: baseline.CountryID,
			Anchor:    baseline.AnchorTime,
			Target:    target,
		}
	}

	segments, err := buildSegments(baseline.AnchorTime, target, timeline)
	if err != nil {
		return ProjectedState{}, err
	}

	pop := float64(baseline.Population)
	gpc := baseline.GDPPerCapita.InexactFloat64()
	for _, seg := range segments {
		pop, gpc = c.integrate(pop, gpc, YearsBetween(seg.from, seg.to), seg.indicators)
	}

	return c.finish(baseline.CountryID, target, pop, gpc, segments[len(segments)-1].indicators)
}

// ProjectFrom continues a previously projected state to a later target. The
// state is used as an anchor, so ProjectFrom(Project(b, T1), T2) agrees with
// Project(b, T2) within rounding of the population count.
func (c *Calculator) ProjectFrom(state ProjectedState, timeline []EconomicIndicators, target SimTime) (ProjectedState, error) {
	return c.ProjectTimeline(BaselineSnapshot{
		CountryID:    state.CountryID,
		AnchorTime:   state.AsOf,
		Population:   state.Population,
		GDPPerCapita: state.GDPPerCapita,
	}, timeline, target)
}

// integrate advances population and GDP/capita by years under one indicator set.
func (c *Calculator) integrate(pop, gpc, years float64, ind EconomicIndicators) (float64, float64) {
	remaining := years
	for remaining > 0 {
		step := math.Min(remaining, MaxStepYears)
		band := c.classifier.economicBand(gpc)
		rate := Classification{GrowthCap: band.GrowthCap, Damping: band.Damping}.AdjustGrowth(ind.RealGrowthRate)

		if rate > 0 {
			if next, ok := c.classifier.nextEconomicBreakpoint(gpc); ok {
				if t := math.Log(next/gpc) / math.Log1p(rate); t <= step {
					pop = compound(pop, ind.PopulationGrowthRate, t)
					gpc = next
					remaining -= t
					continue
				}
			}
		}

		pop = compound(pop, ind.PopulationGrowthRate, step)
		gpc = compound(gpc, rate, step)
		remaining -= step
	}
	return pop, gpc
}

func (c *Calculator) finish(id CountryID, at SimTime, pop, gpc float64, ind EconomicIndicators) (ProjectedState, error) {
	if !isFinite(pop) || !isFinite(gpc) || pop >= math.MaxInt64 {
		return ProjectedState{}, &InvalidInputError{Field: "target_time", Reason: "projection overflows numeric range"}
	}

	population := int64(math.Round(pop))
	cls, err := c.classifier.ClassifyValues(population, gpc)
	if err != nil {
		return ProjectedState{}, err
	}

	perCapita := decimal.NewFromFloat(gpc)
	return ProjectedState{
		CountryID:          id,
		AsOf:               at,
		Population:         population,
		GDPPerCapita:       perCapita,
		TotalGDP:           decimal.NewFromInt(population).Mul(perCapita),
		EconomicTier:       cls.EconomicTier,
		PopulationTier:     cls.PopulationTier,
		AdjustedGrowthRate: cls.AdjustGrowth(ind.RealGrowthRate),
	}, nil
}

func compound(value, rate, years float64) float64 {
	return value * math.Exp(years*math.Log1p(rate))
}

// =============================================================================
// INDICATOR SEGMENTS
// =============================================================================

type segment struct {
	from, to   SimTime
	indicators EconomicIndicators
}

func buildSegments(anchor, target SimTime, timeline []EconomicIndicators) ([]segment, error) {
	if len(timeline) == 0 {
		return nil, &InvalidInputError{Field: "indicators", Reason: "at least one version is required"}
	}

	sorted := append([]EconomicIndicators(nil), timeline...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})

	// version 0 always applies from the anchor; later versions only if known by target
	active := sorted[:1]
	for _, ind := range sorted[1:] {
		if ind.EffectiveFrom.BeforeOrEqual(target) {
			active = append(active, ind)
		}
	}

	segs := make([]segment, 0, len(active))
	for i, ind := range active {
		if err := ind.Validate(); err != nil {
			return nil, err
		}
		from := anchor
		if i > 0 {
			from = latest(anchor, ind.EffectiveFrom)
		}
		to := target
		if i+1 < len(active) {
			to = latest(anchor, active[i+1].EffectiveFrom)
		}
		segs = append(segs, segment{from: from, to: to, indicators: ind})
	}
	return segs, nil
}

func latest(a, b SimTime) SimTime {
	if b.After(a) {
		return b
	}
	return a
}

/*
tier.go - Tier Classifier

PURPOSE:
  Maps a state onto ordered tier labels using ordered numeric breakpoints:
  GDP per capita -> EconomicTier, population -> PopulationTier. The economic
  tier also selects the growth cap used by the calculator.

TIE-BREAK:
  A value exactly on a breakpoint belongs to the higher tier (Min <= value).

GATING:
  The tier of the state at time T gates the growth used to move past T. The
  calculator asks for the tier at the start of each sub-interval, never for
  the tier of the value it is about to produce.
*/
package economy

import (
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// TIER LABELS
// =============================================================================

type EconomicTier int

const (
	TierImpoverished EconomicTier = iota
	TierDeveloping
	TierDeveloped
	TierHealthy
	TierStrong
	TierVeryStrong
	TierExtravagant
)

var economicTierNames = []string{
	"impoverished", "developing", "developed", "healthy", "strong", "very_strong", "extravagant",
}

func (t EconomicTier) String() string {
	if t < 0 || int(t) >= len(economicTierNames) {
		return fmt.Sprintf("economic_tier(%d)", int(t))
	}
	return economicTierNames[t]
}

func (t EconomicTier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EconomicTier) UnmarshalText(b []byte) error {
	parsed, err := ParseEconomicTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseEconomicTier(s string) (EconomicTier, error) {
	for i, name := range economicTierNames {
		if name == s {
			return EconomicTier(i), nil
		}
	}
	return 0, &InvalidInputError{Field: "economic_tier", Reason: fmt.Sprintf("unknown tier %q", s)}
}

type PopulationTier int

const (
	TierMicro PopulationTier = iota
	TierSmall
	TierMedium
	TierLarge
	TierMassive
	TierColossal
)

var populationTierNames = []string{"micro", "small", "medium", "large", "massive", "colossal"}

func (t PopulationTier) String() string {
	if t < 0 || int(t) >= len(populationTierNames) {
		return fmt.Sprintf("population_tier(%d)", int(t))
	}
	return populationTierNames[t]
}

func (t PopulationTier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *PopulationTier) UnmarshalText(b []byte) error {
	parsed, err := ParsePopulationTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParsePopulationTier(s string) (PopulationTier, error) {
	for i, name := range populationTierNames {
		if name == s {
			return PopulationTier(i), nil
		}
	}
	return 0, &InvalidInputError{Field: "population_tier", Reason: fmt.Sprintf("unknown tier %q", s)}
}

// =============================================================================
// BREAKPOINT TABLES
// =============================================================================

// EconomicBand is one row of the GDP-per-capita table.
//
// GrowthCap is the ceiling growth rate for the tier. Rates above the cap are
// pulled toward it: effective = cap + (rate - cap) * Damping.
type EconomicBand struct {
	Tier            EconomicTier
	MinGDPPerCapita float64
	GrowthCap       float64
	Damping         float64
}

type PopulationBand struct {
	Tier          PopulationTier
	MinPopulation int64
}

// DefaultEconomicBands is the standard GDP-per-capita table.
var DefaultEconomicBands = []EconomicBand{
	{Tier: TierImpoverished, MinGDPPerCapita: 0, GrowthCap: 0.10, Damping: 0.5},
	{Tier: TierDeveloping, MinGDPPerCapita: 10_000, GrowthCap: 0.075, Damping: 0.5},
	{Tier: TierDeveloped, MinGDPPerCapita: 25_000, GrowthCap: 0.05, Damping: 0.4},
	{Tier: TierHealthy, MinGDPPerCapita: 35_000, GrowthCap: 0.035, Damping: 0.3},
	{Tier: TierStrong, MinGDPPerCapita: 45_000, GrowthCap: 0.0275, Damping: 0.25},
	{Tier: TierVeryStrong, MinGDPPerCapita: 55_000, GrowthCap: 0.015, Damping: 0.2},
	{Tier: TierExtravagant, MinGDPPerCapita: 65_000, GrowthCap: 0.005, Damping: 0.1},
}

// DefaultPopulationBands is the standard population table.
var DefaultPopulationBands = []PopulationBand{
	{Tier: TierMicro, MinPopulation: 0},
	{Tier: TierSmall, MinPopulation: 1_000_000},
	{Tier: TierMedium, MinPopulation: 10_000_000},
	{Tier: TierLarge, MinPopulation: 50_000_000},
	{Tier: TierMassive, MinPopulation: 100_000_000},
	{Tier: TierColossal, MinPopulation: 500_000_000},
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classification is the classifier's output for one state.
type Classification struct {
	EconomicTier   EconomicTier
	PopulationTier PopulationTier
	GrowthCap      float64
	Damping        float64
}

// Classifier holds immutable, ascending breakpoint tables.
type Classifier struct {
	economic   []EconomicBand
	population []PopulationBand
}

// NewClassifier validates and copies the tables. Breakpoints must be strictly
// ascending, start at zero, and tiers must be ascending with them.
func NewClassifier(economic []EconomicBand, population []PopulationBand) (*Classifier, error) {
	if len(economic) == 0 || len(population) == 0 {
		return nil, &InvalidInputError{Field: "tier_table", Reason: "must not be empty"}
	}
	eco := append([]EconomicBand(nil), economic...)
	pop := append([]PopulationBand(nil), population...)

	if eco[0].MinGDPPerCapita != 0 || pop[0].MinPopulation != 0 {
		return nil, &InvalidInputError{Field: "tier_table", Reason: "first breakpoint must be zero"}
	}
	for i := 1; i < len(eco); i++ {
		if eco[i].MinGDPPerCapita <= eco[i-1].MinGDPPerCapita || eco[i].Tier <= eco[i-1].Tier {
			return nil, &InvalidInputError{Field: "economic_tiers", Reason: "breakpoints must be strictly ascending"}
		}
	}
	for i, b := range eco {
		if b.GrowthCap <= 0 || b.Damping < 0 || b.Damping > 1 {
			return nil, &InvalidInputError{Field: "economic_tiers", Reason: fmt.Sprintf("row %d: cap must be positive and damping in [0,1]", i)}
		}
	}
	for i := 1; i < len(pop); i++ {
		if pop[i].MinPopulation <= pop[i-1].MinPopulation || pop[i].Tier <= pop[i-1].Tier {
			return nil, &InvalidInputError{Field: "population_tiers", Reason: "breakpoints must be strictly ascending"}
		}
	}
	return &Classifier{economic: eco, population: pop}, nil
}

// DefaultClassifier returns a classifier over the default tables.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultEconomicBands, DefaultPopulationBands)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify derives tier labels and the growth cap of a projected state.
func (c *Classifier) Classify(state ProjectedState) (Classification, error) {
	return c.ClassifyValues(state.Population, state.GDPPerCapita.InexactFloat64())
}

// ClassifyValues classifies raw values.
func (c *Classifier) ClassifyValues(population int64, gdpPerCapita float64) (Classification, error) {
	if population < 0 {
		return Classification{}, &InvalidInputError{Field: "population", Reason: "must not be negative"}
	}
	if !isFinite(gdpPerCapita) || gdpPerCapita < 0 {
		return Classification{}, &InvalidInputError{Field: "gdp_per_capita", Reason: "must be finite and non-negative"}
	}
	eb := c.economicBand(gdpPerCapita)
	return Classification{
		EconomicTier:   eb.Tier,
		PopulationTier: c.populationBand(population).Tier,
		GrowthCap:      eb.GrowthCap,
		Damping:        eb.Damping,
	}, nil
}

// AdjustGrowth applies the tier's cap and damping to a nominal rate.
func (cl Classification) AdjustGrowth(rate float64) float64 {
	if rate <= cl.GrowthCap {
		return rate
	}
	return cl.GrowthCap + (rate-cl.GrowthCap)*cl.Damping
}

// EconomicBands returns a copy of the economic table.
func (c *Classifier) EconomicBands() []EconomicBand {
	return append([]EconomicBand(nil), c.economic...)
}

// PopulationBands returns a copy of the population table.
func (c *Classifier) PopulationBands() []PopulationBand {
	return append([]PopulationBand(nil), c.population...)
}

func (c *Classifier) economicBand(gdpPerCapita float64) EconomicBand {
	// first index whose breakpoint is above the value; the band before it holds the value
	i := sort.Search(len(c.economic), func(i int) bool {
		return c.economic[i].MinGDPPerCapita > gdpPerCapita
	})
	return c.economic[i-1]
}

func (c *Classifier) populationBand(population int64) PopulationBand {
	i := sort.Search(len(c.population), func(i int) bool {
		return c.population[i].MinPopulation > population
	})
	return c.population[i-1]
}

// nextEconomicBreakpoint returns the smallest breakpoint strictly above the value.
func (c *Classifier) nextEconomicBreakpoint(gdpPerCapita float64) (float64, bool) {
	i := sort.Search(len(c.economic), func(i int) bool {
		return c.economic[i].MinGDPPerCapita > gdpPerCapita
	})
	if i == len(c.economic) {
		return math.Inf(1), false
	}
	return c.economic[i].MinGDPPerCapita, true
}

/*
threshold.go - Milestone thresholds and the immutable threshold catalog

KINDS:
  economic-threshold    total GDP at or above Value
  population-threshold  population at or above Value
  tier-change           economic or population tier at or above Tier
  growth-spike          adjusted growth rate inside [Value, Upper)

RANK:
  Within a kind, thresholds are ordered by value and ranked from 1. The rank
  drives the priority of the feed record: crossing $1T outranks $100B.

The catalog is built once at startup and never mutated. Lookups by id are
map reads, so sharing one catalog between goroutines is safe.
*/
package milestone

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/economy"
)

// Kind is the monitored dimension of a threshold.
type Kind string

const (
	KindEconomicThreshold   Kind = "economic-threshold"
	KindPopulationThreshold Kind = "population-threshold"
	KindTierChange          Kind = "tier-change"
	KindGrowthSpike         Kind = "growth-spike"
)

var kindOrder = map[Kind]int{
	KindEconomicThreshold:   0,
	KindPopulationThreshold: 1,
	KindTierChange:          2,
	KindGrowthSpike:         3,
}

func (k Kind) Valid() bool {
	_, ok := kindOrder[k]
	return ok
}

// Dimension selects the tier table of a tier-change threshold.
type Dimension string

const (
	DimensionEconomic   Dimension = "economic"
	DimensionPopulation Dimension = "population"
)

// Priority is the feed priority of a crossed threshold.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Threshold is one named, one-time-crossable level.
type Threshold struct {
	ID    string
	Kind  Kind
	Label string

	// Value is total GDP, population, or the growth band's inclusive lower bound.
	Value decimal.Decimal
	// Upper is the exclusive upper bound of a growth band; invalid means unbounded.
	Upper decimal.NullDecimal

	Dimension Dimension
	Tier      string

	// FireOnFirst also fires when the first-ever projection is already past it.
	FireOnFirst bool

	// Rank is assigned by the catalog: 1-based within the kind, and within
	// the dimension for tier changes.
	Rank int

	level   int
	ofGroup int
}

type rankGroup struct {
	kind      Kind
	dimension Dimension
}

func (t Threshold) group() rankGroup {
	if t.Kind != KindTierChange {
		return rankGroup{kind: t.Kind}
	}
	return rankGroup{kind: t.Kind, dimension: t.Dimension}
}

// Priority derives a priority from the threshold's rank within its kind
// (and dimension, for tier changes).
func (t Threshold) Priority() Priority {
	if t.ofGroup == 0 {
		return PriorityNormal
	}
	switch q := float64(t.Rank) / float64(t.ofGroup); {
	case q > 0.75:
		return PriorityCritical
	case q > 0.5:
		return PriorityHigh
	case q > 0.25:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// reached reports whether a state is at-or-above / inside the threshold.
func (t Threshold) reached(s economy.ProjectedState) bool {
	switch t.Kind {
	case KindEconomicThreshold:
		return s.TotalGDP.GreaterThanOrEqual(t.Value)
	case KindPopulationThreshold:
		return decimal.NewFromInt(s.Population).GreaterThanOrEqual(t.Value)
	case KindTierChange:
		if t.Dimension == DimensionPopulation {
			return int(s.PopulationTier) >= t.level
		}
		return int(s.EconomicTier) >= t.level
	case KindGrowthSpike:
		rate := decimal.NewFromFloat(s.AdjustedGrowthRate)
		if rate.LessThan(t.Value) {
			return false
		}
		return !t.Upper.Valid || rate.LessThan(t.Upper.Decimal)
	}
	return false
}

// observed returns the state value the threshold watches.
func (t Threshold) observed(s economy.ProjectedState) string {
	switch t.Kind {
	case KindEconomicThreshold:
		return s.TotalGDP.StringFixed(2)
	case KindPopulationThreshold:
		return fmt.Sprintf("%d", s.Population)
	case KindTierChange:
		if t.Dimension == DimensionPopulation {
			return s.PopulationTier.String()
		}
		return s.EconomicTier.String()
	default:
		return decimal.NewFromFloat(s.AdjustedGrowthRate).String()
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the immutable, validated set of thresholds.
type Catalog struct {
	ordered []Threshold
	byID    map[string]int
}

// NewCatalog validates the thresholds and assigns ranks.
func NewCatalog(thresholds []Threshold) (*Catalog, error) {
	list := append([]Threshold(nil), thresholds...)
	seen := make(map[string]bool, len(list))

	for i := range list {
		t := &list[i]
		if t.ID == "" {
			return nil, &economy.InvalidInputError{Field: "milestone.id", Reason: "must not be empty"}
		}
		if seen[t.ID] {
			return nil, &economy.InvalidInputError{Field: "milestone.id", Reason: fmt.Sprintf("duplicate id %q", t.ID)}
		}
		seen[t.ID] = true
		if err := t.normalize(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if a.Kind == KindTierChange && a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.Kind == KindTierChange {
			return a.level < b.level
		}
		return a.Value.LessThan(b.Value)
	})

	// tier changes rank within their own dimension
	counts := make(map[rankGroup]int)
	for _, t := range list {
		counts[t.group()]++
	}
	rank := make(map[rankGroup]int)
	byID := make(map[string]int, len(list))
	for i := range list {
		g := list[i].group()
		rank[g]++
		list[i].Rank = rank[g]
		list[i].ofGroup = counts[g]
		byID[list[i].ID] = i
	}
	return &Catalog{ordered: list, byID: byID}, nil
}

func (t *Threshold) normalize() error {
	field := "milestone." + t.ID
	if !t.Kind.Valid() {
		return &economy.InvalidInputError{Field: field, Reason: fmt.Sprintf("unknown kind %q", t.Kind)}
	}
	if t.Label == "" {
		t.Label = t.ID
	}

	switch t.Kind {
	case KindEconomicThreshold, KindPopulationThreshold:
		if !t.Value.IsPositive() {
			return &economy.InvalidInputError{Field: field, Reason: "value must be positive"}
		}
	case KindGrowthSpike:
		if t.Upper.Valid && !t.Upper.Decimal.GreaterThan(t.Value) {
			return &economy.InvalidInputError{Field: field, Reason: "upper bound must exceed lower bound"}
		}
	case KindTierChange:
		switch t.Dimension {
		case DimensionEconomic:
			tier, err := economy.ParseEconomicTier(t.Tier)
			if err != nil {
				return err
			}
			t.level = int(tier)
		case DimensionPopulation:
			tier, err := economy.ParsePopulationTier(t.Tier)
			if err != nil {
				return err
			}
			t.level = int(tier)
		default:
			return &economy.InvalidInputError{Field: field, Reason: fmt.Sprintf("unknown dimension %q", t.Dimension)}
		}
		t.Value = decimal.NewFromInt(int64(t.level))
	}
	return nil
}

// All returns thresholds in rank order, grouped by kind.
func (c *Catalog) All() []Threshold {
	return append([]Threshold(nil), c.ordered...)
}

// Get looks up a threshold by id.
func (c *Catalog) Get(id string) (Threshold, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Threshold{}, false
	}
	return c.ordered[i], true
}

// ByKind returns the thresholds of one kind in rank order.
func (c *Catalog) ByKind(kind Kind) []Threshold {
	var out []Threshold
	for _, t := range c.ordered {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func (c *Catalog) Len() int { return len(c.ordered) }

// TierThresholds generates one tier-change threshold per reachable tier of
// both classifier tables. The lowest tier of each table is never "reached".
func TierThresholds(classifier *economy.Classifier) []Threshold {
	var out []Threshold
	for _, b := range classifier.EconomicBands()[1:] {
		out = append(out, Threshold{
			ID:        "tier-economic-" + b.Tier.String(),
			Kind:      KindTierChange,
			Label:     "Economy reached " + b.Tier.String() + " tier",
			Dimension: DimensionEconomic,
			Tier:      b.Tier.String(),
		})
	}
	for _, b := range classifier.PopulationBands()[1:] {
		out = append(out, Threshold{
			ID:        "tier-population-" + b.Tier.String(),
			Kind:      KindTierChange,
			Label:     "Population reached " + b.Tier.String() + " tier",
			Dimension: DimensionPopulation,
			Tier:      b.Tier.String(),
		})
	}
	return out
}

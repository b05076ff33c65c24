/*
condition.go - Unlock conditions as data

Conditions are a tagged variant evaluated by a small interpreter, so a new
achievement is a new catalog entry, never a new code path.

VARIANTS:
  threshold  metric of the projected state or indicators compared to Value
  count      auxiliary counter (embassies, posts, ...) compared to Value
  match      categorical attribute (tier label) is one of Values
  all        every child condition holds (empty: true)
  any        at least one child condition holds (empty: false)

Comparisons run on decimals so boundaries are exact: "total_gdp >= 1e12"
holds for a total GDP of exactly 1,000,000,000,000.

Missing facts evaluate to false rather than failing: a country with no
projection yet simply does not meet a GDP threshold. A missing counter reads
as zero.
*/
package achievement

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/economy"
)

type ConditionKind string

const (
	ConditionThreshold ConditionKind = "threshold"
	ConditionCount     ConditionKind = "count"
	ConditionMatch     ConditionKind = "match"
	ConditionAll       ConditionKind = "all"
	ConditionAny       ConditionKind = "any"
)

type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
	OpNE  Operator = "!="
)

// Metrics readable by threshold conditions.
const (
	MetricTotalGDP                  = "total_gdp"
	MetricGDPPerCapita              = "gdp_per_capita"
	MetricPopulation                = "population"
	MetricAdjustedGrowthRate        = "adjusted_growth_rate"
	MetricRealGrowthRate            = "real_growth_rate"
	MetricPopulationGrowthRate      = "population_growth_rate"
	MetricInflationRate             = "inflation_rate"
	MetricUnemploymentRate          = "unemployment_rate"
	MetricLaborForceParticipation   = "labor_force_participation"
	MetricTaxRevenuePercent         = "tax_revenue_percent"
	MetricGovernmentSpendingPercent = "government_spending_percent"
)

// Counters readable by count conditions.
const (
	CounterEmbassies      = "embassy_count"
	CounterPosts          = "post_count"
	CounterAccountAgeDays = "account_age_days"
	CounterMilestones     = "milestone_count"
)

// Attributes readable by match conditions.
const (
	AttributeEconomicTier   = "economic_tier"
	AttributePopulationTier = "population_tier"
)

var (
	stateMetrics = map[string]func(economy.ProjectedState) decimal.Decimal{
		MetricTotalGDP:           func(s economy.ProjectedState) decimal.Decimal { return s.TotalGDP },
		MetricGDPPerCapita:       func(s economy.ProjectedState) decimal.Decimal { return s.GDPPerCapita },
		MetricPopulation:         func(s economy.ProjectedState) decimal.Decimal { return decimal.NewFromInt(s.Population) },
		MetricAdjustedGrowthRate: func(s economy.ProjectedState) decimal.Decimal { return decimal.NewFromFloat(s.AdjustedGrowthRate) },
	}
	indicatorMetrics = map[string]func(economy.EconomicIndicators) float64{
		MetricRealGrowthRate:            func(i economy.EconomicIndicators) float64 { return i.RealGrowthRate },
		MetricPopulationGrowthRate:      func(i economy.EconomicIndicators) float64 { return i.PopulationGrowthRate },
		MetricInflationRate:             func(i economy.EconomicIndicators) float64 { return i.InflationRate },
		MetricUnemploymentRate:          func(i economy.EconomicIndicators) float64 { return i.UnemploymentRate },
		MetricLaborForceParticipation:   func(i economy.EconomicIndicators) float64 { return i.LaborForceParticipation },
		MetricTaxRevenuePercent:         func(i economy.EconomicIndicators) float64 { return i.TaxRevenuePercent },
		MetricGovernmentSpendingPercent: func(i economy.EconomicIndicators) float64 { return i.GovernmentSpendingPercent },
	}
	counters = map[string]bool{
		CounterEmbassies:      true,
		CounterPosts:          true,
		CounterAccountAgeDays: true,
		CounterMilestones:     true,
	}
)

// Condition is one node of an unlock predicate.
type Condition struct {
	Kind ConditionKind

	// threshold: Metric; count: Counter; match: Attribute
	Metric    string
	Counter   string
	Attribute string

	Op     Operator
	Value  decimal.Decimal
	Values []string

	Conditions []Condition
}

// Facts is everything a condition may read.
type Facts struct {
	State      *economy.ProjectedState
	Indicators *economy.EconomicIndicators
	Counters   map[string]int64
}

// Validate checks the condition tree is well-formed.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionThreshold:
		if _, ok := stateMetrics[c.Metric]; !ok {
			if _, ok := indicatorMetrics[c.Metric]; !ok {
				return conditionError("unknown metric %q", c.Metric)
			}
		}
		return c.Op.validate()
	case ConditionCount:
		if !counters[c.Counter] {
			return conditionError("unknown counter %q", c.Counter)
		}
		return c.Op.validate()
	case ConditionMatch:
		if len(c.Values) == 0 {
			return conditionError("match on %q needs at least one value", c.Attribute)
		}
		for _, v := range c.Values {
			var err error
			switch c.Attribute {
			case AttributeEconomicTier:
				_, err = economy.ParseEconomicTier(v)
			case AttributePopulationTier:
				_, err = economy.ParsePopulationTier(v)
			default:
				return conditionError("unknown attribute %q", c.Attribute)
			}
			if err != nil {
				return err
			}
		}
		return nil
	case ConditionAll, ConditionAny:
		for _, child := range c.Conditions {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return conditionError("unknown condition kind %q", c.Kind)
}

// Evaluate interprets the condition against facts.
func (c Condition) Evaluate(f Facts) (bool, error) {
	switch c.Kind {
	case ConditionThreshold:
		v, ok := f.metric(c.Metric)
		if !ok {
			return false, nil
		}
		return c.Op.compare(v, c.Value)

	case ConditionCount:
		return c.Op.compare(decimal.NewFromInt(f.Counters[c.Counter]), c.Value)

	case ConditionMatch:
		if f.State == nil {
			return false, nil
		}
		var got string
		switch c.Attribute {
		case AttributeEconomicTier:
			got = f.State.EconomicTier.String()
		case AttributePopulationTier:
			got = f.State.PopulationTier.String()
		default:
			return false, conditionError("unknown attribute %q", c.Attribute)
		}
		for _, v := range c.Values {
			if v == got {
				return true, nil
			}
		}
		return false, nil

	case ConditionAll:
		for _, child := range c.Conditions {
			ok, err := child.Evaluate(f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case ConditionAny:
		for _, child := range c.Conditions {
			ok, err := child.Evaluate(f)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, conditionError("unknown condition kind %q", c.Kind)
}

func (f Facts) metric(name string) (decimal.Decimal, bool) {
	if get, ok := stateMetrics[name]; ok {
		if f.State == nil {
			return decimal.Decimal{}, false
		}
		return get(*f.State), true
	}
	if get, ok := indicatorMetrics[name]; ok {
		if f.Indicators == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(get(*f.Indicators)), true
	}
	return decimal.Decimal{}, false
}

func (op Operator) validate() error {
	switch op {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNE:
		return nil
	}
	return conditionError("unknown operator %q", op)
}

func (op Operator) compare(got, want decimal.Decimal) (bool, error) {
	switch op {
	case OpGTE:
		return got.GreaterThanOrEqual(want), nil
	case OpGT:
		return got.GreaterThan(want), nil
	case OpLTE:
		return got.LessThanOrEqual(want), nil
	case OpLT:
		return got.LessThan(want), nil
	case OpEQ:
		return got.Equal(want), nil
	case OpNE:
		return !got.Equal(want), nil
	}
	return false, conditionError("unknown operator %q", op)
}

func conditionError(format string, args ...any) error {
	return &economy.InvalidInputError{Field: "condition", Reason: fmt.Sprintf(format, args...)}
}

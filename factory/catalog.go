/*
Package factory provides YAML to Go catalog conversion.

PURPOSE:
  Converts YAML catalog documents into the immutable catalogs the engine runs
  on: tier tables (economy.Classifier), milestone thresholds
  (milestone.Catalog) and achievement definitions (achievement.Catalog).
  Game designers edit YAML, the factory builds and validates the Go values.

WHY YAML?
  - Designers can add an achievement without a code change
  - Conditions nest naturally (all / any trees)
  - Version control for balance changes

YAML SCHEMA (achievements):
  achievements:
    - id: trillion-club
      name: Trillion Club
      description: Reach a total GDP of one trillion
      category: economic
      rarity: epic
      points: 100
      condition:
        kind: threshold
        metric: total_gdp
        op: ">="
        value: "1000000000000"

  condition kinds:
    threshold  metric, op, value
    count      counter, op, value
    match      attribute, values
    all / any  conditions

YAML SCHEMA (milestones):
  tier_milestones: true        # generate one tier-change threshold per tier
  milestones:
    - id: gdp-1t
      kind: economic-threshold
      label: Trillion-dollar economy
      value: "1000000000000"
    - id: growth-boom
      kind: growth-spike
      value: "0.05"
      upper: "0.08"

YAML SCHEMA (tiers):
  economic:
    - {tier: impoverished, min_gdp_per_capita: 0, growth_cap: 0.10, damping: 0.5}
  population:
    - {tier: micro, min_population: 0}

USAGE:
  catalogs, err := factory.Load(factory.Paths{})            // embedded defaults
  catalogs, err := factory.Load(factory.Paths{Achievements: "my.yaml"})

SEE ALSO:
  - catalog/*.yaml: embedded default documents
  - achievement/condition.go: condition semantics
*/
package factory

import (
	"embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var defaults embed.FS

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// AchievementsYAML is the achievements document.
type AchievementsYAML struct {
	Achievements []AchievementYAML `yaml:"achievements"`
}

// AchievementYAML is one achievement definition.
type AchievementYAML struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Category    string        `yaml:"category"`
	Rarity      string        `yaml:"rarity"`
	Points      int           `yaml:"points"`
	Condition   ConditionYAML `yaml:"condition"`
}

// ConditionYAML is one node of a condition tree.
type ConditionYAML struct {
	Kind       string          `yaml:"kind"`
	Metric     string          `yaml:"metric,omitempty"`
	Counter    string          `yaml:"counter,omitempty"`
	Attribute  string          `yaml:"attribute,omitempty"`
	Op         string          `yaml:"op,omitempty"`
	Value      string          `yaml:"value,omitempty"`
	Values     []string        `yaml:"values,omitempty"`
	Conditions []ConditionYAML `yaml:"conditions,omitempty"`
}

// MilestonesYAML is the milestone thresholds document.
type MilestonesYAML struct {
	TierMilestones bool            `yaml:"tier_milestones"`
	Milestones     []MilestoneYAML `yaml:"milestones"`
}

// MilestoneYAML is one threshold.
type MilestoneYAML struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	Label       string `yaml:"label,omitempty"`
	Value       string `yaml:"value,omitempty"`
	Upper       string `yaml:"upper,omitempty"`
	Dimension   string `yaml:"dimension,omitempty"`
	Tier        string `yaml:"tier,omitempty"`
	FireOnFirst bool   `yaml:"fire_on_first,omitempty"`
}

// TiersYAML is the tier tables document.
type TiersYAML struct {
	Economic   []EconomicBandYAML   `yaml:"economic"`
	Population []PopulationBandYAML `yaml:"population"`
}

type EconomicBandYAML struct {
	Tier            string  `yaml:"tier"`
	MinGDPPerCapita float64 `yaml:"min_gdp_per_capita"`
	GrowthCap       float64 `yaml:"growth_cap"`
	Damping         float64 `yaml:"damping"`
}

type PopulationBandYAML struct {
	Tier          string `yaml:"tier"`
	MinPopulation int64  `yaml:"min_population"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts YAML documents to catalogs.
type CatalogFactory struct{}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseAchievements parses and validates an achievements document.
func (f *CatalogFactory) ParseAchievements(data []byte) (*achievement.Catalog, error) {
	var doc AchievementsYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid achievements YAML: %w", err)
	}
	return f.FromAchievementsYAML(doc)
}

// FromAchievementsYAML converts a parsed document.
func (f *CatalogFactory) FromAchievementsYAML(doc AchievementsYAML) (*achievement.Catalog, error) {
	defs := make([]achievement.Definition, 0, len(doc.Achievements))
	for _, ay := range doc.Achievements {
		category, err := achievement.ParseCategory(ay.Category)
		if err != nil {
			return nil, fmt.Errorf("achievement %q: %w", ay.ID, err)
		}
		rarity, err := achievement.ParseRarity(ay.Rarity)
		if err != nil {
			return nil, fmt.Errorf("achievement %q: %w", ay.ID, err)
		}
		cond, err := parseCondition(ay.Condition)
		if err != nil {
			return nil, fmt.Errorf("achievement %q: %w", ay.ID, err)
		}
		defs = append(defs, achievement.Definition{
			ID:          ay.ID,
			Name:        ay.Name,
			Description: ay.Description,
			Category:    category,
			Rarity:      rarity,
			Points:      ay.Points,
			Condition:   cond,
		})
	}
	return achievement.NewCatalog(defs)
}

// ParseMilestones parses a milestones document. When the document asks for
// tier milestones they are generated from the classifier's tables.
func (f *CatalogFactory) ParseMilestones(data []byte, classifier *economy.Classifier) (*milestone.Catalog, error) {
	var doc MilestonesYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid milestones YAML: %w", err)
	}
	return f.FromMilestonesYAML(doc, classifier)
}

func (f *CatalogFactory) FromMilestonesYAML(doc MilestonesYAML, classifier *economy.Classifier) (*milestone.Catalog, error) {
	var thresholds []milestone.Threshold
	for _, my := range doc.Milestones {
		t, err := parseThreshold(my)
		if err != nil {
			return nil, fmt.Errorf("milestone %q: %w", my.ID, err)
		}
		thresholds = append(thresholds, t)
	}
	if doc.TierMilestones {
		if classifier == nil {
			classifier = economy.DefaultClassifier()
		}
		thresholds = append(thresholds, milestone.TierThresholds(classifier)...)
	}
	return milestone.NewCatalog(thresholds)
}

// ParseTiers parses a tier tables document into a classifier.
func (f *CatalogFactory) ParseTiers(data []byte) (*economy.Classifier, error) {
	var doc TiersYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid tiers YAML: %w", err)
	}

	eco := make([]economy.EconomicBand, 0, len(doc.Economic))
	for _, b := range doc.Economic {
		tier, err := economy.ParseEconomicTier(b.Tier)
		if err != nil {
			return nil, err
		}
		eco = append(eco, economy.EconomicBand{
			Tier:            tier,
			MinGDPPerCapita: b.MinGDPPerCapita,
			GrowthCap:       b.GrowthCap,
			Damping:         b.Damping,
		})
	}
	pop := make([]economy.PopulationBand, 0, len(doc.Population))
	for _, b := range doc.Population {
		tier, err := economy.ParsePopulationTier(b.Tier)
		if err != nil {
			return nil, err
		}
		pop = append(pop, economy.PopulationBand{Tier: tier, MinPopulation: b.MinPopulation})
	}
	return economy.NewClassifier(eco, pop)
}

// ToYAML renders an achievement catalog back into its document form.
func (f *CatalogFactory) ToYAML(catalog *achievement.Catalog) ([]byte, error) {
	doc := AchievementsYAML{}
	for _, def := range catalog.All() {
		doc.Achievements = append(doc.Achievements, AchievementYAML{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Category:    string(def.Category),
			Rarity:      string(def.Rarity),
			Points:      def.Points,
			Condition:   conditionToYAML(def.Condition),
		})
	}
	return yaml.Marshal(doc)
}

// =============================================================================
// LOADING
// =============================================================================

// Paths overrides the embedded documents. Empty fields use the defaults.
type Paths struct {
	Tiers        string
	Milestones   string
	Achievements string
}

// Catalogs is everything the engine needs from static configuration.
type Catalogs struct {
	Classifier   *economy.Classifier
	Milestones   *milestone.Catalog
	Achievements *achievement.Catalog
}

// Load reads and validates all three documents.
func Load(paths Paths) (*Catalogs, error) {
	f := NewCatalogFactory()

	data, err := readDocument(paths.Tiers, "catalog/tiers.yaml")
	if err != nil {
		return nil, err
	}
	classifier, err := f.ParseTiers(data)
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}

	data, err = readDocument(paths.Milestones, "catalog/milestones.yaml")
	if err != nil {
		return nil, err
	}
	milestones, err := f.ParseMilestones(data, classifier)
	if err != nil {
		return nil, fmt.Errorf("milestones: %w", err)
	}

	data, err = readDocument(paths.Achievements, "catalog/achievements.yaml")
	if err != nil {
		return nil, err
	}
	achievements, err := f.ParseAchievements(data)
	if err != nil {
		return nil, fmt.Errorf("achievements: %w", err)
	}

	return &Catalogs{Classifier: classifier, Milestones: milestones, Achievements: achievements}, nil
}

// MustLoadDefaults loads the embedded documents. They are validated by tests,
// so a failure here is a build defect.
func MustLoadDefaults() *Catalogs {
	c, err := Load(Paths{})
	if err != nil {
		panic(err)
	}
	return c
}

func readDocument(path, embedded string) ([]byte, error) {
	if path == "" {
		return defaults.ReadFile(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return data, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func parseCondition(cy ConditionYAML) (achievement.Condition, error) {
	cond := achievement.Condition{
		Kind:      achievement.ConditionKind(cy.Kind),
		Metric:    cy.Metric,
		Counter:   cy.Counter,
		Attribute: cy.Attribute,
		Op:        achievement.Operator(cy.Op),
		Values:    cy.Values,
	}
	if cy.Value != "" {
		v, err := parseDecimal("value", cy.Value)
		if err != nil {
			return achievement.Condition{}, err
		}
		cond.Value = v
	}
	for _, child := range cy.Conditions {
		c, err := parseCondition(child)
		if err != nil {
			return achievement.Condition{}, err
		}
		cond.Conditions = append(cond.Conditions, c)
	}
	return cond, nil
}

func conditionToYAML(c achievement.Condition) ConditionYAML {
	cy := ConditionYAML{
		Kind:      string(c.Kind),
		Metric:    c.Metric,
		Counter:   c.Counter,
		Attribute: c.Attribute,
		Op:        string(c.Op),
		Values:    c.Values,
	}
	if c.Kind == achievement.ConditionThreshold || c.Kind == achievement.ConditionCount {
		cy.Value = c.Value.String()
	}
	for _, child := range c.Conditions {
		cy.Conditions = append(cy.Conditions, conditionToYAML(child))
	}
	return cy
}

func parseThreshold(my MilestoneYAML) (milestone.Threshold, error) {
	t := milestone.Threshold{
		ID:          my.ID,
		Kind:        milestone.Kind(my.Kind),
		Label:       my.Label,
		Dimension:   milestone.Dimension(my.Dimension),
		Tier:        my.Tier,
		FireOnFirst: my.FireOnFirst,
	}
	if my.Value != "" {
		v, err := parseDecimal("value", my.Value)
		if err != nil {
			return milestone.Threshold{}, err
		}
		t.Value = v
	}
	if my.Upper != "" {
		v, err := parseDecimal("upper", my.Upper)
		if err != nil {
			return milestone.Threshold{}, err
		}
		t.Upper = decimal.NewNullDecimal(v)
	}
	return t, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &economy.InvalidInputError{Field: field, Reason: fmt.Sprintf("not a number: %q", s)}
	}
	return d, nil
}

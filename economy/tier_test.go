package economy_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nation-engine/economy"
)

func TestClassify_ValueOnBreakpoint_BelongsToHigherTier(t *testing.T) {
	c := economy.DefaultClassifier()

	tests := []struct {
		gdp  float64
		want economy.EconomicTier
	}{
		{0, economy.TierImpoverished},
		{9_999.99, economy.TierImpoverished},
		{10_000, economy.TierDeveloping},
		{24_999.999, economy.TierDeveloping},
		{25_000, economy.TierDeveloped},
		{65_000, economy.TierExtravagant},
		{1e9, economy.TierExtravagant},
	}
	for _, tt := range tests {
		cls, err := c.ClassifyValues(1, tt.gdp)
		require.NoError(t, err)
		assert.Equal(t, tt.want, cls.EconomicTier, "gdp/capita %v", tt.gdp)
	}
}

func TestClassify_PopulationBands(t *testing.T) {
	c := economy.DefaultClassifier()

	tests := []struct {
		pop  int64
		want economy.PopulationTier
	}{
		{0, economy.TierMicro},
		{999_999, economy.TierMicro},
		{1_000_000, economy.TierSmall},
		{10_000_000, economy.TierMedium},
		{499_999_999, economy.TierMassive},
		{500_000_000, economy.TierColossal},
	}
	for _, tt := range tests {
		cls, err := c.ClassifyValues(tt.pop, 1)
		require.NoError(t, err)
		assert.Equal(t, tt.want, cls.PopulationTier, "population %d", tt.pop)
	}
}

func TestClassify_GrowthCapFromEconomicTier(t *testing.T) {
	c := economy.DefaultClassifier()

	cls, err := c.ClassifyValues(1, 45_000)
	require.NoError(t, err)
	assert.Equal(t, economy.TierStrong, cls.EconomicTier)
	assert.Equal(t, 0.0275, cls.GrowthCap)

	assert.Equal(t, 0.02, cls.AdjustGrowth(0.02))
	assert.InDelta(t, 0.0275+(0.05-0.0275)*0.25, cls.AdjustGrowth(0.05), 1e-12)
}

func TestClassify_OutOfRange_Rejected(t *testing.T) {
	c := economy.DefaultClassifier()

	_, err := c.ClassifyValues(-1, 100)
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = c.ClassifyValues(1, -0.01)
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

func TestNewClassifier_RejectsUnorderedTables(t *testing.T) {
	_, err := economy.NewClassifier([]economy.EconomicBand{
		{Tier: economy.TierImpoverished, MinGDPPerCapita: 0, GrowthCap: 0.1, Damping: 0.5},
		{Tier: economy.TierDeveloping, MinGDPPerCapita: 0, GrowthCap: 0.1, Damping: 0.5},
	}, economy.DefaultPopulationBands)
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = economy.NewClassifier(economy.DefaultEconomicBands, []economy.PopulationBand{
		{Tier: economy.TierSmall, MinPopulation: 10},
	})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

func TestTierLabels_TextRoundTrip(t *testing.T) {
	b, err := json.Marshal(struct {
		E economy.EconomicTier
		P economy.PopulationTier
	}{economy.TierVeryStrong, economy.TierLarge})
	require.NoError(t, err)
	assert.JSONEq(t, `{"E":"very_strong","P":"large"}`, string(b))

	tier, err := economy.ParseEconomicTier("healthy")
	require.NoError(t, err)
	assert.Equal(t, economy.TierHealthy, tier)

	_, err = economy.ParsePopulationTier("gigantic")
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

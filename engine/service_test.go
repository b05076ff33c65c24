package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/engine"
	"github.com/warp/nation-engine/milestone"
	"github.com/warp/nation-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var anchor = economy.NewSimTime(2040, time.January, 1)

type harness struct {
	svc     *engine.Service
	store   *memory.Memory
	emitter *activity.Emitter
	clock   *economy.Clock
}

// flakyMilestones fails every milestone write.
type flakyMilestones struct {
	*memory.Memory
}

func (flakyMilestones) RecordMilestone(context.Context, milestone.Event) error {
	return errors.New("database is locked")
}

func newHarness(t *testing.T, wrap func(*memory.Memory) engine.Store) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := memory.New()

	thresholds := append(milestone.TierThresholds(economy.DefaultClassifier()),
		milestone.Threshold{ID: "pop-10m5", Kind: milestone.KindPopulationThreshold, Value: decimal.NewFromInt(10_500_000)},
		milestone.Threshold{ID: "pop-25m", Kind: milestone.KindPopulationThreshold, Value: decimal.NewFromInt(25_000_000)},
		milestone.Threshold{ID: "gdp-250b", Kind: milestone.KindEconomicThreshold, Value: decimal.NewFromInt(250_000_000_000)},
	)
	milestones, err := milestone.NewCatalog(thresholds)
	require.NoError(t, err)

	achievements, err := achievement.NewCatalog([]achievement.Definition{{
		ID: "quarter-trillion", Category: achievement.CategoryEconomic, Rarity: achievement.RarityRare, Points: 50,
		Condition: achievement.Condition{
			Kind: achievement.ConditionThreshold, Metric: achievement.MetricTotalGDP,
			Op: achievement.OpGTE, Value: decimal.NewFromInt(250_000_000_000),
		},
	}})
	require.NoError(t, err)

	emitter := activity.NewEmitter(store, dispatch.Options{Log: log})
	t.Cleanup(func() { emitter.Shutdown(time.Second) })

	var backing engine.Store = store
	if wrap != nil {
		backing = wrap(store)
	}

	clock := economy.FixedClock(anchor)
	svc, err := engine.NewService(engine.Options{
		Store:    backing,
		Detector: milestone.NewDetector(milestones),
		Clock:    clock,
		Achievements: &achievement.Engine{
			Catalog:  achievements,
			Store:    store,
			States:   engine.NewStateReader(store),
			Counters: store,
			Notifier: emitter,
			Log:      log,
		},
		Notifier: emitter,
		Accounts: store,
		Log:      log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(time.Second) })

	return &harness{svc: svc, store: store, emitter: emitter, clock: clock}
}

// createRuritania: 10M people, 20,000/capita, 3% real growth, 2% population growth.
func (h *harness) createRuritania(t *testing.T) *engine.Result {
	t.Helper()
	res, err := h.svc.CreateCountry(context.Background(), engine.NewCountry{
		ID:      "ruritania",
		Name:    "Ruritania",
		OwnerID: "owner-1",
		Baseline: economy.BaselineSnapshot{
			AnchorTime:   anchor,
			Population:   10_000_000,
			GDPPerCapita: decimal.NewFromInt(20_000),
		},
		Indicators: economy.EconomicIndicators{RealGrowthRate: 0.03, PopulationGrowthRate: 0.02},
	})
	require.NoError(t, err)
	return res
}

func at(years float64) *economy.SimTime {
	t := anchor.AddSimYears(years)
	return &t
}

func thresholdIDs(events []milestone.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ThresholdID)
	}
	return out
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestCreateCountry_FirstRecalculation_CachesAnchorState(t *testing.T) {
	h := newHarness(t, nil)
	res := h.createRuritania(t)

	assert.Empty(t, res.Milestones, "no edge exists on the first projection")
	assert.Equal(t, int64(10_000_000), res.State.Population)

	country, err := h.svc.Country(context.Background(), "ruritania")
	require.NoError(t, err)
	require.NotNil(t, country.Current)
	assert.True(t, country.Current.AsOf.Equal(anchor))
}

func TestCreateCountry_RegistersOwnerAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)

	counters, err := h.store.Counters(context.Background(), "owner-1", "ruritania")
	require.NoError(t, err)
	assert.Contains(t, counters, achievement.CounterAccountAgeDays)
}

// brokenAccounts fails every registration.
type brokenAccounts struct{}

func (brokenAccounts) RegisterAccount(context.Context, economy.UserID, time.Time) error {
	return errors.New("accounts table unavailable")
}

func TestCreateCountry_AccountRegistrationFails_CountryStillCreated(t *testing.T) {
	log, hook := test.NewNullLogger()
	milestones, err := milestone.NewCatalog(nil)
	require.NoError(t, err)

	svc, err := engine.NewService(engine.Options{
		Store:    memory.New(),
		Detector: milestone.NewDetector(milestones),
		Clock:    economy.FixedClock(anchor),
		Accounts: brokenAccounts{},
		Log:      log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(time.Second) })

	_, err = svc.CreateCountry(context.Background(), engine.NewCountry{
		ID:       "ruritania",
		OwnerID:  "owner-1",
		Baseline: economy.BaselineSnapshot{AnchorTime: anchor, Population: 1_000, GDPPerCapita: decimal.NewFromInt(5_000)},
	})
	require.NoError(t, err)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "owner account not registered" {
			warned = true
			assert.Equal(t, economy.UserID("owner-1"), e.Data["user_id"])
		}
	}
	assert.True(t, warned, "registration failure is logged")
}

func TestCreateCountry_Duplicate_Conflict(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)

	_, err := h.svc.CreateCountry(context.Background(), engine.NewCountry{
		ID:       "ruritania",
		Baseline: economy.BaselineSnapshot{AnchorTime: anchor, Population: 1, GDPPerCapita: decimal.NewFromInt(1)},
	})
	assert.True(t, economy.IsConflict(err))
}

func TestRecalculate_PopulationMilestone_RaisedOnce(t *testing.T) {
	// GIVEN: 10M people growing 2%/year
	// WHEN: recalculating at +12 years, then +13 years
	// THEN: 10.5M is raised once, 25M never

	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	res, err := h.svc.Recalculate(ctx, "ruritania", at(12))
	require.NoError(t, err)
	assert.InEpsilon(t, 12_682_418, float64(res.State.Population), 1e-6)
	assert.Contains(t, thresholdIDs(res.Milestones), "pop-10m5")
	assert.NotContains(t, thresholdIDs(res.Milestones), "pop-25m")

	again, err := h.svc.Recalculate(ctx, "ruritania", at(13))
	require.NoError(t, err)
	assert.NotContains(t, thresholdIDs(again.Milestones), "pop-10m5")

	recorded, err := h.svc.Milestones(ctx, "ruritania")
	require.NoError(t, err)
	count := 0
	for _, ev := range recorded {
		if ev.ThresholdID == "pop-10m5" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRecalculate_EmitsFeedAndEvaluatesOwnerAchievements(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	// 12.68M * ~28.5k/capita > 250B
	res, err := h.svc.Recalculate(ctx, "ruritania", at(12))
	require.NoError(t, err)
	require.Contains(t, thresholdIDs(res.Milestones), "gdp-250b")

	h.svc.WaitIdle()
	h.emitter.Wait()

	unlocks, err := h.store.ListUnlocks(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "quarter-trillion", unlocks[0].AchievementID)

	feed, err := h.store.ListActivity(ctx, activity.Filter{UserID: "owner-1"})
	require.NoError(t, err)
	kinds := map[activity.Kind]int{}
	for _, r := range feed {
		kinds[r.Kind]++
	}
	assert.Equal(t, len(res.Milestones), kinds[activity.KindMilestoneReached])
	assert.Equal(t, 1, kinds[activity.KindAchievementUnlocked])
}

func TestRecalculate_TargetBeforeAnchor_Surfaced(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)

	before := anchor.AddDays(-1)
	_, err := h.svc.Recalculate(context.Background(), "ruritania", &before)
	assert.ErrorIs(t, err, economy.ErrInvalidTime)

	country, err := h.svc.Country(context.Background(), "ruritania")
	require.NoError(t, err)
	assert.True(t, country.Current.AsOf.Equal(anchor), "failed recalculation must not touch the cache")
}

func TestRecalculate_UnknownCountry(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Recalculate(context.Background(), "atlantis", nil)
	assert.ErrorIs(t, err, economy.ErrUnknownCountry)
	assert.True(t, economy.IsNotFound(err))
}

func TestRecalculate_MilestoneStoreDown_RecalculationSucceeds(t *testing.T) {
	h := newHarness(t, func(m *memory.Memory) engine.Store { return flakyMilestones{m} })
	h.createRuritania(t)

	res, err := h.svc.Recalculate(context.Background(), "ruritania", at(12))
	require.NoError(t, err)
	assert.Empty(t, res.Milestones)

	country, err := h.svc.Country(context.Background(), "ruritania")
	require.NoError(t, err)
	assert.Equal(t, res.State.Population, country.Current.Population)
}

func TestRecalculate_DefaultsToSimulatedNow(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)

	now := anchor.AddYears(3)
	h.clock.SimEpoch = now

	res, err := h.svc.Recalculate(context.Background(), "ruritania", nil)
	require.NoError(t, err)
	assert.True(t, res.State.AsOf.Equal(now))
}

func TestRecalculate_ConcurrentSameCountry_CacheStaysWhole(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(years float64) {
			defer wg.Done()
			_, err := h.svc.Recalculate(ctx, "ruritania", at(years))
			assert.NoError(t, err)
		}(float64(10 + i))
	}
	wg.Wait()

	country, err := h.svc.Country(ctx, "ruritania")
	require.NoError(t, err)

	// whatever write won, the cached state must equal a projection at its own AsOf
	expected, err := h.svc.Project(ctx, "ruritania", country.Current.AsOf)
	require.NoError(t, err)
	assert.Equal(t, expected.Population, country.Current.Population)
	assert.True(t, expected.TotalGDP.Equal(country.Current.TotalGDP))

	recorded, err := h.svc.Milestones(ctx, "ruritania")
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, ev := range recorded {
		assert.False(t, seen[ev.ThresholdID], "threshold %s recorded twice", ev.ThresholdID)
		seen[ev.ThresholdID] = true
	}
}

// =============================================================================
// BATCH, PROJECTION, INDICATORS
// =============================================================================

func TestRecalculateAll(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	_, err := h.svc.CreateCountry(context.Background(), engine.NewCountry{
		ID: "freedonia", OwnerID: "owner-2",
		Baseline:   economy.BaselineSnapshot{AnchorTime: anchor, Population: 600_000, GDPPerCapita: decimal.NewFromInt(8_000)},
		Indicators: economy.EconomicIndicators{RealGrowthRate: 0.05},
	})
	require.NoError(t, err)

	h.clock.SimEpoch = anchor.AddYears(5)
	batch, err := h.svc.RecalculateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Recalculated)
	assert.Empty(t, batch.Failed)

	countries, err := h.svc.Countries(context.Background())
	require.NoError(t, err)
	for _, c := range countries {
		assert.True(t, c.Current.AsOf.Equal(anchor.AddYears(5)), c.ID)
	}
}

func TestProject_ReadOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	first, err := h.svc.Project(ctx, "ruritania", *at(40))
	require.NoError(t, err)
	second, err := h.svc.Project(ctx, "ruritania", *at(40))
	require.NoError(t, err)
	assert.Equal(t, first.Population, second.Population)

	country, err := h.svc.Country(ctx, "ruritania")
	require.NoError(t, err)
	assert.True(t, country.Current.AsOf.Equal(anchor), "projection must not persist")

	recorded, err := h.svc.Milestones(ctx, "ruritania")
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestUpdateIndicators_NewVersionChangesLaterProjections(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	before, err := h.svc.Project(ctx, "ruritania", *at(10))
	require.NoError(t, err)

	_, err = h.svc.UpdateIndicators(ctx, "ruritania", economy.EconomicIndicators{
		EffectiveFrom:        *at(5),
		RealGrowthRate:       0.03,
		PopulationGrowthRate: 0,
	})
	require.NoError(t, err)

	after, err := h.svc.Project(ctx, "ruritania", *at(10))
	require.NoError(t, err)
	assert.InEpsilon(t, 10_000_000*1.104080803, float64(after.Population), 1e-6)
	assert.Less(t, after.Population, before.Population)

	early, err := h.svc.Project(ctx, "ruritania", *at(4))
	require.NoError(t, err)
	assert.InEpsilon(t, 10_000_000*1.08243216, float64(early.Population), 1e-6, "earlier targets keep the old version")
}

func TestUpdateIndicators_RejectsRewritingHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.createRuritania(t)
	ctx := context.Background()

	_, err := h.svc.UpdateIndicators(ctx, "ruritania", economy.EconomicIndicators{EffectiveFrom: *at(5)})
	require.NoError(t, err)

	_, err = h.svc.UpdateIndicators(ctx, "ruritania", economy.EconomicIndicators{EffectiveFrom: *at(3)})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = h.svc.UpdateIndicators(ctx, "ruritania", economy.EconomicIndicators{EffectiveFrom: anchor.AddDays(-1)})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = h.svc.UpdateIndicators(ctx, "ruritania", economy.EconomicIndicators{EffectiveFrom: *at(6), RealGrowthRate: -1.5})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

package achievement_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixedState struct {
	state *economy.ProjectedState
	err   error
}

func (f fixedState) CurrentState(context.Context, economy.CountryID) (*economy.ProjectedState, *economy.EconomicIndicators, error) {
	return f.state, &economy.EconomicIndicators{}, f.err
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) AchievementUnlocked(_ achievement.Unlock, def achievement.Definition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, def.ID)
}

func testCatalog(t *testing.T) *achievement.Catalog {
	t.Helper()
	catalog, err := achievement.NewCatalog([]achievement.Definition{
		{ID: "trillion-club", Category: achievement.CategoryEconomic, Rarity: achievement.RarityEpic, Points: 100, Condition: gdpAtLeast("1000000000000")},
		{ID: "first-billion", Category: achievement.CategoryEconomic, Rarity: achievement.RarityCommon, Points: 10, Condition: gdpAtLeast("1000000000")},
		{ID: "ambassador", Category: achievement.CategoryDiplomatic, Rarity: achievement.RarityUncommon, Points: 25, Condition: countAtLeast(achievement.CounterEmbassies, 3)},
		{ID: "chatterbox", Category: achievement.CategorySocial, Rarity: achievement.RarityCommon, Points: 5, Condition: countAtLeast(achievement.CounterPosts, 10)},
		{ID: "opulence", Category: achievement.CategorySpecial, Rarity: achievement.RarityLegendary, Points: 250, Condition: tierIs("extravagant")},
		{ID: "founder", Category: achievement.CategorySpecial, Rarity: achievement.RarityRare, Points: 50, Condition: achievement.Condition{Kind: achievement.ConditionAll}},
	})
	require.NoError(t, err)
	return catalog
}

func newTestEngine(t *testing.T, state *economy.ProjectedState) (*achievement.Engine, *memory.Memory) {
	t.Helper()
	store := memory.New()
	log, _ := test.NewNullLogger()
	return &achievement.Engine{
		Catalog:  testCatalog(t),
		Store:    store,
		States:   fixedState{state: state},
		Counters: store,
		Log:      log,
	}, store
}

func unlockIDs(unlocks []achievement.Unlock) []string {
	out := make([]string, 0, len(unlocks))
	for _, u := range unlocks {
		out = append(out, u.AchievementID)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// EVALUATE
// =============================================================================

func TestEvaluate_UnlocksHoldingConditions(t *testing.T) {
	engine, store := newTestEngine(t, stateWithGDP("1000000000000"))
	ctx := context.Background()
	for _, partner := range []string{"a", "b", "c"} {
		require.NoError(t, store.AddEmbassy(ctx, "ruritania", partner))
	}

	got := engine.Evaluate(ctx, "user-1", "ruritania", nil)

	assert.Equal(t, []string{"ambassador", "first-billion", "founder", "opulence", "trillion-club"}, unlockIDs(got))
	for _, u := range got {
		assert.Equal(t, economy.UserID("user-1"), u.UserID)
		assert.Equal(t, economy.CountryID("ruritania"), u.CountryID)
		assert.False(t, u.Manual)
	}
}

func TestEvaluate_SecondPass_UnlocksNothing(t *testing.T) {
	engine, _ := newTestEngine(t, stateWithGDP("5000000000"))
	ctx := context.Background()

	first := engine.Evaluate(ctx, "user-1", "ruritania", nil)
	require.NotEmpty(t, first)

	assert.Empty(t, engine.Evaluate(ctx, "user-1", "ruritania", nil))
}

func TestEvaluate_StateUnavailable_EmptyNotError(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	engine.States = fixedState{err: errors.New("database is locked")}

	assert.Empty(t, engine.Evaluate(context.Background(), "user-1", "ruritania", nil))
}

func TestEvaluate_NotifiesEachNewUnlock(t *testing.T) {
	engine, _ := newTestEngine(t, stateWithGDP("5000000000"))
	n := &recordingNotifier{}
	engine.Notifier = n

	got := engine.Evaluate(context.Background(), "user-1", "ruritania", nil)
	engine.Evaluate(context.Background(), "user-1", "ruritania", nil)

	assert.Len(t, n.ids, len(got))
}

func TestEvaluate_CategoryUnion_EqualsFullEvaluation(t *testing.T) {
	// GIVEN: two users with identical starting state
	// WHEN: one is evaluated per category, the other all at once
	// THEN: the unlock sets are identical

	engine, store := newTestEngine(t, stateWithGDP("2000000000000"))
	ctx := context.Background()
	for _, partner := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.AddEmbassy(ctx, "ruritania", partner))
	}

	var perCategory []achievement.Unlock
	for _, c := range achievement.Categories {
		c := c
		perCategory = append(perCategory, engine.Evaluate(ctx, "split", "ruritania", &c)...)
	}
	all := engine.Evaluate(ctx, "whole", "ruritania", nil)

	assert.Equal(t, unlockIDs(all), unlockIDs(perCategory))
}

func TestEvaluate_ConcurrentCallers_UnlockAtMostOnce(t *testing.T) {
	engine, store := newTestEngine(t, stateWithGDP("1000000000000"))
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	results := make([][]achievement.Unlock, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = engine.Evaluate(ctx, "user-1", "ruritania", nil)
				return
			}
			if res, err := engine.UnlockSpecific(ctx, "user-1", "trillion-club"); err == nil && !res.AlreadyUnlocked {
				results[i] = []achievement.Unlock{res.Unlock}
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		for _, u := range r {
			if u.AchievementID == "trillion-club" {
				winners++
			}
		}
	}
	assert.Equal(t, 1, winners, "exactly one caller wins the unlock")

	stored, err := store.ListUnlocks(ctx, "user-1")
	require.NoError(t, err)
	count := 0
	for _, u := range stored {
		if u.AchievementID == "trillion-club" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// =============================================================================
// UNLOCK SPECIFIC
// =============================================================================

func TestUnlockSpecific(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := engine.UnlockSpecific(ctx, "user-1", "chatterbox")
	require.NoError(t, err)
	assert.False(t, res.AlreadyUnlocked)
	assert.True(t, res.Unlock.Manual)

	again, err := engine.UnlockSpecific(ctx, "user-1", "chatterbox")
	require.NoError(t, err)
	assert.True(t, again.AlreadyUnlocked)
	assert.Equal(t, res.Unlock.ID, again.Unlock.ID)

	_, err = engine.UnlockSpecific(ctx, "user-1", "does-not-exist")
	assert.ErrorIs(t, err, economy.ErrUnknownAchievement)
	assert.True(t, economy.IsNotFound(err))
}

// =============================================================================
// PROGRESS
// =============================================================================

func TestGetProgress(t *testing.T) {
	engine, _ := newTestEngine(t, stateWithGDP("5000000000"))
	ctx := context.Background()

	engine.Evaluate(ctx, "user-1", "ruritania", nil) // first-billion, founder, opulence
	_, err := engine.UnlockSpecific(ctx, "user-1", "chatterbox")
	require.NoError(t, err)

	p, err := engine.GetProgress(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 4, p.TotalUnlocked)
	assert.Equal(t, 10+50+250+5, p.TotalPoints)
	assert.Equal(t, 6, p.Available)
	assert.Equal(t, 440, p.PossiblePoints)
	assert.Equal(t, achievement.CategoryProgress{Unlocked: 1, Total: 2, Points: 10}, p.ByCategory[achievement.CategoryEconomic])
	assert.Equal(t, achievement.CategoryProgress{Unlocked: 2, Total: 2, Points: 300}, p.ByCategory[achievement.CategorySpecial])
	assert.Equal(t, achievement.CategoryProgress{Unlocked: 0, Total: 1, Points: 0}, p.ByCategory[achievement.CategoryDiplomatic])
}

func TestNewCatalog_Rejects(t *testing.T) {
	_, err := achievement.NewCatalog([]achievement.Definition{
		{ID: "x", Category: achievement.CategoryEconomic, Rarity: achievement.RarityCommon, Condition: gdpAtLeast("1")},
		{ID: "x", Category: achievement.CategoryEconomic, Rarity: achievement.RarityCommon, Condition: gdpAtLeast("1")},
	})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = achievement.NewCatalog([]achievement.Definition{
		{ID: "y", Category: "culinary", Rarity: achievement.RarityCommon, Condition: gdpAtLeast("1")},
	})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)

	_, err = achievement.NewCatalog([]achievement.Definition{
		{ID: "z", Category: achievement.CategorySpecial, Rarity: "mythic", Condition: gdpAtLeast("1")},
	})
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

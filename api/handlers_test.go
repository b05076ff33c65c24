package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/engine"
	"github.com/warp/nation-engine/factory"
	"github.com/warp/nation-engine/milestone"
	"github.com/warp/nation-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var simNow = economy.NewSimTime(2040, time.January, 1)

type testServer struct {
	handler *Handler
	router  *chi.Mux
	store   *sqlite.Store
}

func setupTestHandler(t *testing.T) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalogs := factory.MustLoadDefaults()
	emitter := activity.NewEmitter(store, dispatch.Options{Log: log})
	t.Cleanup(func() { emitter.Shutdown(time.Second) })

	svc, err := engine.NewService(engine.Options{
		Store:      store,
		Calculator: economy.NewCalculator(catalogs.Classifier),
		Detector:   milestone.NewDetector(catalogs.Milestones),
		Clock:      economy.FixedClock(simNow),
		Achievements: &achievement.Engine{
			Catalog:  catalogs.Achievements,
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

	h := NewHandler(svc, store, emitter, catalogs, store, log)
	return &testServer{handler: h, router: NewRouter(h, nil), store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// settle waits for queued evaluations and feed writes.
func (s *testServer) settle() {
	s.handler.Service.WaitIdle()
	s.handler.Emitter.Wait()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ruritania: 10M people at $8,000 growing 6% a year. Total GDP 80B.
func ruritania() CreateCountryRequest {
	return CreateCountryRequest{
		ID:           "ruritania",
		Name:         "Ruritania",
		OwnerID:      "player-1",
		Population:   10_000_000,
		GDPPerCapita: "8000",
		Indicators: IndicatorsDTO{
			RealGrowthRate:       0.06,
			PopulationGrowthRate: 0.015,
			InflationRate:        0.02,
		},
	}
}

func thresholdIDs(events []milestone.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ThresholdID)
	}
	return out
}

// =============================================================================
// COUNTRIES
// =============================================================================

func TestCreateCountry_ThenGet(t *testing.T) {
	// GIVEN: A valid create request without anchor time
	// WHEN: Creating and then fetching the country
	// THEN: The anchor defaults to simulated now and the state is cached

	s := setupTestHandler(t)

	rec := s.do(t, http.MethodPost, "/api/countries", ruritania())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[RecalculateResponse](t, rec)
	assert.Equal(t, int64(10_000_000), created.State.Population)
	assert.Equal(t, "impoverished", created.State.EconomicTier)
	assert.Equal(t, "medium", created.State.PopulationTier)
	assert.True(t, created.State.TotalGDP.Equal(decimal.NewFromInt(80_000_000_000)), created.State.TotalGDP.String())

	rec = s.do(t, http.MethodGet, "/api/countries/ruritania", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	country := decode[CountryDTO](t, rec)
	assert.Equal(t, "player-1", country.OwnerID)
	assert.Equal(t, simNow.String(), country.Baseline.AnchorTime)
	require.NotNil(t, country.Current)
	assert.Equal(t, simNow.String(), country.Current.AsOf)

	rec = s.do(t, http.MethodGet, "/api/countries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]CountryDTO](t, rec), 1)
}

func TestCreateCountry_RegistersOwnerAccount(t *testing.T) {
	// GIVEN: A player who only ever used the API
	// WHEN: They create a country and a year of wall time passes
	// THEN: Their account age is counted and Veteran unlocks

	s := setupTestHandler(t)
	ctx := context.Background()

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)
	s.settle()

	counters, err := s.store.Counters(ctx, "player-1", "ruritania")
	require.NoError(t, err)
	assert.Contains(t, counters, achievement.CounterAccountAgeDays)

	s.store.SetClock(func() time.Time { return time.Now().AddDate(0, 0, 366) })

	rec := s.do(t, http.MethodPost, "/api/users/player-1/evaluate", EvaluateRequest{CountryID: "ruritania", Category: "special"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, unlockedIDs(t, s, "player-1"), "veteran")
}

func TestAddPost_RegistersPosterAccount(t *testing.T) {
	s := setupTestHandler(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPost, "/api/users/writer/posts", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	counters, err := s.store.Counters(ctx, "writer", "")
	require.NoError(t, err)
	assert.Contains(t, counters, achievement.CounterAccountAgeDays)
	assert.Equal(t, int64(1), counters[achievement.CounterPosts])
}

func TestCreateCountry_Errors(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	zeroPop := ruritania()
	zeroPop.ID = "atlantis"
	zeroPop.Population = 0

	badGDP := ruritania()
	badGDP.ID = "atlantis"
	badGDP.GDPPerCapita = "lots"

	badRate := ruritania()
	badRate.ID = "atlantis"
	badRate.Indicators.RealGrowthRate = -1.5

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate id", ruritania(), http.StatusConflict, "conflict"},
		{"zero population", zeroPop, http.StatusBadRequest, "invalid_input"},
		{"unparseable gdp", badGDP, http.StatusBadRequest, ""},
		{"growth below -100%", badRate, http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/countries", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	// the failed duplicate left a single indicator version behind
	rec := s.do(t, http.MethodGet, "/api/countries/ruritania/indicators", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]IndicatorsDTO](t, rec), 1)
}

func TestGetCountry_Unknown(t *testing.T) {
	s := setupTestHandler(t)

	for _, path := range []string{
		"/api/countries/atlantis",
		"/api/countries/atlantis/indicators",
		"/api/countries/atlantis/projection",
	} {
		rec := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "unknown_country", decode[ErrorResponse](t, rec).Code, path)
	}

	rec := s.do(t, http.MethodPost, "/api/countries/atlantis/recalculate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PROJECTION & RECALCULATION
// =============================================================================

func TestProjection_IsReadOnly(t *testing.T) {
	// GIVEN: A country cached at its anchor
	// WHEN: Projecting three years ahead
	// THEN: The state grows but the cached state and milestones are unchanged

	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodGet, "/api/countries/ruritania/projection?at=2043-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[StateDTO](t, rec)
	assert.Greater(t, state.Population, int64(10_000_000))
	assert.True(t, state.GDPPerCapita.GreaterThan(decimal.NewFromInt(8_000)))

	country := decode[CountryDTO](t, s.do(t, http.MethodGet, "/api/countries/ruritania", nil))
	assert.Equal(t, simNow.String(), country.Current.AsOf)
	assert.Empty(t, decode[[]milestone.Event](t, s.do(t, http.MethodGet, "/api/countries/ruritania/milestones", nil)))
}

func TestProjection_BeforeAnchor(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodGet, "/api/countries/ruritania/projection?at=2039-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/countries/ruritania/projection?at=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecalculate_RaisesMilestonesOnce(t *testing.T) {
	// GIVEN: Ruritania at 80B total GDP
	// WHEN: Recalculating five years ahead, then six
	// THEN: The 100B threshold and the developing tier fire once, then never again

	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/countries/ruritania/recalculate", RecalculateRequest{At: "2045-01-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[RecalculateResponse](t, rec)
	assert.Contains(t, thresholdIDs(first.Milestones), "gdp-100b")
	assert.Contains(t, thresholdIDs(first.Milestones), "tier-economic-developing")
	assert.Equal(t, "developing", first.State.EconomicTier)

	rec = s.do(t, http.MethodPost, "/api/countries/ruritania/recalculate", RecalculateRequest{At: "2046-01-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[RecalculateResponse](t, rec)
	assert.NotContains(t, thresholdIDs(second.Milestones), "gdp-100b")
	assert.NotNil(t, second.Milestones)

	recorded := decode[[]milestone.Event](t, s.do(t, http.MethodGet, "/api/countries/ruritania/milestones", nil))
	assert.Len(t, recorded, len(first.Milestones)+len(second.Milestones))

	// feed carries the milestones for the country
	s.settle()
	feed := decode[FeedResponse](t, s.do(t, http.MethodGet, "/api/countries/ruritania/feed", nil))
	var kinds []activity.Kind
	for _, r := range feed.Records {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, activity.KindMilestoneReached)
}

func TestAppendIndicators(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/countries/ruritania/indicators", IndicatorsDTO{
		EffectiveFrom:  "2041-01-01",
		RealGrowthRate: 0.02,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// versions may not go back in time
	rec = s.do(t, http.MethodPost, "/api/countries/ruritania/indicators", IndicatorsDTO{
		EffectiveFrom:  "2040-06-01",
		RealGrowthRate: 0.02,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history := decode[[]IndicatorsDTO](t, s.do(t, http.MethodGet, "/api/countries/ruritania/indicators", nil))
	require.Len(t, history, 2)
	assert.Equal(t, 0.06, history[0].RealGrowthRate)
	assert.Equal(t, 0.02, history[1].RealGrowthRate)
}

func TestRecalculateAll(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[engine.BatchResult](t, rec)
	assert.Equal(t, 1, res.Recalculated)
	assert.Empty(t, res.Failed)
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

func TestEvaluate_UnlocksOnce(t *testing.T) {
	// GIVEN: Ruritania with 10M people and 80B total GDP
	// WHEN: A spectator evaluates against it twice
	// THEN: The first call unlocks, the second finds nothing new

	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/users/spectator/evaluate", EvaluateRequest{CountryID: "ruritania"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ids []string
	for _, u := range decode[EvaluateResponse](t, rec).Unlocked {
		ids = append(ids, u.AchievementID)
	}
	assert.Contains(t, ids, "first-billion")
	assert.Contains(t, ids, "growing-nation")
	assert.NotContains(t, ids, "hundred-billion")

	rec = s.do(t, http.MethodPost, "/api/users/spectator/evaluate", EvaluateRequest{CountryID: "ruritania"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[EvaluateResponse](t, rec).Unlocked)

	progress := decode[achievement.Progress](t, s.do(t, http.MethodGet, "/api/users/spectator/progress", nil))
	assert.Equal(t, len(ids), progress.TotalUnlocked)
	assert.Equal(t, 20, progress.Available)

	unlocked := decode[[]achievement.Unlock](t, s.do(t, http.MethodGet, "/api/users/spectator/achievements", nil))
	assert.Len(t, unlocked, len(ids))
}

func TestEvaluate_Rejects(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/users/u/evaluate", EvaluateRequest{CountryID: "ruritania", Category: "culinary"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

}

func TestEvaluate_UnknownCountry_EmptyResult(t *testing.T) {
	// GIVEN: A user with enough posts for a social achievement
	// WHEN: Evaluating against a country that does not exist
	// THEN: The call succeeds with nothing unlocked

	s := setupTestHandler(t)
	require.NoError(t, s.store.AddPost(context.Background(), "u"))

	rec := s.do(t, http.MethodPost, "/api/users/u/evaluate", EvaluateRequest{CountryID: "atlantis"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[EvaluateResponse](t, rec).Unlocked)
	assert.Empty(t, unlockedIDs(t, s, "u"))
}

func TestUnlockAchievement_Idempotent(t *testing.T) {
	// GIVEN: The manual-only peacekeeper achievement
	// WHEN: Unlocking it twice
	// THEN: 201 then 200 with already_unlocked, never a conflict

	s := setupTestHandler(t)

	rec := s.do(t, http.MethodPost, "/api/users/player-1/achievements/peacekeeper/unlock", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[achievement.UnlockResult](t, rec)
	assert.False(t, first.AlreadyUnlocked)
	assert.True(t, first.Unlock.Manual)

	rec = s.do(t, http.MethodPost, "/api/users/player-1/achievements/peacekeeper/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[achievement.UnlockResult](t, rec)
	assert.True(t, second.AlreadyUnlocked)
	assert.Equal(t, first.Unlock.ID, second.Unlock.ID)

	rec = s.do(t, http.MethodPost, "/api/users/player-1/achievements/moon-landing/unlock", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_achievement", decode[ErrorResponse](t, rec).Code)
}

func TestAddEmbassy_UnlocksDiplomatic(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)
	s.settle()

	rec := s.do(t, http.MethodPost, "/api/countries/ruritania/embassies", map[string]string{"partner": "borealis"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unlocked := decode[EvaluateResponse](t, rec).Unlocked
	require.Len(t, unlocked, 1)
	assert.Equal(t, "first-embassy", unlocked[0].AchievementID)
	assert.Equal(t, economy.UserID("player-1"), unlocked[0].UserID)

	rec = s.do(t, http.MethodPost, "/api/countries/ruritania/embassies", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddPost_UnlocksSocial(t *testing.T) {
	s := setupTestHandler(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/countries", ruritania()).Code)

	rec := s.do(t, http.MethodPost, "/api/users/writer/posts", map[string]string{"country_id": "ruritania"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unlocked := decode[EvaluateResponse](t, rec).Unlocked
	require.Len(t, unlocked, 1)
	assert.Equal(t, "first-post", unlocked[0].AchievementID)

	s.settle()
	feed := decode[FeedResponse](t, s.do(t, http.MethodGet, "/api/users/writer/feed?limit=5", nil))
	require.NotEmpty(t, feed.Records)
	assert.Equal(t, activity.KindAchievementUnlocked, feed.Records[0].Kind)
	assert.Equal(t, "first-post", feed.Records[0].RefID)
}

// =============================================================================
// CATALOGS & SYSTEM
// =============================================================================

func TestListAchievements(t *testing.T) {
	s := setupTestHandler(t)

	all := decode[[]AchievementDTO](t, s.do(t, http.MethodGet, "/api/achievements", nil))
	assert.Len(t, all, 20)

	economic := decode[[]AchievementDTO](t, s.do(t, http.MethodGet, "/api/achievements?category=economic", nil))
	assert.Len(t, economic, 5)
	for _, a := range economic {
		assert.Equal(t, "economic", a.Category)
	}

	rec := s.do(t, http.MethodGet, "/api/achievements?category=culinary", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListThresholds(t *testing.T) {
	s := setupTestHandler(t)

	thresholds := decode[[]ThresholdDTO](t, s.do(t, http.MethodGet, "/api/milestones", nil))
	assert.Len(t, thresholds, 30)

	byID := map[string]ThresholdDTO{}
	for _, th := range thresholds {
		byID[th.ID] = th
	}
	assert.Equal(t, "0.08", byID["growth-boom"].Upper)
	assert.Equal(t, "critical", byID["pop-1b"].Priority)
}

func TestClockAndStats(t *testing.T) {
	s := setupTestHandler(t)

	clock := decode[ClockDTO](t, s.do(t, http.MethodGet, "/api/clock", nil))
	assert.Equal(t, simNow.String(), clock.Now)

	stats := decode[StatsDTO](t, s.do(t, http.MethodGet, "/api/stats", nil))
	var names []string
	for _, q := range stats.Queues {
		names = append(names, q.Name)
	}
	assert.ElementsMatch(t, []string{"evaluation", "activity"}, names)
}

func TestFeed_RejectsBadLimit(t *testing.T) {
	s := setupTestHandler(t)

	rec := s.do(t, http.MethodGet, "/api/feed?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/feed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[FeedResponse](t, rec).Records)
}

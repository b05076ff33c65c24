// Package memory provides an in-memory implementation of every store
// interface, for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	countries  map[economy.CountryID]*economy.Country
	order      []economy.CountryID
	indicators map[economy.CountryID][]economy.EconomicIndicators
	milestones map[economy.CountryID][]milestone.Event
	reached    map[milestoneKey]bool
	unlocks    map[economy.UserID][]achievement.Unlock
	unlocked   map[unlockKey]bool
	feed       []activity.Record
	embassies  map[economy.CountryID]map[string]bool
	posts      map[economy.UserID]int64
	accounts   map[economy.UserID]time.Time

	// Now is the wall clock used for account age.
	Now func() time.Time
}

type milestoneKey struct {
	CountryID   economy.CountryID
	ThresholdID string
}

type unlockKey struct {
	UserID        economy.UserID
	AchievementID string
}

func New() *Memory {
	return &Memory{
		countries:  make(map[economy.CountryID]*economy.Country),
		indicators: make(map[economy.CountryID][]economy.EconomicIndicators),
		milestones: make(map[economy.CountryID][]milestone.Event),
		reached:    make(map[milestoneKey]bool),
		unlocks:    make(map[economy.UserID][]achievement.Unlock),
		unlocked:   make(map[unlockKey]bool),
		embassies:  make(map[economy.CountryID]map[string]bool),
		posts:      make(map[economy.UserID]int64),
		accounts:   make(map[economy.UserID]time.Time),
		Now:        time.Now,
	}
}

// =============================================================================
// COUNTRIES
// =============================================================================

func (m *Memory) CreateCountry(_ context.Context, country economy.Country, initial economy.EconomicIndicators) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.countries[country.ID]; exists {
		return fmt.Errorf("%w: country %s exists", economy.ErrConflict, country.ID)
	}
	c := country
	if country.Current != nil {
		cur := *country.Current
		c.Current = &cur
	}
	m.countries[country.ID] = &c
	m.order = append(m.order, country.ID)
	m.indicators[country.ID] = []economy.EconomicIndicators{initial}
	return nil
}

func (m *Memory) GetCountry(_ context.Context, id economy.CountryID) (*economy.Country, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.countries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", economy.ErrUnknownCountry, id)
	}
	return copyCountry(c), nil
}

func (m *Memory) ListCountries(_ context.Context) ([]economy.Country, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]economy.Country, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *copyCountry(m.countries[id]))
	}
	return out, nil
}

// SaveProjection swaps the cached state under the write lock, so readers see
// either the old or the new state whole.
func (m *Memory) SaveProjection(_ context.Context, state economy.ProjectedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.countries[state.CountryID]
	if !ok {
		return fmt.Errorf("%w: %s", economy.ErrUnknownCountry, state.CountryID)
	}
	s := state
	c.Current = &s
	return nil
}

func (m *Memory) AppendIndicators(_ context.Context, id economy.CountryID, ind economy.EconomicIndicators) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.countries[id]; !ok {
		return fmt.Errorf("%w: %s", economy.ErrUnknownCountry, id)
	}
	versions := m.indicators[id]
	i := sort.Search(len(versions), func(i int) bool {
		return versions[i].EffectiveFrom.After(ind.EffectiveFrom)
	})
	versions = append(versions, economy.EconomicIndicators{})
	copy(versions[i+1:], versions[i:])
	versions[i] = ind
	m.indicators[id] = versions
	return nil
}

func (m *Memory) IndicatorHistory(_ context.Context, id economy.CountryID) ([]economy.EconomicIndicators, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.countries[id]; !ok {
		return nil, fmt.Errorf("%w: %s", economy.ErrUnknownCountry, id)
	}
	return append([]economy.EconomicIndicators(nil), m.indicators[id]...), nil
}

func copyCountry(c *economy.Country) *economy.Country {
	out := *c
	if c.Current != nil {
		cur := *c.Current
		out.Current = &cur
	}
	return &out
}

// =============================================================================
// MILESTONES
// =============================================================================

func (m *Memory) RecordMilestone(_ context.Context, ev milestone.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := milestoneKey{CountryID: ev.CountryID, ThresholdID: ev.ThresholdID}
	if m.reached[k] {
		return fmt.Errorf("%w: milestone %s already recorded for %s", economy.ErrConflict, ev.ThresholdID, ev.CountryID)
	}
	m.reached[k] = true
	m.milestones[ev.CountryID] = append(m.milestones[ev.CountryID], ev)
	return nil
}

func (m *Memory) ListMilestones(_ context.Context, id economy.CountryID) ([]milestone.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]milestone.Event(nil), m.milestones[id]...), nil
}

// =============================================================================
// UNLOCKS
// =============================================================================

// InsertUnlock is check-and-insert under one lock, the in-memory equivalent
// of a unique index.
func (m *Memory) InsertUnlock(_ context.Context, u achievement.Unlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := unlockKey{UserID: u.UserID, AchievementID: u.AchievementID}
	if m.unlocked[k] {
		return fmt.Errorf("%w: %s already unlocked %s", economy.ErrConflict, u.UserID, u.AchievementID)
	}
	m.unlocked[k] = true
	m.unlocks[u.UserID] = append(m.unlocks[u.UserID], u)
	return nil
}

func (m *Memory) ListUnlocks(_ context.Context, userID economy.UserID) ([]achievement.Unlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]achievement.Unlock(nil), m.unlocks[userID]...), nil
}

// =============================================================================
// ACTIVITY FEED
// =============================================================================

func (m *Memory) AppendActivity(_ context.Context, r activity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feed = append(m.feed, r)
	return nil
}

func (m *Memory) ListActivity(_ context.Context, f activity.Filter) ([]activity.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []activity.Record
	for i := len(m.feed) - 1; i >= 0; i-- {
		r := m.feed[i]
		if f.CountryID != "" && r.CountryID != f.CountryID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// COLLABORATOR COUNTERS
// =============================================================================

func (m *Memory) AddEmbassy(_ context.Context, countryID economy.CountryID, partner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embassies[countryID] == nil {
		m.embassies[countryID] = make(map[string]bool)
	}
	m.embassies[countryID][partner] = true
	return nil
}

func (m *Memory) AddPost(_ context.Context, userID economy.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[userID]++
	return nil
}

func (m *Memory) RegisterAccount(_ context.Context, userID economy.UserID, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		m.accounts[userID] = createdAt
	}
	return nil
}

// Counters implements achievement.CounterSource.
func (m *Memory) Counters(_ context.Context, userID economy.UserID, countryID economy.CountryID) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]int64{
		achievement.CounterEmbassies:  int64(len(m.embassies[countryID])),
		achievement.CounterPosts:      m.posts[userID],
		achievement.CounterMilestones: int64(len(m.milestones[countryID])),
	}
	if created, ok := m.accounts[userID]; ok {
		out[achievement.CounterAccountAgeDays] = int64(m.Now().Sub(created).Hours() / 24)
	}
	return out, nil
}

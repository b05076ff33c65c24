/*
engine.go - Achievement Rule Engine

PURPOSE:
  Evaluates catalog conditions for a user against their country's latest
  projected state and auxiliary counters, and persists first-time unlocks.

GUARANTEES:
  - At most one unlock per (user, achievement). The store's conditional insert
    decides; a caller that loses the race sees ErrConflict, which the engine
    reads as "already unlocked" and never surfaces as a failure.
  - Evaluate never fails its caller. Load or store errors are logged and the
    unlocks made so far are returned.
  - Evaluating one category is the same as evaluating everything and keeping
    that category's results: conditions only read the country state and
    counters, never other unlocks.

FLOW (Evaluate):
  1. Pick definitions (one category or all)
  2. Load the user's unlocked set; skip those definitions
  3. Load facts: latest state + indicators, counters
  4. Evaluate each condition; unlock each that holds
  5. Notify for every new unlock

EXAMPLE:
  engine := &achievement.Engine{Catalog: catalog, Store: store, States: states}
  unlocked := engine.Evaluate(ctx, "user-1", "ruritania", nil)
*/
package achievement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/nation-engine/economy"
)

type Engine struct {
	Catalog *Catalog
	Store   Store
	States  StateSource

	// Optional collaborators.
	Counters CounterSource
	Notifier Notifier
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// Evaluate unlocks every not-yet-unlocked achievement whose condition holds.
// A nil category evaluates all categories. Never returns an error.
func (e *Engine) Evaluate(ctx context.Context, userID economy.UserID, countryID economy.CountryID, category *Category) []Unlock {
	log := e.logger().WithFields(logrus.Fields{"user_id": userID, "country_id": countryID})

	defs := e.Catalog.ordered
	if category != nil {
		defs = e.Catalog.ByCategory(*category)
		log = log.WithField("category", *category)
	}
	if len(defs) == 0 {
		return nil
	}

	have, err := e.unlockedSet(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("achievement evaluation skipped: cannot load unlocks")
		return nil
	}

	facts, err := e.facts(ctx, userID, countryID)
	if err != nil {
		log.WithError(err).Warn("achievement evaluation skipped: cannot load facts")
		return nil
	}

	var unlocked []Unlock
	for _, def := range defs {
		if have[def.ID] {
			continue
		}
		ok, err := def.Condition.Evaluate(facts)
		if err != nil {
			log.WithError(err).WithField("achievement_id", def.ID).Warn("condition failed to evaluate")
			continue
		}
		if !ok {
			continue
		}

		u, inserted, err := e.insert(ctx, userID, countryID, def, false)
		switch {
		case err != nil:
			log.WithError(err).WithField("achievement_id", def.ID).Error("unlock write failed")
		case inserted:
			unlocked = append(unlocked, u)
		}
	}

	if len(unlocked) > 0 {
		log.WithField("count", len(unlocked)).Info("achievements unlocked")
	}
	return unlocked
}

// UnlockSpecific unlocks one achievement without evaluating its condition.
// Unlocking something already unlocked succeeds with AlreadyUnlocked set.
func (e *Engine) UnlockSpecific(ctx context.Context, userID economy.UserID, achievementID string) (UnlockResult, error) {
	def, ok := e.Catalog.Get(achievementID)
	if !ok {
		return UnlockResult{}, fmt.Errorf("%w: %s", economy.ErrUnknownAchievement, achievementID)
	}

	u, inserted, err := e.insert(ctx, userID, "", def, true)
	if err != nil {
		return UnlockResult{}, err
	}
	if inserted {
		return UnlockResult{Unlock: u}, nil
	}

	existing, err := e.Store.ListUnlocks(ctx, userID)
	if err != nil {
		return UnlockResult{}, err
	}
	for _, x := range existing {
		if x.AchievementID == achievementID {
			return UnlockResult{Unlock: x, AlreadyUnlocked: true}, nil
		}
	}
	return UnlockResult{Unlock: u, AlreadyUnlocked: true}, nil
}

// GetProgress aggregates a user's unlocks against the catalog. Unlocks of
// achievements no longer in the catalog are ignored.
func (e *Engine) GetProgress(ctx context.Context, userID economy.UserID) (Progress, error) {
	unlocks, err := e.Store.ListUnlocks(ctx, userID)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{UserID: userID, ByCategory: make(map[Category]CategoryProgress)}
	for _, def := range e.Catalog.ordered {
		cp := p.ByCategory[def.Category]
		cp.Total++
		p.ByCategory[def.Category] = cp
		p.Available++
		p.PossiblePoints += def.Points
	}
	for _, u := range unlocks {
		def, ok := e.Catalog.Get(u.AchievementID)
		if !ok {
			continue
		}
		cp := p.ByCategory[def.Category]
		cp.Unlocked++
		cp.Points += def.Points
		p.ByCategory[def.Category] = cp
		p.TotalUnlocked++
		p.TotalPoints += def.Points
	}
	return p, nil
}

// Unlocked returns the user's unlocks, oldest first.
func (e *Engine) Unlocked(ctx context.Context, userID economy.UserID) ([]Unlock, error) {
	return e.Store.ListUnlocks(ctx, userID)
}

// =============================================================================
// INTERNALS
// =============================================================================

// insert attempts the conditional write. inserted is false when the unlock
// already existed.
func (e *Engine) insert(ctx context.Context, userID economy.UserID, countryID economy.CountryID, def Definition, manual bool) (Unlock, bool, error) {
	u := Unlock{
		ID:            uuid.New(),
		UserID:        userID,
		AchievementID: def.ID,
		CountryID:     countryID,
		Manual:        manual,
		UnlockedAt:    e.now(),
	}
	err := e.Store.InsertUnlock(ctx, u)
	if errors.Is(err, economy.ErrConflict) {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	if e.Notifier != nil {
		e.Notifier.AchievementUnlocked(u, def)
	}
	return u, true, nil
}

func (e *Engine) unlockedSet(ctx context.Context, userID economy.UserID) (map[string]bool, error) {
	existing, err := e.Store.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, u := range existing {
		have[u.AchievementID] = true
	}
	return have, nil
}

func (e *Engine) facts(ctx context.Context, userID economy.UserID, countryID economy.CountryID) (Facts, error) {
	var f Facts
	if countryID != "" && e.States != nil {
		state, ind, err := e.States.CurrentState(ctx, countryID)
		if err != nil {
			return Facts{}, err
		}
		f.State, f.Indicators = state, ind
	}
	if e.Counters != nil {
		counters, err := e.Counters.Counters(ctx, userID, countryID)
		if err != nil {
			return Facts{}, err
		}
		f.Counters = counters
	}
	return f, nil
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

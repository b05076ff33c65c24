package achievement

import (
	"context"

	"github.com/warp/nation-engine/economy"
)

// Store persists unlock records.
type Store interface {
	// InsertUnlock is a conditional insert: it returns economy.ErrConflict when
	// (UserID, AchievementID) already exists. The uniqueness must hold under
	// concurrent callers, so it belongs to the storage layer.
	InsertUnlock(ctx context.Context, unlock Unlock) error

	// ListUnlocks returns a user's unlocks, oldest first.
	ListUnlocks(ctx context.Context, userID economy.UserID) ([]Unlock, error)
}

// StateSource supplies the latest projected state and indicators of a country.
type StateSource interface {
	CurrentState(ctx context.Context, countryID economy.CountryID) (*economy.ProjectedState, *economy.EconomicIndicators, error)
}

// CounterSource supplies auxiliary counters (embassies, posts, account age,
// milestones). Each counter is a read-only query against its owning store.
type CounterSource interface {
	Counters(ctx context.Context, userID economy.UserID, countryID economy.CountryID) (map[string]int64, error)
}

// Notifier is told about every new unlock. It must not block.
type Notifier interface {
	AchievementUnlocked(unlock Unlock, def Definition)
}

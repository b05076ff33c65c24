package milestone

import (
	"context"

	"github.com/warp/nation-engine/economy"
)

// Store persists milestone events. Append-only.
type Store interface {
	// RecordMilestone inserts the event unless (CountryID, ThresholdID) is
	// already recorded, in which case it returns economy.ErrConflict.
	RecordMilestone(ctx context.Context, event Event) error

	// ListMilestones returns a country's milestones, oldest first.
	ListMilestones(ctx context.Context, countryID economy.CountryID) ([]Event, error)
}

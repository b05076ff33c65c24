package engine

import (
	"context"

	"github.com/warp/nation-engine/economy"
)

// StateReader serves the achievement engine the latest persisted projection
// of a country and the indicator version in force at that time. It reads
// only the cache refreshed by recalculation, so every reader agrees on one
// source of truth.
type StateReader struct {
	store economy.CountryStore
}

func NewStateReader(store economy.CountryStore) *StateReader {
	return &StateReader{store: store}
}

// CurrentState returns nil state when the country was never recalculated.
func (r *StateReader) CurrentState(ctx context.Context, id economy.CountryID) (*economy.ProjectedState, *economy.EconomicIndicators, error) {
	country, err := r.store.GetCountry(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if country.Current == nil {
		return nil, nil, nil
	}

	history, err := r.store.IndicatorHistory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var active *economy.EconomicIndicators
	for i := range history {
		if i == 0 || history[i].EffectiveFrom.BeforeOrEqual(country.Current.AsOf) {
			active = &history[i]
		}
	}
	return country.Current, active, nil
}

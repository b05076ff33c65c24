/*
store.go - Baseline Store interface

PURPOSE:
  The Baseline Store holds one row per country carrying both the write-once
  baseline fields and the mutable cached "current" projection, plus the
  append-only indicator history.

WRITE RULES:
  - CreateCountry is the only write that touches baseline fields.
  - SaveProjection replaces the whole cached ProjectedState in one statement,
    so concurrent recalculations of the same country leave a complete state
    from one of them (last completed write wins), never a mix of fields.
  - AppendIndicators never edits an existing version.

IMPLEMENTATIONS:
  - store/sqlite: production
  - store/memory: tests and development
*/
package economy

import "context"

// CountryStore persists the country aggregate.
type CountryStore interface {
	// CreateCountry inserts the country with its baseline and first indicator
	// version. Returns ErrConflict if the id exists.
	CreateCountry(ctx context.Context, country Country, initial EconomicIndicators) error

	// GetCountry returns ErrUnknownCountry if the id doesn't exist.
	GetCountry(ctx context.Context, id CountryID) (*Country, error)

	ListCountries(ctx context.Context) ([]Country, error)

	// SaveProjection atomically replaces the cached current projection.
	SaveProjection(ctx context.Context, state ProjectedState) error

	// AppendIndicators adds a new indicator version.
	AppendIndicators(ctx context.Context, id CountryID, indicators EconomicIndicators) error

	// IndicatorHistory returns all versions ordered by EffectiveFrom.
	IndicatorHistory(ctx context.Context, id CountryID) ([]EconomicIndicators, error)
}

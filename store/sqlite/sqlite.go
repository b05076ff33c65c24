/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine over one SQLite
  database, using sqlx for row mapping.

INTERFACES IMPLEMENTED:
  economy.CountryStore:      countries (baseline + cached projection), indicator history
  milestone.Store:           reached milestones
  achievement.Store:         unlocked achievements
  achievement.CounterSource: embassy / post / account-age / milestone counters
  activity.Store:            activity feed

AT-MOST-ONCE ENFORCEMENT:
  Uniqueness is enforced by the database, not by a read-then-write in Go:
  - milestones UNIQUE(country_id, threshold_id)
  - unlocked_achievements UNIQUE(user_id, achievement_id)
  Inserts use ON CONFLICT DO NOTHING; zero affected rows is economy.ErrConflict.

WRITE-ONCE BASELINE:
  A BEFORE UPDATE trigger aborts any statement that changes the anchor or the
  baseline values of a country. The error surfaces as economy.ErrBaselineImmutable.

TIME COLUMNS:
  Simulated instants are stored as (unix seconds, nanos) integer pairs so they
  sort correctly and are not limited to time.Duration's range. Wall-clock
  audit columns are RFC3339 text.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and a single connection:
  - One writer at a time, no SQLITE_BUSY between our own goroutines
  - ":memory:" databases stay one database instead of one per connection

USAGE:
  store, err := sqlite.New("./data/nation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB

	// now is the wall clock used for audit columns and account age.
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the wall clock (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Countries: write-once baseline + cached current projection
	CREATE TABLE IF NOT EXISTS countries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		anchor_unix INTEGER NOT NULL,
		anchor_nanos INTEGER NOT NULL,
		baseline_population INTEGER NOT NULL,
		baseline_gdp_per_capita TEXT NOT NULL,
		current_as_of_unix INTEGER,
		current_as_of_nanos INTEGER,
		current_population INTEGER,
		current_gdp_per_capita TEXT,
		current_total_gdp TEXT,
		current_economic_tier TEXT,
		current_population_tier TEXT,
		current_adjusted_growth REAL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_countries_owner ON countries(owner_id);

	-- CRITICAL: baseline fields are write-once
	CREATE TRIGGER IF NOT EXISTS trg_countries_baseline_immutable
	BEFORE UPDATE OF anchor_unix, anchor_nanos, baseline_population, baseline_gdp_per_capita ON countries
	WHEN OLD.anchor_unix IS NOT NEW.anchor_unix
	  OR OLD.anchor_nanos IS NOT NEW.anchor_nanos
	  OR OLD.baseline_population IS NOT NEW.baseline_population
	  OR OLD.baseline_gdp_per_capita IS NOT NEW.baseline_gdp_per_capita
	BEGIN
		SELECT RAISE(ABORT, 'baseline_immutable');
	END;

	-- Indicator versions (append-only)
	CREATE TABLE IF NOT EXISTS indicator_versions (
		country_id TEXT NOT NULL REFERENCES countries(id),
		seq INTEGER NOT NULL,
		effective_unix INTEGER NOT NULL,
		effective_nanos INTEGER NOT NULL,
		real_growth_rate REAL NOT NULL,
		population_growth_rate REAL NOT NULL,
		inflation_rate REAL NOT NULL,
		unemployment_rate REAL NOT NULL,
		labor_force_participation REAL NOT NULL,
		tax_revenue_percent REAL NOT NULL,
		government_spending_percent REAL NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (country_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_effective
		ON indicator_versions(country_id, effective_unix, effective_nanos);

	-- Milestones: one row per (country, threshold), ever
	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		country_id TEXT NOT NULL REFERENCES countries(id),
		threshold_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		label TEXT NOT NULL,
		rank INTEGER NOT NULL,
		priority TEXT NOT NULL,
		value TEXT NOT NULL,
		detected_unix INTEGER NOT NULL,
		detected_nanos INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (country_id, threshold_id)
	);

	-- Unlocks: one row per (user, achievement), ever
	CREATE TABLE IF NOT EXISTS unlocked_achievements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		achievement_id TEXT NOT NULL,
		country_id TEXT,
		manual INTEGER NOT NULL DEFAULT 0,
		unlocked_at TEXT NOT NULL,
		UNIQUE (user_id, achievement_id)
	);

	-- Activity feed (append-only)
	CREATE TABLE IF NOT EXISTS activity_feed (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		country_id TEXT,
		user_id TEXT,
		ref_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		priority TEXT NOT NULL,
		sim_unix INTEGER,
		sim_nanos INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_feed_country ON activity_feed(country_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_feed_user ON activity_feed(user_id, seq DESC);

	-- Collaborator data read by achievement counters
	CREATE TABLE IF NOT EXISTS embassies (
		country_id TEXT NOT NULL,
		partner TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (country_id, partner)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);

	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COUNTRY STORE (economy.CountryStore interface)
// =============================================================================

type countryRow struct {
	ID                    string          `db:"id"`
	Name                  string          `db:"name"`
	OwnerID               string          `db:"owner_id"`
	AnchorUnix            int64           `db:"anchor_unix"`
	AnchorNanos           int64           `db:"anchor_nanos"`
	BaselinePopulation    int64           `db:"baseline_population"`
	BaselineGDPPerCapita  string          `db:"baseline_gdp_per_capita"`
	CurrentAsOfUnix       sql.NullInt64   `db:"current_as_of_unix"`
	CurrentAsOfNanos      sql.NullInt64   `db:"current_as_of_nanos"`
	CurrentPopulation     sql.NullInt64   `db:"current_population"`
	CurrentGDPPerCapita   sql.NullString  `db:"current_gdp_per_capita"`
	CurrentTotalGDP       sql.NullString  `db:"current_total_gdp"`
	CurrentEconomicTier   sql.NullString  `db:"current_economic_tier"`
	CurrentPopulationTier sql.NullString  `db:"current_population_tier"`
	CurrentAdjustedGrowth sql.NullFloat64 `db:"current_adjusted_growth"`
	CreatedAt             string          `db:"created_at"`
}

const countryColumns = `id, name, owner_id, anchor_unix, anchor_nanos, baseline_population,
	baseline_gdp_per_capita, current_as_of_unix, current_as_of_nanos, current_population,
	current_gdp_per_capita, current_total_gdp, current_economic_tier, current_population_tier,
	current_adjusted_growth, created_at`

// CreateCountry inserts the country and its first indicator version atomically.
func (s *Store) CreateCountry(ctx context.Context, country economy.Country, initial economy.EconomicIndicators) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := country.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO countries
		(id, name, owner_id, anchor_unix, anchor_nanos, baseline_population, baseline_gdp_per_capita, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		country.ID,
		country.Name,
		country.OwnerID,
		country.Baseline.AnchorTime.Unix(),
		country.Baseline.AnchorTime.Nanosecond(),
		country.Baseline.Population,
		country.Baseline.GDPPerCapita.String(),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert country: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: country %s exists", economy.ErrConflict, country.ID)
	}

	if err := s.insertIndicators(ctx, tx, country.ID, initial); err != nil {
		return err
	}
	if country.Current != nil {
		if err := s.saveProjection(ctx, tx, *country.Current); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetCountry(ctx context.Context, id economy.CountryID) (*economy.Country, error) {
	var row countryRow
	err := s.db.GetContext(ctx, &row, `SELECT `+countryColumns+` FROM countries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", economy.ErrUnknownCountry, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get country: %w", err)
	}
	return row.toCountry()
}

func (s *Store) ListCountries(ctx context.Context) ([]economy.Country, error) {
	var rows []countryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+countryColumns+` FROM countries ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}

	out := make([]economy.Country, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCountry()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// SaveProjection replaces every current_* column in one UPDATE.
func (s *Store) SaveProjection(ctx context.Context, state economy.ProjectedState) error {
	return s.saveProjection(ctx, s.db, state)
}

func (s *Store) saveProjection(ctx context.Context, db sqlx.ExecerContext, state economy.ProjectedState) error {
	res, err := db.ExecContext(ctx, `
		UPDATE countries SET
			current_as_of_unix = ?,
			current_as_of_nanos = ?,
			current_population = ?,
			current_gdp_per_capita = ?,
			current_total_gdp = ?,
			current_economic_tier = ?,
			current_population_tier = ?,
			current_adjusted_growth = ?
		WHERE id = ?`,
		state.AsOf.Unix(),
		state.AsOf.Nanosecond(),
		state.Population,
		state.GDPPerCapita.String(),
		state.TotalGDP.String(),
		state.EconomicTier.String(),
		state.PopulationTier.String(),
		state.AdjustedGrowthRate,
		state.CountryID,
	)
	if err != nil {
		return classify("save projection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", economy.ErrUnknownCountry, state.CountryID)
	}
	return nil
}

func (r countryRow) toCountry() (*economy.Country, error) {
	gdp, err := decimal.NewFromString(r.BaselineGDPPerCapita)
	if err != nil {
		return nil, fmt.Errorf("country %s: corrupt baseline gdp: %w", r.ID, err)
	}
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)

	c := &economy.Country{
		ID:      economy.CountryID(r.ID),
		Name:    r.Name,
		OwnerID: economy.UserID(r.OwnerID),
		Baseline: economy.BaselineSnapshot{
			CountryID:    economy.CountryID(r.ID),
			AnchorTime:   simTime(r.AnchorUnix, r.AnchorNanos),
			Population:   r.BaselinePopulation,
			GDPPerCapita: gdp,
		},
		CreatedAt: created,
	}
	if !r.CurrentAsOfUnix.Valid {
		return c, nil
	}

	state := economy.ProjectedState{
		CountryID:          c.ID,
		AsOf:               simTime(r.CurrentAsOfUnix.Int64, r.CurrentAsOfNanos.Int64),
		Population:         r.CurrentPopulation.Int64,
		AdjustedGrowthRate: r.CurrentAdjustedGrowth.Float64,
	}
	if state.GDPPerCapita, err = decimal.NewFromString(r.CurrentGDPPerCapita.String); err != nil {
		return nil, fmt.Errorf("country %s: corrupt current gdp per capita: %w", r.ID, err)
	}
	if state.TotalGDP, err = decimal.NewFromString(r.CurrentTotalGDP.String); err != nil {
		return nil, fmt.Errorf("country %s: corrupt current total gdp: %w", r.ID, err)
	}
	if state.EconomicTier, err = economy.ParseEconomicTier(r.CurrentEconomicTier.String); err != nil {
		return nil, err
	}
	if state.PopulationTier, err = economy.ParsePopulationTier(r.CurrentPopulationTier.String); err != nil {
		return nil, err
	}
	c.Current = &state
	return c, nil
}

// =============================================================================
// INDICATOR HISTORY
// =============================================================================

type indicatorRow struct {
	EffectiveUnix             int64   `db:"effective_unix"`
	EffectiveNanos            int64   `db:"effective_nanos"`
	RealGrowthRate            float64 `db:"real_growth_rate"`
	PopulationGrowthRate      float64 `db:"population_growth_rate"`
	InflationRate             float64 `db:"inflation_rate"`
	UnemploymentRate          float64 `db:"unemployment_rate"`
	LaborForceParticipation   float64 `db:"labor_force_participation"`
	TaxRevenuePercent         float64 `db:"tax_revenue_percent"`
	GovernmentSpendingPercent float64 `db:"government_spending_percent"`
}

func (s *Store) AppendIndicators(ctx context.Context, id economy.CountryID, ind economy.EconomicIndicators) error {
	if err := s.insertIndicators(ctx, s.db, id, ind); err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", economy.ErrUnknownCountry, id)
		}
		return err
	}
	return nil
}

func (s *Store) insertIndicators(ctx context.Context, db sqlx.ExecerContext, id economy.CountryID, ind economy.EconomicIndicators) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO indicator_versions
		(country_id, seq, effective_unix, effective_nanos, real_growth_rate, population_growth_rate,
		 inflation_rate, unemployment_rate, labor_force_participation, tax_revenue_percent,
		 government_spending_percent, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM indicator_versions WHERE country_id = ?),
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, id,
		ind.EffectiveFrom.Unix(),
		ind.EffectiveFrom.Nanosecond(),
		ind.RealGrowthRate,
		ind.PopulationGrowthRate,
		ind.InflationRate,
		ind.UnemploymentRate,
		ind.LaborForceParticipation,
		ind.TaxRevenuePercent,
		ind.GovernmentSpendingPercent,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to append indicators: %w", err)
	}
	return nil
}

// IndicatorHistory returns versions ordered by EffectiveFrom, then insertion.
func (s *Store) IndicatorHistory(ctx context.Context, id economy.CountryID) ([]economy.EconomicIndicators, error) {
	var rows []indicatorRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT effective_unix, effective_nanos, real_growth_rate, population_growth_rate,
		       inflation_rate, unemployment_rate, labor_force_participation,
		       tax_revenue_percent, government_spending_percent
		FROM indicator_versions
		WHERE country_id = ?
		ORDER BY effective_unix, effective_nanos, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load indicators: %w", err)
	}
	if len(rows) == 0 {
		if _, err := s.GetCountry(ctx, id); err != nil {
			return nil, err
		}
	}

	out := make([]economy.EconomicIndicators, 0, len(rows))
	for _, r := range rows {
		out = append(out, economy.EconomicIndicators{
			EffectiveFrom:             simTime(r.EffectiveUnix, r.EffectiveNanos),
			RealGrowthRate:            r.RealGrowthRate,
			PopulationGrowthRate:      r.PopulationGrowthRate,
			InflationRate:             r.InflationRate,
			UnemploymentRate:          r.UnemploymentRate,
			LaborForceParticipation:   r.LaborForceParticipation,
			TaxRevenuePercent:         r.TaxRevenuePercent,
			GovernmentSpendingPercent: r.GovernmentSpendingPercent,
		})
	}
	return out, nil
}

// =============================================================================
// MILESTONE STORE (milestone.Store interface)
// =============================================================================

type milestoneRow struct {
	ID            string `db:"id"`
	CountryID     string `db:"country_id"`
	ThresholdID   string `db:"threshold_id"`
	Kind          string `db:"kind"`
	Label         string `db:"label"`
	Rank          int    `db:"rank"`
	Priority      string `db:"priority"`
	Value         string `db:"value"`
	DetectedUnix  int64  `db:"detected_unix"`
	DetectedNanos int64  `db:"detected_nanos"`
	CreatedAt     string `db:"created_at"`
}

// RecordMilestone relies on UNIQUE(country_id, threshold_id): of two
// concurrent writers for the same crossing exactly one inserts.
func (s *Store) RecordMilestone(ctx context.Context, ev milestone.Event) error {
	row := milestoneRow{
		ID:            ev.ID.String(),
		CountryID:     string(ev.CountryID),
		ThresholdID:   ev.ThresholdID,
		Kind:          string(ev.Kind),
		Label:         ev.Label,
		Rank:          ev.Rank,
		Priority:      string(ev.Priority),
		Value:         ev.Value,
		DetectedUnix:  ev.DetectedAt.Unix(),
		DetectedNanos: int64(ev.DetectedAt.Nanosecond()),
		CreatedAt:     formatTime(s.now()),
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO milestones
		(id, country_id, threshold_id, kind, label, rank, priority, value, detected_unix, detected_nanos, created_at)
		VALUES (:id, :country_id, :threshold_id, :kind, :label, :rank, :priority, :value, :detected_unix, :detected_nanos, :created_at)
		ON CONFLICT(country_id, threshold_id) DO NOTHING`, row)
	if err != nil {
		return classify("record milestone", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: milestone %s already recorded for %s", economy.ErrConflict, ev.ThresholdID, ev.CountryID)
	}
	return nil
}

func (s *Store) ListMilestones(ctx context.Context, countryID economy.CountryID) ([]milestone.Event, error) {
	var rows []milestoneRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, country_id, threshold_id, kind, label, rank, priority, value,
		       detected_unix, detected_nanos, created_at
		FROM milestones
		WHERE country_id = ?
		ORDER BY detected_unix, detected_nanos, rowid`, countryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}

	out := make([]milestone.Event, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		out = append(out, milestone.Event{
			ID:          id,
			CountryID:   economy.CountryID(r.CountryID),
			Kind:        milestone.Kind(r.Kind),
			ThresholdID: r.ThresholdID,
			Label:       r.Label,
			Rank:        r.Rank,
			Priority:    milestone.Priority(r.Priority),
			Value:       r.Value,
			DetectedAt:  simTime(r.DetectedUnix, r.DetectedNanos),
		})
	}
	return out, nil
}

// =============================================================================
// ACHIEVEMENT STORE (achievement.Store interface)
// =============================================================================

type unlockRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	AchievementID string         `db:"achievement_id"`
	CountryID     sql.NullString `db:"country_id"`
	Manual        bool           `db:"manual"`
	UnlockedAt    string         `db:"unlocked_at"`
}

// InsertUnlock relies on UNIQUE(user_id, achievement_id).
func (s *Store) InsertUnlock(ctx context.Context, u achievement.Unlock) error {
	row := unlockRow{
		ID:            u.ID.String(),
		UserID:        string(u.UserID),
		AchievementID: u.AchievementID,
		CountryID:     nullString(string(u.CountryID)),
		Manual:        u.Manual,
		UnlockedAt:    formatTime(u.UnlockedAt),
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO unlocked_achievements (id, user_id, achievement_id, country_id, manual, unlocked_at)
		VALUES (:id, :user_id, :achievement_id, :country_id, :manual, :unlocked_at)
		ON CONFLICT(user_id, achievement_id) DO NOTHING`, row)
	if err != nil {
		return classify("insert unlock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s already unlocked %s", economy.ErrConflict, u.UserID, u.AchievementID)
	}
	return nil
}

func (s *Store) ListUnlocks(ctx context.Context, userID economy.UserID) ([]achievement.Unlock, error) {
	var rows []unlockRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, achievement_id, country_id, manual, unlocked_at
		FROM unlocked_achievements
		WHERE user_id = ?
		ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}

	out := make([]achievement.Unlock, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		at, _ := time.Parse(time.RFC3339Nano, r.UnlockedAt)
		out = append(out, achievement.Unlock{
			ID:            id,
			UserID:        economy.UserID(r.UserID),
			AchievementID: r.AchievementID,
			CountryID:     economy.CountryID(r.CountryID.String),
			Manual:        r.Manual,
			UnlockedAt:    at,
		})
	}
	return out, nil
}

// =============================================================================
// ACTIVITY FEED (activity.Store interface)
// =============================================================================

type activityRow struct {
	ID          string         `db:"id"`
	Kind        string         `db:"kind"`
	CountryID   sql.NullString `db:"country_id"`
	UserID      sql.NullString `db:"user_id"`
	RefID       string         `db:"ref_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Priority    string         `db:"priority"`
	SimUnix     sql.NullInt64  `db:"sim_unix"`
	SimNanos    sql.NullInt64  `db:"sim_nanos"`
	CreatedAt   string         `db:"created_at"`
}

func (s *Store) AppendActivity(ctx context.Context, r activity.Record) error {
	row := activityRow{
		ID:          r.ID.String(),
		Kind:        string(r.Kind),
		CountryID:   nullString(string(r.CountryID)),
		UserID:      nullString(string(r.UserID)),
		RefID:       r.RefID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		CreatedAt:   formatTime(r.CreatedAt),
	}
	if r.SimTime != nil {
		row.SimUnix = sql.NullInt64{Int64: r.SimTime.Unix(), Valid: true}
		row.SimNanos = sql.NullInt64{Int64: int64(r.SimTime.Nanosecond()), Valid: true}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activity_feed
		(id, kind, country_id, user_id, ref_id, title, description, priority, sim_unix, sim_nanos, created_at)
		VALUES (:id, :kind, :country_id, :user_id, :ref_id, :title, :description, :priority, :sim_unix, :sim_nanos, :created_at)`, row)
	if err != nil {
		return classify("append activity", err)
	}
	return nil
}

// ListActivity returns records newest first.
func (s *Store) ListActivity(ctx context.Context, f activity.Filter) ([]activity.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.CountryID != "" {
		where = append(where, "country_id = ?")
		args = append(args, f.CountryID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}

	query := `SELECT id, kind, country_id, user_id, ref_id, title, description, priority,
	                 sim_unix, sim_nanos, created_at
	          FROM activity_feed`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	out := make([]activity.Record, 0, len(rows))
	for _, r := range rows {
		id, _ := uuid.Parse(r.ID)
		created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
		rec := activity.Record{
			ID:          id,
			Kind:        activity.Kind(r.Kind),
			CountryID:   economy.CountryID(r.CountryID.String),
			UserID:      economy.UserID(r.UserID.String),
			RefID:       r.RefID,
			Title:       r.Title,
			Description: r.Description,
			Priority:    r.Priority,
			CreatedAt:   created,
		}
		if r.SimUnix.Valid {
			at := simTime(r.SimUnix.Int64, r.SimNanos.Int64)
			rec.SimTime = &at
		}
		out = append(out, rec)
	}
	return out, nil
}

// =============================================================================
// COLLABORATOR COUNTERS (achievement.CounterSource interface)
// =============================================================================

// AddEmbassy records an embassy between a country and a partner. Idempotent.
func (s *Store) AddEmbassy(ctx context.Context, countryID economy.CountryID, partner string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO embassies (country_id, partner, created_at) VALUES (?, ?, ?)`,
		countryID, partner, formatTime(s.now()))
	return err
}

func (s *Store) AddPost(ctx context.Context, userID economy.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (user_id, created_at) VALUES (?, ?)`,
		userID, formatTime(s.now()))
	return err
}

// RegisterAccount keeps the first creation time seen for a user.
func (s *Store) RegisterAccount(ctx context.Context, userID economy.UserID, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id, created_at) VALUES (?, ?)`,
		userID, formatTime(createdAt))
	return err
}

type counterRow struct {
	Embassies      int64          `db:"embassy_count"`
	Posts          int64          `db:"post_count"`
	Milestones     int64          `db:"milestone_count"`
	AccountCreated sql.NullString `db:"account_created"`
}

// Counters reads every counter in one read-only query.
func (s *Store) Counters(ctx context.Context, userID economy.UserID, countryID economy.CountryID) (map[string]int64, error) {
	var row counterRow
	err := s.db.GetContext(ctx, &row, `
		SELECT
			(SELECT COUNT(*) FROM embassies WHERE country_id = ?) AS embassy_count,
			(SELECT COUNT(*) FROM posts WHERE user_id = ?) AS post_count,
			(SELECT COUNT(*) FROM milestones WHERE country_id = ?) AS milestone_count,
			(SELECT created_at FROM accounts WHERE user_id = ?) AS account_created`,
		countryID, userID, countryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	out := map[string]int64{
		achievement.CounterEmbassies:  row.Embassies,
		achievement.CounterPosts:      row.Posts,
		achievement.CounterMilestones: row.Milestones,
	}
	if row.AccountCreated.Valid {
		if created, err := time.Parse(time.RFC3339Nano, row.AccountCreated.String); err == nil {
			out[achievement.CounterAccountAgeDays] = int64(s.now().Sub(created).Hours() / 24)
		}
	}
	return out, nil
}

// Helper functions

func simTime(unix, nanos int64) economy.SimTime {
	return economy.SimTimeOf(time.Unix(unix, nanos))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// classify maps driver errors onto the economy taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isBaselineImmutableError(err):
		return fmt.Errorf("%s: %w", op, economy.ErrBaselineImmutable)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%s: %w", op, economy.ErrConflict)
	default:
		return economy.Transient(op, err)
	}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isBaselineImmutableError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "baseline_immutable")
}

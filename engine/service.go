/*
service.go - Recalculation orchestration

PURPOSE:
  Ties the pure calculator to storage and to the side channels. This is the
  only place that reads the clock, loads inputs and writes results.

RECALCULATE FLOW:
  1. Load the country (baseline + cached current) and its indicator history
  2. Project to the target (default: simulated now)      -> errors surface
  3. Detect milestones against the cached current state, which is always the
     most recently persisted projection, never one from the same batch
  4. Persist the whole projection in one write            -> errors surface
  5. Record milestones; duplicates are skipped, other failures are logged
  6. Emit feed records and queue achievement evaluation for the owner;
     neither is awaited

SIDE CHANNELS:
  Steps 5 and 6 never fail the recalculation. Re-running a recalculation is
  idempotent: milestones are unique per (country, threshold) in storage and
  unlocks are unique per (user, achievement).

READ-ONLY PROJECTION:
  Project computes a state at any time at or after the anchor without
  persisting anything. Results are memoised in an LRU keyed by country,
  target and indicator version count; the baseline never changes and history
  is append-only, so a key can never go stale.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCacheSize   = 1024
	DefaultConcurrency = 4
)

// Store is what recalculation reads and writes.
type Store interface {
	economy.CountryStore
	milestone.Store
}

// AccountRegistrar records when a user was first seen. Registering a user
// twice keeps the first time.
type AccountRegistrar interface {
	RegisterAccount(ctx context.Context, userID economy.UserID, createdAt time.Time) error
}

// MilestoneNotifier receives newly recorded milestones. Must not block.
type MilestoneNotifier interface {
	MilestoneReached(owner economy.UserID, event milestone.Event)
}

type Options struct {
	Store        Store
	Calculator   *economy.Calculator
	Detector     *milestone.Detector
	Clock        *economy.Clock
	Achievements *achievement.Engine
	Notifier     MilestoneNotifier
	// Accounts, when set, registers a country's owner on creation so
	// account age counters start from the owner's first country.
	Accounts     AccountRegistrar
	Log          logrus.FieldLogger

	// EvaluationQueue sizes the async achievement evaluation queue.
	EvaluationQueue dispatch.Options
	CacheSize       int
	Concurrency     int
}

// Result is the outcome of one recalculation.
type Result struct {
	State economy.ProjectedState `json:"state"`
	// Milestones raised by this recalculation. Thresholds already recorded
	// for the country are not included.
	Milestones []milestone.Event `json:"milestones"`
}

// BatchResult summarises RecalculateAll.
type BatchResult struct {
	Recalculated int                          `json:"recalculated"`
	Milestones   int                          `json:"milestones"`
	Failed       map[economy.CountryID]string `json:"failed,omitempty"`
}

type evaluation struct {
	UserID    economy.UserID
	CountryID economy.CountryID
}

type Service struct {
	store        Store
	calc         *economy.Calculator
	detector     *milestone.Detector
	clock        *economy.Clock
	achievements *achievement.Engine
	notifier     MilestoneNotifier
	accounts     AccountRegistrar
	log          logrus.FieldLogger
	cache        *lru.Cache
	evaluations  *dispatch.Queue[evaluation]
	concurrency  int
}

// NewService wires the service and starts its evaluation workers.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Detector == nil || opts.Clock == nil {
		return nil, errors.New("engine: store, detector and clock are required")
	}
	if opts.Calculator == nil {
		opts.Calculator = economy.NewCalculator(nil)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: projection cache: %w", err)
	}

	s := &Service{
		store:        opts.Store,
		calc:         opts.Calculator,
		detector:     opts.Detector,
		clock:        opts.Clock,
		achievements: opts.Achievements,
		notifier:     opts.Notifier,
		accounts:     opts.Accounts,
		log:          opts.Log,
		cache:        cache,
		concurrency:  opts.Concurrency,
	}

	if s.achievements != nil {
		q := opts.EvaluationQueue
		if q.Name == "" {
			q.Name = "evaluation"
		}
		if q.Log == nil {
			q.Log = opts.Log
		}
		s.evaluations = dispatch.New(q, func(ctx context.Context, ev evaluation) error {
			s.achievements.Evaluate(ctx, ev.UserID, ev.CountryID, nil)
			return nil
		})
	}
	return s, nil
}

// =============================================================================
// COUNTRIES
// =============================================================================

// NewCountry is the input for CreateCountry.
type NewCountry struct {
	ID         economy.CountryID
	Name       string
	OwnerID    economy.UserID
	Baseline   economy.BaselineSnapshot
	Indicators economy.EconomicIndicators
}

// CreateCountry stores a country with its write-once baseline and first
// indicator version, then runs the first recalculation.
func (s *Service) CreateCountry(ctx context.Context, in NewCountry) (*Result, error) {
	if in.ID == "" {
		return nil, &economy.InvalidInputError{Field: "id", Reason: "must not be empty"}
	}
	in.Baseline.CountryID = in.ID
	if err := in.Baseline.Validate(); err != nil {
		return nil, err
	}
	in.Indicators.EffectiveFrom = in.Baseline.AnchorTime
	if err := in.Indicators.Validate(); err != nil {
		return nil, err
	}

	country := economy.Country{
		ID:        in.ID,
		Name:      in.Name,
		OwnerID:   in.OwnerID,
		Baseline:  in.Baseline,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCountry(ctx, country, in.Indicators); err != nil {
		return nil, err
	}
	s.registerOwner(ctx, country)

	// a country anchored in the simulated future starts at its anchor
	target := s.clock.Now()
	if target.Before(in.Baseline.AnchorTime) {
		target = in.Baseline.AnchorTime
	}
	return s.Recalculate(ctx, in.ID, &target)
}

// registerOwner is best effort: a missing account only delays age-based
// achievements, so it never fails the creation.
func (s *Service) registerOwner(ctx context.Context, country economy.Country) {
	if s.accounts == nil || country.OwnerID == "" {
		return
	}
	if err := s.accounts.RegisterAccount(ctx, country.OwnerID, country.CreatedAt); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"country_id": country.ID,
			"user_id":    country.OwnerID,
		}).Warn("owner account not registered")
	}
}

func (s *Service) Country(ctx context.Context, id economy.CountryID) (*economy.Country, error) {
	return s.store.GetCountry(ctx, id)
}

func (s *Service) Countries(ctx context.Context) ([]economy.Country, error) {
	return s.store.ListCountries(ctx)
}

func (s *Service) Milestones(ctx context.Context, id economy.CountryID) ([]milestone.Event, error) {
	if _, err := s.store.GetCountry(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMilestones(ctx, id)
}

func (s *Service) IndicatorHistory(ctx context.Context, id economy.CountryID) ([]economy.EconomicIndicators, error) {
	return s.store.IndicatorHistory(ctx, id)
}

// UpdateIndicators appends a new indicator version. A zero EffectiveFrom
// means simulated now. Versions may not predate the anchor or the latest
// existing version, so history is never rewritten.
func (s *Service) UpdateIndicators(ctx context.Context, id economy.CountryID, ind economy.EconomicIndicators) (economy.EconomicIndicators, error) {
	country, err := s.store.GetCountry(ctx, id)
	if err != nil {
		return economy.EconomicIndicators{}, err
	}
	if ind.EffectiveFrom.IsZero() {
		ind.EffectiveFrom = s.clock.Now()
	}
	if err := ind.Validate(); err != nil {
		return economy.EconomicIndicators{}, err
	}
	if ind.EffectiveFrom.Before(country.Baseline.AnchorTime) {
		return economy.EconomicIndicators{}, &economy.InvalidInputError{Field: "effective_from", Reason: "precedes the baseline anchor"}
	}

	history, err := s.store.IndicatorHistory(ctx, id)
	if err != nil {
		return economy.EconomicIndicators{}, err
	}
	if n := len(history); n > 0 && ind.EffectiveFrom.Before(history[n-1].EffectiveFrom) {
		return economy.EconomicIndicators{}, &economy.InvalidInputError{Field: "effective_from", Reason: "precedes the latest indicator version"}
	}

	if err := s.store.AppendIndicators(ctx, id, ind); err != nil {
		return economy.EconomicIndicators{}, err
	}
	s.log.WithFields(logrus.Fields{"country_id": id, "effective_from": ind.EffectiveFrom}).Info("indicators updated")
	return ind, nil
}

// =============================================================================
// RECALCULATION
// =============================================================================

// Recalculate projects a country to target (nil: simulated now), persists the
// projection and raises milestones.
func (s *Service) Recalculate(ctx context.Context, id economy.CountryID, target *economy.SimTime) (*Result, error) {
	at := s.clock.Now()
	if target != nil {
		at = *target
	}
	log := s.log.WithField("country_id", id)

	country, err := s.store.GetCountry(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.store.IndicatorHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	state, err := s.calc.ProjectTimeline(country.Baseline, history, at)
	if err != nil {
		return nil, err
	}

	detected := s.detector.Detect(country.Current, state)

	if err := s.store.SaveProjection(ctx, state); err != nil {
		return nil, fmt.Errorf("save projection for %s: %w", id, err)
	}

	raised := make([]milestone.Event, 0, len(detected))
	for _, ev := range detected {
		err := s.store.RecordMilestone(ctx, ev)
		switch {
		case errors.Is(err, economy.ErrConflict):
			continue
		case err != nil:
			// Current is already saved past the threshold, so this crossing is
			// not detected again unless the metric falls back and re-crosses
			log.WithError(economy.Transient("record milestone", err)).
				WithField("threshold_id", ev.ThresholdID).Warn("milestone not recorded")
			continue
		}
		raised = append(raised, ev)
		if s.notifier != nil {
			s.notifier.MilestoneReached(country.OwnerID, ev)
		}
	}

	if len(raised) > 0 {
		log.WithField("count", len(raised)).Info("milestones reached")
	}

	s.queueEvaluation(country.OwnerID, id)
	return &Result{State: state, Milestones: raised}, nil
}

// RecalculateAll recalculates every country at simulated now with bounded
// concurrency. Per-country failures are logged and reported, not returned.
func (s *Service) RecalculateAll(ctx context.Context) (BatchResult, error) {
	countries, err := s.store.ListCountries(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	now := s.clock.Now()
	results := make([]*Result, len(countries))
	failures := make([]error, len(countries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range countries {
		i, id := i, c.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.Recalculate(gctx, id, &now)
			results[i], failures[i] = res, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	batch := BatchResult{}
	for i, c := range countries {
		if failures[i] != nil {
			if batch.Failed == nil {
				batch.Failed = make(map[economy.CountryID]string)
			}
			batch.Failed[c.ID] = failures[i].Error()
			s.log.WithError(failures[i]).WithField("country_id", c.ID).Error("recalculation failed")
			continue
		}
		batch.Recalculated++
		batch.Milestones += len(results[i].Milestones)
	}
	return batch, nil
}

// Project computes a country's state at a time without persisting it.
func (s *Service) Project(ctx context.Context, id economy.CountryID, at economy.SimTime) (economy.ProjectedState, error) {
	country, err := s.store.GetCountry(ctx, id)
	if err != nil {
		return economy.ProjectedState{}, err
	}
	history, err := s.store.IndicatorHistory(ctx, id)
	if err != nil {
		return economy.ProjectedState{}, err
	}

	key := cacheKey{country: id, unix: at.Unix(), nanos: at.Nanosecond(), versions: len(history)}
	if v, ok := s.cache.Get(key); ok {
		return v.(economy.ProjectedState), nil
	}

	state, err := s.calc.ProjectTimeline(country.Baseline, history, at)
	if err != nil {
		return economy.ProjectedState{}, err
	}
	s.cache.Add(key, state)
	return state, nil
}

type cacheKey struct {
	country  economy.CountryID
	unix     int64
	nanos    int
	versions int
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// EvaluateAchievements runs an evaluation synchronously. Never fails.
func (s *Service) EvaluateAchievements(ctx context.Context, userID economy.UserID, countryID economy.CountryID, category *achievement.Category) []achievement.Unlock {
	if s.achievements == nil {
		return nil
	}
	return s.achievements.Evaluate(ctx, userID, countryID, category)
}

func (s *Service) queueEvaluation(userID economy.UserID, countryID economy.CountryID) {
	if s.evaluations == nil || userID == "" {
		return
	}
	s.evaluations.Submit(evaluation{UserID: userID, CountryID: countryID})
}

// WaitIdle blocks until queued evaluations are done.
func (s *Service) WaitIdle() {
	if s.evaluations != nil {
		s.evaluations.Wait()
	}
}

// Stats reports the evaluation queue counters.
func (s *Service) Stats() []dispatch.Stats {
	if s.evaluations == nil {
		return nil
	}
	return []dispatch.Stats{s.evaluations.Stats()}
}

func (s *Service) Shutdown(timeout time.Duration) error {
	if s.evaluations == nil {
		return nil
	}
	return s.evaluations.Shutdown(timeout)
}

func (s *Service) Clock() *economy.Clock { return s.clock }

func (s *Service) Achievements() *achievement.Engine { return s.achievements }

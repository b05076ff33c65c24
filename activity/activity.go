/*
activity.go - Event Emitter and feed records

PURPOSE:
  Turns milestone crossings and achievement unlocks into durable feed records.
  Emission is fire-and-forget: records go through a bounded dispatch queue and
  a failing feed store is logged, never returned to the recalculation or
  unlock that produced the record.

RECORD TEXT:
  Titles and descriptions are rendered once at emission with go-humanize
  ("Population reached 25,000,000", "Total GDP reached $1.2 trillion"), so the
  feed is readable without the catalogs that produced it.
*/
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/milestone"
)

type Kind string

const (
	KindMilestoneReached    Kind = "milestone_reached"
	KindAchievementUnlocked Kind = "achievement_unlocked"
)

// Record is one feed entry.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	Kind        Kind              `json:"kind"`
	CountryID   economy.CountryID `json:"country_id,omitempty"`
	UserID      economy.UserID    `json:"user_id,omitempty"`
	RefID       string            `json:"ref_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	SimTime     *economy.SimTime  `json:"sim_time,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Filter narrows a feed listing. Zero values match everything.
type Filter struct {
	CountryID economy.CountryID
	UserID    economy.UserID
	Limit     int
}

// Store persists feed records. Append-only.
type Store interface {
	AppendActivity(ctx context.Context, record Record) error
	// ListActivity returns records newest first.
	ListActivity(ctx context.Context, filter Filter) ([]Record, error)
}

// =============================================================================
// EMITTER
// =============================================================================

// Emitter writes feed records asynchronously.
type Emitter struct {
	queue *dispatch.Queue[Record]
	now   func() time.Time
}

// NewEmitter starts the feed queue over the store.
func NewEmitter(store Store, opts dispatch.Options) *Emitter {
	if opts.Name == "" {
		opts.Name = "activity"
	}
	return &Emitter{
		queue: dispatch.New(opts, func(ctx context.Context, r Record) error {
			if err := store.AppendActivity(ctx, r); err != nil {
				return fmt.Errorf("append activity %s for %s: %w", r.Kind, r.RefID, err)
			}
			return nil
		}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Emit enqueues a record. It never blocks and never fails.
func (e *Emitter) Emit(r Record) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now()
	}
	e.queue.Submit(r)
}

// MilestoneReached emits the feed record for a milestone crossing.
func (e *Emitter) MilestoneReached(owner economy.UserID, ev milestone.Event) {
	at := ev.DetectedAt
	e.Emit(Record{
		Kind:        KindMilestoneReached,
		CountryID:   ev.CountryID,
		UserID:      owner,
		RefID:       ev.ThresholdID,
		Title:       ev.Label,
		Description: describeMilestone(ev),
		Priority:    string(ev.Priority),
		SimTime:     &at,
	})
}

// AchievementUnlocked emits the feed record for an unlock. It satisfies
// achievement.Notifier.
func (e *Emitter) AchievementUnlocked(u achievement.Unlock, def achievement.Definition) {
	e.Emit(Record{
		Kind:        KindAchievementUnlocked,
		CountryID:   u.CountryID,
		UserID:      u.UserID,
		RefID:       def.ID,
		Title:       "Achievement unlocked: " + def.Name,
		Description: fmt.Sprintf("%s %s achievement worth %s points", titleCase(string(def.Rarity)), def.Category, humanize.Comma(int64(def.Points))),
		Priority:    rarityPriority(def.Rarity),
	})
}

func (e *Emitter) Stats() dispatch.Stats { return e.queue.Stats() }

// Wait blocks until every emitted record has been handled.
func (e *Emitter) Wait() { e.queue.Wait() }

func (e *Emitter) Shutdown(timeout time.Duration) error { return e.queue.Shutdown(timeout) }

// =============================================================================
// TEXT
// =============================================================================

func describeMilestone(ev milestone.Event) string {
	switch ev.Kind {
	case milestone.KindEconomicThreshold:
		return "Total GDP reached " + money(ev.Value)
	case milestone.KindPopulationThreshold:
		if n, err := decimal.NewFromString(ev.Value); err == nil {
			return "Population reached " + humanize.Comma(n.IntPart())
		}
	case milestone.KindTierChange:
		return "Now classified as " + strings.ReplaceAll(ev.Value, "_", " ")
	case milestone.KindGrowthSpike:
		if r, err := decimal.NewFromString(ev.Value); err == nil {
			return "Adjusted growth reached " + humanize.FtoaWithDigits(r.InexactFloat64()*100, 2) + "%"
		}
	}
	return ev.Label
}

var moneyScales = []struct {
	min  float64
	name string
}{
	{1e12, "trillion"},
	{1e9, "billion"},
	{1e6, "million"},
}

func money(value string) string {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	v := d.InexactFloat64()
	for _, s := range moneyScales {
		if v >= s.min {
			return "$" + humanize.FtoaWithDigits(v/s.min, 2) + " " + s.name
		}
	}
	return "$" + humanize.Commaf(v)
}

func rarityPriority(r achievement.Rarity) string {
	switch r {
	case achievement.RarityLegendary, achievement.RarityEpic:
		return string(milestone.PriorityCritical)
	case achievement.RarityRare:
		return string(milestone.PriorityHigh)
	case achievement.RarityUncommon:
		return string(milestone.PriorityNormal)
	}
	return string(milestone.PriorityLow)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ achievement.Notifier = (*Emitter)(nil)

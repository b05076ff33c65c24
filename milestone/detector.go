/*
detector.go - Milestone Detector

PURPOSE:
  Diffs a previous ProjectedState against a new one and reports every
  threshold whose edge was crossed. Edge-triggered: a country sitting above a
  threshold across many recalculations produces the event once, on the
  recalculation that crossed it.

RULES:
  - previous nil (first-ever projection): only FireOnFirst thresholds fire,
    and only if the new state has reached them.
  - Several thresholds crossed in one jump each produce one event, in
    catalog order. No coalescing, no skipping.
  - Moving down through a threshold produces nothing.

The detector holds no state. Storage uniqueness on (country, threshold) is
what makes a crossing recorded at most once across process restarts.
*/
package milestone

import (
	"github.com/google/uuid"
	"github.com/warp/nation-engine/economy"
)

// Event is one detected threshold crossing.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	CountryID   economy.CountryID `json:"country_id"`
	Kind        Kind              `json:"kind"`
	ThresholdID string            `json:"threshold_id"`
	Label       string            `json:"label"`
	Rank        int               `json:"rank"`
	Priority    Priority          `json:"priority"`
	Value       string            `json:"value"`
	DetectedAt  economy.SimTime   `json:"detected_at"`
}

type Detector struct {
	catalog *Catalog
}

func NewDetector(catalog *Catalog) *Detector {
	return &Detector{catalog: catalog}
}

func (d *Detector) Catalog() *Catalog { return d.catalog }

// Detect returns the events for every threshold crossed between prev and next.
func (d *Detector) Detect(prev *economy.ProjectedState, next economy.ProjectedState) []Event {
	var events []Event
	for _, t := range d.catalog.ordered {
		if !t.reached(next) {
			continue
		}
		if prev == nil {
			if !t.FireOnFirst {
				continue
			}
		} else if t.reached(*prev) {
			continue
		}
		events = append(events, Event{
			ID:          uuid.New(),
			CountryID:   next.CountryID,
			Kind:        t.Kind,
			ThresholdID: t.ID,
			Label:       t.Label,
			Rank:        t.Rank,
			Priority:    t.Priority(),
			Value:       t.observed(next),
			DetectedAt:  next.AsOf,
		})
	}
	return events
}

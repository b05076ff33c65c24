/*
types.go - Achievement definitions, unlock records and progress

An achievement is a named, points-bearing condition a user can unlock at
most once. Definitions are static catalog data; unlocks are append-only
facts keyed by (user, achievement).
*/
package achievement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/nation-engine/economy"
)

// =============================================================================
// CATEGORY & RARITY
// =============================================================================

type Category string

const (
	CategoryEconomic   Category = "economic"
	CategoryPopulation Category = "population"
	CategoryDiplomatic Category = "diplomatic"
	CategoryMilitary   Category = "military"
	CategorySocial     Category = "social"
	CategoryGovernance Category = "governance"
	CategorySpecial    Category = "special"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryEconomic,
	CategoryPopulation,
	CategoryDiplomatic,
	CategoryMilitary,
	CategorySocial,
	CategoryGovernance,
	CategorySpecial,
}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", &economy.InvalidInputError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
}

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarities = []Rarity{RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary}

func ParseRarity(s string) (Rarity, error) {
	for _, r := range rarities {
		if string(r) == s {
			return r, nil
		}
	}
	return "", &economy.InvalidInputError{Field: "rarity", Reason: fmt.Sprintf("unknown rarity %q", s)}
}

// =============================================================================
// DEFINITION & UNLOCK
// =============================================================================

// Definition is one catalog entry.
type Definition struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Rarity      Rarity
	Points      int
	Condition   Condition
}

// Unlock records that a user unlocked an achievement.
type Unlock struct {
	ID            uuid.UUID         `json:"id"`
	UserID        economy.UserID    `json:"user_id"`
	AchievementID string            `json:"achievement_id"`
	CountryID     economy.CountryID `json:"country_id,omitempty"`
	Manual        bool              `json:"manual"`
	UnlockedAt    time.Time         `json:"unlocked_at"`
}

// UnlockResult is the outcome of a manual unlock.
type UnlockResult struct {
	Unlock          Unlock `json:"unlock"`
	AlreadyUnlocked bool   `json:"already_unlocked"`
}

// =============================================================================
// PROGRESS
// =============================================================================

type CategoryProgress struct {
	Unlocked int `json:"unlocked"`
	Total    int `json:"total"`
	Points   int `json:"points"`
}

// Progress aggregates a user's unlocks against the catalog.
type Progress struct {
	UserID         economy.UserID                `json:"user_id"`
	TotalUnlocked  int                           `json:"total_unlocked"`
	TotalPoints    int                           `json:"total_points"`
	Available      int                           `json:"available"`
	PossiblePoints int                           `json:"possible_points"`
	ByCategory     map[Category]CategoryProgress `json:"by_category"`
}

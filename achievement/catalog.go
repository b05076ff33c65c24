package achievement

import (
	"fmt"

	"github.com/warp/nation-engine/economy"
)

// Catalog is the immutable, validated set of achievement definitions. Built
// once at startup; safe for concurrent reads.
type Catalog struct {
	ordered []Definition
	byID    map[string]int
}

// NewCatalog validates every definition. Order is preserved.
func NewCatalog(defs []Definition) (*Catalog, error) {
	list := append([]Definition(nil), defs...)
	byID := make(map[string]int, len(list))

	for i, d := range list {
		if d.ID == "" {
			return nil, &economy.InvalidInputError{Field: "achievement.id", Reason: "must not be empty"}
		}
		if _, dup := byID[d.ID]; dup {
			return nil, &economy.InvalidInputError{Field: "achievement.id", Reason: fmt.Sprintf("duplicate id %q", d.ID)}
		}
		if _, err := ParseCategory(string(d.Category)); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", d.ID, err)
		}
		if _, err := ParseRarity(string(d.Rarity)); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", d.ID, err)
		}
		if d.Points < 0 {
			return nil, &economy.InvalidInputError{Field: "achievement." + d.ID + ".points", Reason: "must not be negative"}
		}
		if err := d.Condition.Validate(); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", d.ID, err)
		}
		if list[i].Name == "" {
			list[i].Name = d.ID
		}
		byID[d.ID] = i
	}
	return &Catalog{ordered: list, byID: byID}, nil
}

func (c *Catalog) Get(id string) (Definition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.ordered[i], true
}

func (c *Catalog) All() []Definition {
	return append([]Definition(nil), c.ordered...)
}

func (c *Catalog) ByCategory(category Category) []Definition {
	var out []Definition
	for _, d := range c.ordered {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) Len() int { return len(c.ordered) }

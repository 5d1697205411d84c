package catalog

import "fmt"

// Action describes one restoration action players can perform on a tile.
// Progress accumulates by ProgressPerClick until it reaches 100, at which
// point the tile transitions to TargetState.
type Action struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	TargetState      string  `json:"targetState"`
	ProgressPerClick float64 `json:"progressPerClick"`
	RequiredClicks   int     `json:"requiredClicks"`
	Cooperative      bool    `json:"cooperative"`
}

// Catalog is a fixed lookup table of actions. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	actions map[int64]Action
}

// New creates a catalog from the given actions.
func New(actions ...Action) *Catalog {
	m := make(map[int64]Action, len(actions))
	for _, a := range actions {
		m[a.ID] = a
	}
	return &Catalog{actions: m}
}

// Default returns the built-in action set.
func Default() *Catalog {
	return New(
		Action{
			ID:               1,
			Name:             "Demolish factory",
			TargetState:      "ruined",
			ProgressPerClick: 0.33,
			RequiredClicks:   300,
			Cooperative:      true,
		},
		Action{
			ID:               2,
			Name:             "Clear debris",
			TargetState:      "cleaned",
			ProgressPerClick: 0.83,
			RequiredClicks:   120,
			Cooperative:      true,
		},
		Action{
			ID:               3,
			Name:             "Water zone",
			TargetState:      "green",
			ProgressPerClick: 5,
			RequiredClicks:   20,
			Cooperative:      false,
		},
		Action{
			ID:               4,
			Name:             "Build house",
			TargetState:      "buildable",
			ProgressPerClick: 0.5,
			RequiredClicks:   200,
			Cooperative:      true,
		},
	)
}

// Lookup returns the action with the given ID.
func (c *Catalog) Lookup(actionID int64) (Action, error) {
	action, ok := c.actions[actionID]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %d", actionID)
	}
	return action, nil
}

// All returns every action in the catalog.
func (c *Catalog) All() []Action {
	actions := make([]Action, 0, len(c.actions))
	for _, a := range c.actions {
		actions = append(actions, a)
	}
	return actions
}

// Package models provides data model definitions for the supplied core.
package models

import "time"

// Building is a physical location whose consumable supplies are tracked.
// The ID is generated locally and stays stable for the lifetime of the
// record; the remote row keeps it in a local_id column as the join key.
type Building struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Address     string    `json:"address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BuildingBundle groups a building with its items for bulk migration
// and pull sync.
type BuildingBundle struct {
	Building    Building
	SupplyItems []SupplyItem
	BuyingItems []BuyingItem
}

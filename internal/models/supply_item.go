package models

import "time"

// SupplyItem is a configured, recurring item tracked per building (the
// catalog entry a shopping-list entry can be derived from).
type SupplyItem struct {
	ID              string    `json:"id"`
	BuildingID      string    `json:"building_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Quantity        int       `json:"quantity"`
	Category        string    `json:"category,omitempty"`
	StorageRoom     string    `json:"storage_room,omitempty"`
	ShoppingHint    string    `json:"shopping_hint,omitempty"`
	PreferredBrands []string  `json:"preferred_brands,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

package models

import "time"

// BuyingItem is a concrete shopping-list entry. It can be derived from
// a SupplyItem but has an independent lifecycle: the supply link and
// the building link are both optional.
type BuyingItem struct {
	ID              string     `json:"id"`
	SupplyItemID    string     `json:"supply_item_id,omitempty"`
	BuildingID      string     `json:"building_id,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Quantity        int        `json:"quantity"`
	ShoppingHint    string     `json:"shopping_hint,omitempty"`
	Category        string     `json:"category,omitempty"`
	StorageRoom     string     `json:"storage_room,omitempty"`
	PreferredBrands []string   `json:"preferred_brands,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IsBought        bool       `json:"is_bought"`
	AddedAt         time.Time  `json:"added_at"`
	BoughtAt        *time.Time `json:"bought_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NormalizeBought keeps BoughtAt consistent with IsBought: bought items
// carry a purchase timestamp, unbought items carry none. The rule holds
// for locally applied and remotely applied changes alike.
func (b *BuyingItem) NormalizeBought(now time.Time) {
	if b.IsBought {
		if b.BoughtAt == nil {
			t := now
			b.BoughtAt = &t
		}
		return
	}
	b.BoughtAt = nil
}

package models

import "time"

// Cloud row types mirror the hosted record store schema. Rows carry a
// server-assigned primary key plus the client-generated local_id used
// to correlate them with local entities.

// CloudBuilding is a building row in the hosted store, owned by exactly
// one user.
type CloudBuilding struct {
	ID          string    `json:"id,omitempty"`
	LocalID     string    `json:"local_id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CloudSupplyItem is a supply item row, scoped to its parent building's
// remote id.
type CloudSupplyItem struct {
	ID              string    `json:"id,omitempty"`
	BuildingID      string    `json:"building_id"`
	LocalID         string    `json:"local_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Quantity        int       `json:"quantity"`
	Category        string    `json:"category"`
	StorageRoom     string    `json:"storage_room"`
	ShoppingHint    string    `json:"shopping_hint"`
	PreferredBrands []string  `json:"preferred_brands"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CloudBuyingItem is a shopping-list row, scoped to its parent
// building's remote id.
type CloudBuyingItem struct {
	ID              string     `json:"id,omitempty"`
	BuildingID      string     `json:"building_id"`
	LocalID         string     `json:"local_id"`
	SupplyItemID    string     `json:"supply_item_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Quantity        int        `json:"quantity"`
	ShoppingHint    string     `json:"shopping_hint"`
	Category        string     `json:"category"`
	StorageRoom     string     `json:"storage_room"`
	PreferredBrands []string   `json:"preferred_brands"`
	Notes           string     `json:"notes"`
	IsBought        bool       `json:"is_bought"`
	AddedAt         time.Time  `json:"added_at"`
	BoughtAt        *time.Time `json:"bought_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ToLocal maps a cloud building row back to the local entity. Item
// collections are not part of the row and are left to the caller.
func (c *CloudBuilding) ToLocal() Building {
	return Building{
		ID:          c.LocalID,
		Name:        c.Name,
		Description: c.Description,
		Address:     c.Address,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// ToLocal maps a cloud supply item row to the local entity. The local
// building id must be resolved by the caller from the row's remote
// building id.
func (c *CloudSupplyItem) ToLocal(buildingLocalID string) SupplyItem {
	return SupplyItem{
		ID:              c.LocalID,
		BuildingID:      buildingLocalID,
		Name:            c.Name,
		Description:     c.Description,
		Quantity:        c.Quantity,
		Category:        c.Category,
		StorageRoom:     c.StorageRoom,
		ShoppingHint:    c.ShoppingHint,
		PreferredBrands: c.PreferredBrands,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ToLocal maps a cloud buying item row to the local entity.
func (c *CloudBuyingItem) ToLocal(buildingLocalID string) BuyingItem {
	item := BuyingItem{
		ID:              c.LocalID,
		SupplyItemID:    c.SupplyItemID,
		BuildingID:      buildingLocalID,
		Name:            c.Name,
		Description:     c.Description,
		Quantity:        c.Quantity,
		ShoppingHint:    c.ShoppingHint,
		Category:        c.Category,
		StorageRoom:     c.StorageRoom,
		PreferredBrands: c.PreferredBrands,
		Notes:           c.Notes,
		IsBought:        c.IsBought,
		AddedAt:         c.AddedAt,
		BoughtAt:        c.BoughtAt,
		UpdatedAt:       c.UpdatedAt,
	}
	item.NormalizeBought(c.UpdatedAt)
	return item
}

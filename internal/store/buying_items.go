package store

import (
	"database/sql"

	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/uuid"
)

// CreateBuyingItem holds the caller-supplied fields of a new shopping
// list entry. SupplyItemID and BuildingID are optional links.
type CreateBuyingItem struct {
	SupplyItemID    string
	BuildingID      string
	Name            string
	Description     string
	Quantity        int
	ShoppingHint    string
	Category        string
	StorageRoom     string
	PreferredBrands []string
	Notes           string
}

// BuyingItemChanges is a partial update; nil fields are left untouched.
// Setting IsBought adjusts BoughtAt as a side effect.
type BuyingItemChanges struct {
	Name            *string
	Description     *string
	Quantity        *int
	ShoppingHint    *string
	Category        *string
	StorageRoom     *string
	PreferredBrands *[]string
	Notes           *string
	IsBought        *bool
}

// CreateBuyingItem inserts a new buying item with a generated local id.
// New items start unbought.
func (s *Store) CreateBuyingItem(in CreateBuyingItem) (*models.BuyingItem, error) {
	now := s.now()
	item := models.BuyingItem{
		ID:              uuid.New(),
		SupplyItemID:    in.SupplyItemID,
		BuildingID:      in.BuildingID,
		Name:            in.Name,
		Description:     in.Description,
		Quantity:        in.Quantity,
		ShoppingHint:    in.ShoppingHint,
		Category:        in.Category,
		StorageRoom:     in.StorageRoom,
		PreferredBrands: in.PreferredBrands,
		Notes:           in.Notes,
		IsBought:        false,
		AddedAt:         now,
		UpdatedAt:       now,
	}
	if err := s.insertBuyingItem(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// FromSupplyItem builds a buying item prefilled from a supply item's
// shopping details and persists it.
func (s *Store) FromSupplyItem(supply models.SupplyItem, quantity int) (*models.BuyingItem, error) {
	return s.CreateBuyingItem(CreateBuyingItem{
		SupplyItemID:    supply.ID,
		BuildingID:      supply.BuildingID,
		Name:            supply.Name,
		Description:     supply.Description,
		Quantity:        quantity,
		ShoppingHint:    supply.ShoppingHint,
		Category:        supply.Category,
		StorageRoom:     supply.StorageRoom,
		PreferredBrands: supply.PreferredBrands,
	})
}

// UpdateBuyingItem applies a partial update. Flipping IsBought to true
// stamps BoughtAt; flipping it back clears BoughtAt. Returns
// ErrNotFound when no item has the given id.
func (s *Store) UpdateBuyingItem(id string, changes BuyingItemChanges) (*models.BuyingItem, error) {
	existing, err := s.GetBuyingItem(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	if changes.Name != nil {
		existing.Name = *changes.Name
	}
	if changes.Description != nil {
		existing.Description = *changes.Description
	}
	if changes.Quantity != nil {
		existing.Quantity = *changes.Quantity
	}
	if changes.ShoppingHint != nil {
		existing.ShoppingHint = *changes.ShoppingHint
	}
	if changes.Category != nil {
		existing.Category = *changes.Category
	}
	if changes.StorageRoom != nil {
		existing.StorageRoom = *changes.StorageRoom
	}
	if changes.PreferredBrands != nil {
		existing.PreferredBrands = *changes.PreferredBrands
	}
	if changes.Notes != nil {
		existing.Notes = *changes.Notes
	}
	if changes.IsBought != nil {
		existing.IsBought = *changes.IsBought
	}
	existing.UpdatedAt = s.touch(existing.UpdatedAt)
	existing.NormalizeBought(existing.UpdatedAt)

	brands, err := encodeBrands(existing.PreferredBrands)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
	UPDATE buying_items SET name = ?, description = ?, quantity = ?, shopping_hint = ?,
		category = ?, storage_room = ?, preferred_brands = ?, notes = ?,
		is_bought = ?, bought_at = ?, updated_at = ?
	WHERE id = ?`,
		existing.Name, existing.Description, existing.Quantity, existing.ShoppingHint,
		existing.Category, existing.StorageRoom, brands, existing.Notes,
		existing.IsBought, toMillisPtr(existing.BoughtAt), toMillis(existing.UpdatedAt), id)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// PutBuyingItem upserts a buying item applied from the remote store,
// clamping updated_at against the persisted value. The bought state
// is normalized so a bought row always carries a purchase timestamp.
func (s *Store) PutBuyingItem(item models.BuyingItem) error {
	existing, err := s.GetBuyingItem(item.ID)
	if err != nil {
		return err
	}
	if existing != nil && item.UpdatedAt.Before(existing.UpdatedAt) {
		item.UpdatedAt = existing.UpdatedAt
	}
	item.NormalizeBought(item.UpdatedAt)

	brands, err := encodeBrands(item.PreferredBrands)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
	INSERT INTO buying_items (id, supply_item_id, building_id, name, description, quantity,
		shopping_hint, category, storage_room, preferred_brands, notes,
		is_bought, added_at, bought_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		supply_item_id = excluded.supply_item_id,
		building_id = excluded.building_id,
		name = excluded.name,
		description = excluded.description,
		quantity = excluded.quantity,
		shopping_hint = excluded.shopping_hint,
		category = excluded.category,
		storage_room = excluded.storage_room,
		preferred_brands = excluded.preferred_brands,
		notes = excluded.notes,
		is_bought = excluded.is_bought,
		bought_at = excluded.bought_at,
		updated_at = excluded.updated_at`,
		item.ID, nullable(item.SupplyItemID), nullable(item.BuildingID), item.Name,
		item.Description, item.Quantity, item.ShoppingHint, item.Category, item.StorageRoom,
		brands, item.Notes, item.IsBought, toMillis(item.AddedAt),
		toMillisPtr(item.BoughtAt), toMillis(item.UpdatedAt))
	return err
}

// DeleteBuyingItem removes a buying item.
func (s *Store) DeleteBuyingItem(id string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM buying_items WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetBuyingItem returns a buying item by id, or nil when absent.
func (s *Store) GetBuyingItem(id string) (*models.BuyingItem, error) {
	row := s.db.QueryRow(buyingItemSelect+" WHERE id = ?", id)
	item, err := scanBuyingItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetAllBuyingItems returns every buying item in list order, oldest
// first.
func (s *Store) GetAllBuyingItems() ([]models.BuyingItem, error) {
	return s.queryBuyingItems(buyingItemSelect + " ORDER BY added_at")
}

// ListBuyingItems returns the buying items linked to one building.
func (s *Store) ListBuyingItems(buildingID string) ([]models.BuyingItem, error) {
	return s.queryBuyingItems(buyingItemSelect+" WHERE building_id = ? ORDER BY added_at", buildingID)
}

// ListOpenBuyingItems returns the buying items that are not yet bought.
func (s *Store) ListOpenBuyingItems() ([]models.BuyingItem, error) {
	return s.queryBuyingItems(buyingItemSelect + " WHERE is_bought = 0 ORDER BY added_at")
}

var buyingItemSearchFields = map[string]bool{
	"name":        true,
	"description": true,
	"category":    true,
	"notes":       true,
}

// SearchBuyingItems matches query as a substring against the given
// fields.
func (s *Store) SearchBuyingItems(query string, fields []string) ([]models.BuyingItem, error) {
	clauses, args, err := likeClauses(query, fields, buyingItemSearchFields)
	if err != nil {
		return nil, err
	}
	return s.queryBuyingItems(buyingItemSelect+" WHERE "+clauses+" ORDER BY added_at", args...)
}

const buyingItemSelect = `
	SELECT id, supply_item_id, building_id, name, description, quantity,
		shopping_hint, category, storage_room, preferred_brands, notes,
		is_bought, added_at, bought_at, updated_at
	FROM buying_items`

func (s *Store) insertBuyingItem(item *models.BuyingItem) error {
	brands, err := encodeBrands(item.PreferredBrands)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
	INSERT INTO buying_items (id, supply_item_id, building_id, name, description, quantity,
		shopping_hint, category, storage_room, preferred_brands, notes,
		is_bought, added_at, bought_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, nullable(item.SupplyItemID), nullable(item.BuildingID), item.Name,
		item.Description, item.Quantity, item.ShoppingHint, item.Category, item.StorageRoom,
		brands, item.Notes, item.IsBought, toMillis(item.AddedAt),
		toMillisPtr(item.BoughtAt), toMillis(item.UpdatedAt))
	return err
}

func (s *Store) queryBuyingItems(query string, args ...any) ([]models.BuyingItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.BuyingItem
	for rows.Next() {
		item, err := scanBuyingItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanBuyingItem(row rowScanner) (*models.BuyingItem, error) {
	var item models.BuyingItem
	var supplyID, buildingID sql.NullString
	var brands string
	var addedAt, updatedAt int64
	var boughtAt sql.NullInt64
	if err := row.Scan(&item.ID, &supplyID, &buildingID, &item.Name, &item.Description,
		&item.Quantity, &item.ShoppingHint, &item.Category, &item.StorageRoom,
		&brands, &item.Notes, &item.IsBought, &addedAt, &boughtAt, &updatedAt); err != nil {
		return nil, err
	}
	item.SupplyItemID = supplyID.String
	item.BuildingID = buildingID.String
	item.PreferredBrands = decodeBrands(brands)
	item.AddedAt = fromMillis(addedAt)
	if boughtAt.Valid {
		t := fromMillis(boughtAt.Int64)
		item.BoughtAt = &t
	}
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

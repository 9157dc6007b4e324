package store

import (
	"database/sql"

	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/uuid"
)

// CreateSupplyItem holds the caller-supplied fields of a new supply
// item. The building id must reference a building known locally; the
// store does not enforce this.
type CreateSupplyItem struct {
	BuildingID      string
	Name            string
	Description     string
	Quantity        int
	Category        string
	StorageRoom     string
	ShoppingHint    string
	PreferredBrands []string
}

// SupplyItemChanges is a partial update; nil fields are left untouched.
type SupplyItemChanges struct {
	Name            *string
	Description     *string
	Quantity        *int
	Category        *string
	StorageRoom     *string
	ShoppingHint    *string
	PreferredBrands *[]string
}

// CreateSupplyItem inserts a new supply item with a generated local id
// and current timestamps.
func (s *Store) CreateSupplyItem(in CreateSupplyItem) (*models.SupplyItem, error) {
	now := s.now()
	item := models.SupplyItem{
		ID:              uuid.New(),
		BuildingID:      in.BuildingID,
		Name:            in.Name,
		Description:     in.Description,
		Quantity:        in.Quantity,
		Category:        in.Category,
		StorageRoom:     in.StorageRoom,
		ShoppingHint:    in.ShoppingHint,
		PreferredBrands: in.PreferredBrands,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	brands, err := encodeBrands(item.PreferredBrands)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
	INSERT INTO supply_items (id, building_id, name, description, quantity, category,
		storage_room, shopping_hint, preferred_brands, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.BuildingID, item.Name, item.Description, item.Quantity, item.Category,
		item.StorageRoom, item.ShoppingHint, brands, toMillis(item.CreatedAt), toMillis(item.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateSupplyItem applies a partial update and bumps updated_at.
// Returns ErrNotFound when no item has the given id.
func (s *Store) UpdateSupplyItem(id string, changes SupplyItemChanges) (*models.SupplyItem, error) {
	existing, err := s.GetSupplyItem(id)
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
	if changes.Category != nil {
		existing.Category = *changes.Category
	}
	if changes.StorageRoom != nil {
		existing.StorageRoom = *changes.StorageRoom
	}
	if changes.ShoppingHint != nil {
		existing.ShoppingHint = *changes.ShoppingHint
	}
	if changes.PreferredBrands != nil {
		existing.PreferredBrands = *changes.PreferredBrands
	}
	existing.UpdatedAt = s.touch(existing.UpdatedAt)

	brands, err := encodeBrands(existing.PreferredBrands)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
	UPDATE supply_items SET name = ?, description = ?, quantity = ?, category = ?,
		storage_room = ?, shopping_hint = ?, preferred_brands = ?, updated_at = ?
	WHERE id = ?`,
		existing.Name, existing.Description, existing.Quantity, existing.Category,
		existing.StorageRoom, existing.ShoppingHint, brands, toMillis(existing.UpdatedAt), id)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// PutSupplyItem upserts a supply item applied from the remote store,
// clamping updated_at against the persisted value.
func (s *Store) PutSupplyItem(item models.SupplyItem) error {
	existing, err := s.GetSupplyItem(item.ID)
	if err != nil {
		return err
	}
	if existing != nil && item.UpdatedAt.Before(existing.UpdatedAt) {
		item.UpdatedAt = existing.UpdatedAt
	}

	brands, err := encodeBrands(item.PreferredBrands)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
	INSERT INTO supply_items (id, building_id, name, description, quantity, category,
		storage_room, shopping_hint, preferred_brands, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		building_id = excluded.building_id,
		name = excluded.name,
		description = excluded.description,
		quantity = excluded.quantity,
		category = excluded.category,
		storage_room = excluded.storage_room,
		shopping_hint = excluded.shopping_hint,
		preferred_brands = excluded.preferred_brands,
		updated_at = excluded.updated_at`,
		item.ID, item.BuildingID, item.Name, item.Description, item.Quantity, item.Category,
		item.StorageRoom, item.ShoppingHint, brands, toMillis(item.CreatedAt), toMillis(item.UpdatedAt))
	return err
}

// DeleteSupplyItem removes a supply item.
func (s *Store) DeleteSupplyItem(id string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM supply_items WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetSupplyItem returns a supply item by id, or nil when absent.
func (s *Store) GetSupplyItem(id string) (*models.SupplyItem, error) {
	row := s.db.QueryRow(supplyItemSelect+" WHERE id = ?", id)
	item, err := scanSupplyItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetAllSupplyItems returns every supply item ordered by creation time.
func (s *Store) GetAllSupplyItems() ([]models.SupplyItem, error) {
	return s.querySupplyItems(supplyItemSelect + " ORDER BY created_at")
}

// ListSupplyItems returns the supply items of one building.
func (s *Store) ListSupplyItems(buildingID string) ([]models.SupplyItem, error) {
	return s.querySupplyItems(supplyItemSelect+" WHERE building_id = ? ORDER BY created_at", buildingID)
}

var supplyItemSearchFields = map[string]bool{
	"name":         true,
	"description":  true,
	"category":     true,
	"storage_room": true,
}

// SearchSupplyItems matches query as a substring against the given
// fields.
func (s *Store) SearchSupplyItems(query string, fields []string) ([]models.SupplyItem, error) {
	clauses, args, err := likeClauses(query, fields, supplyItemSearchFields)
	if err != nil {
		return nil, err
	}
	return s.querySupplyItems(supplyItemSelect+" WHERE "+clauses+" ORDER BY created_at", args...)
}

const supplyItemSelect = `
	SELECT id, building_id, name, description, quantity, category,
		storage_room, shopping_hint, preferred_brands, created_at, updated_at
	FROM supply_items`

func (s *Store) querySupplyItems(query string, args ...any) ([]models.SupplyItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.SupplyItem
	for rows.Next() {
		item, err := scanSupplyItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanSupplyItem(row rowScanner) (*models.SupplyItem, error) {
	var item models.SupplyItem
	var brands string
	var createdAt, updatedAt int64
	if err := row.Scan(&item.ID, &item.BuildingID, &item.Name, &item.Description,
		&item.Quantity, &item.Category, &item.StorageRoom, &item.ShoppingHint,
		&brands, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	item.PreferredBrands = decodeBrands(brands)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/uuid"
)

// CreateBuilding holds the caller-supplied fields of a new building.
type CreateBuilding struct {
	Name        string
	Description string
	Address     string
}

// BuildingChanges is a partial update; nil fields are left untouched.
type BuildingChanges struct {
	Name        *string
	Description *string
	Address     *string
}

// CreateBuilding inserts a new building with a generated local id and
// current timestamps.
func (s *Store) CreateBuilding(in CreateBuilding) (*models.Building, error) {
	now := s.now()
	b := models.Building{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Address:     in.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(`
	INSERT INTO buildings (id, name, description, address, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, b.Address, toMillis(b.CreatedAt), toMillis(b.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBuilding applies a partial update and bumps updated_at. Returns
// ErrNotFound when no building has the given id.
func (s *Store) UpdateBuilding(id string, changes BuildingChanges) (*models.Building, error) {
	existing, err := s.GetBuilding(id)
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
	if changes.Address != nil {
		existing.Address = *changes.Address
	}
	existing.UpdatedAt = s.touch(existing.UpdatedAt)

	_, err = s.db.Exec(`
	UPDATE buildings SET name = ?, description = ?, address = ?, updated_at = ?
	WHERE id = ?`,
		existing.Name, existing.Description, existing.Address, toMillis(existing.UpdatedAt), id)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// PutBuilding upserts a building applied from the remote store. The
// local id is taken as-is; updated_at is clamped so it never moves
// earlier than the value already persisted.
func (s *Store) PutBuilding(b models.Building) error {
	existing, err := s.GetBuilding(b.ID)
	if err != nil {
		return err
	}
	if existing != nil && b.UpdatedAt.Before(existing.UpdatedAt) {
		b.UpdatedAt = existing.UpdatedAt
	}

	_, err = s.db.Exec(`
	INSERT INTO buildings (id, name, description, address, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		address = excluded.address,
		updated_at = excluded.updated_at`,
		b.ID, b.Name, b.Description, b.Address, toMillis(b.CreatedAt), toMillis(b.UpdatedAt))
	return err
}

// DeleteBuilding removes a building. Items referencing it are left in
// place; referential consistency is the caller's concern.
func (s *Store) DeleteBuilding(id string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM buildings WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetBuilding returns a building by id, or nil when absent.
func (s *Store) GetBuilding(id string) (*models.Building, error) {
	row := s.db.QueryRow(`
	SELECT id, name, description, address, created_at, updated_at
	FROM buildings WHERE id = ?`, id)
	b, err := scanBuilding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetAllBuildings returns every building ordered by creation time.
func (s *Store) GetAllBuildings() ([]models.Building, error) {
	rows, err := s.db.Query(`
	SELECT id, name, description, address, created_at, updated_at
	FROM buildings ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buildings []models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		buildings = append(buildings, *b)
	}
	return buildings, rows.Err()
}

var buildingSearchFields = map[string]bool{
	"name":        true,
	"description": true,
	"address":     true,
}

// SearchBuildings matches query as a substring against the given
// fields. Unknown field names are rejected.
func (s *Store) SearchBuildings(query string, fields []string) ([]models.Building, error) {
	clauses, args, err := likeClauses(query, fields, buildingSearchFields)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT id, name, description, address, created_at, updated_at
	FROM buildings WHERE `+clauses+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buildings []models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		buildings = append(buildings, *b)
	}
	return buildings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuilding(row rowScanner) (*models.Building, error) {
	var b models.Building
	var createdAt, updatedAt int64
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Address, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

// likeClauses builds an OR of LIKE conditions over whitelisted columns.
func likeClauses(query string, fields []string, allowed map[string]bool) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("search requires at least one field")
	}
	var clauses []string
	var args []any
	pattern := "%" + query + "%"
	for _, field := range fields {
		if !allowed[field] {
			return "", nil, fmt.Errorf("unknown search field: %s", field)
		}
		clauses = append(clauses, field+" LIKE ?")
		args = append(args, pattern)
	}
	return strings.Join(clauses, " OR "), args, nil
}

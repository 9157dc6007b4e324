package store

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

// migrate applies pending schema migrations in version order. Applied
// versions are tracked in schema_migrations together with a content
// checksum so a changed migration file is detected instead of silently
// re-run.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`); err != nil {
		return fmt.Errorf("failed to initialize schema_migrations: %w", err)
	}

	applied := make(map[int]string)
	rows, err := s.db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return err
		}
		applied[version] = checksum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	type migration struct {
		version     int
		description string
		name        string
	}
	var pending []migration
	for _, entry := range entries {
		name := entry.Name()
		// Filename format: V1__initial_schema.up.sql
		parts := strings.SplitN(strings.TrimSuffix(name, ".up.sql"), "__", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "V") {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil {
			continue
		}
		pending = append(pending, migration{version: version, description: parts[1], name: name})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		content, err := migrationFS.ReadFile("migrations/" + m.name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", m.name, err)
		}
		sum := sha256.Sum256(content)
		checksum := hex.EncodeToString(sum[:])

		if existing, ok := applied[m.version]; ok {
			if existing != checksum {
				return fmt.Errorf("migration V%d checksum mismatch: schema file changed after being applied", m.version)
			}
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration V%d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			m.version, s.now().Unix(), m.description, checksum,
		); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.WithField("version", m.version).Info("Applied schema migration")
	}

	return nil
}

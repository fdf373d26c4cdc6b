// Package sqlite stores the voice settings document in a local SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/npcvoice/internal/voice/settings"
)

// Schema is the SQL DDL for the voice_settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_settings (
    profile    TEXT PRIMARY KEY,
    document   TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// DefaultProfile is the row used when no profile name is configured.
const DefaultProfile = "default"

// Store is a [settings.Store] backed by SQLite.
type Store struct {
	db      *sql.DB
	profile string
}

var _ settings.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path, switches it to WAL
// mode and applies [Schema].
func Open(ctx context.Context, path, profile string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("settings/sqlite: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings/sqlite: open %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings/sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings/sqlite: migrate: %w", err)
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Store{db: db, profile: profile}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load fetches and migrates the profile's document.
func (s *Store) Load(ctx context.Context) (*settings.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM voice_settings WHERE profile = ?`, s.profile).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settings/sqlite: load %q: %w", s.profile, settings.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("settings/sqlite: load %q: %w", s.profile, err)
	}
	doc, err := settings.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("settings/sqlite: load %q: %w", s.profile, err)
	}
	return doc, nil
}

// Save upserts the profile's document.
func (s *Store) Save(ctx context.Context, doc *settings.Document) error {
	data, err := settings.Encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO voice_settings (profile, document, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(profile) DO UPDATE SET
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP`,
		s.profile, string(data))
	if err != nil {
		return fmt.Errorf("settings/sqlite: save %q: %w", s.profile, err)
	}
	return nil
}

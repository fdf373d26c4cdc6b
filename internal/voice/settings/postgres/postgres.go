// Package postgres stores the voice settings document in PostgreSQL as JSONB,
// one row per named profile, so several game clients can share a database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/npcvoice/internal/voice/settings"
)

// Schema is the SQL DDL for the voice_settings table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_settings (
    profile    TEXT PRIMARY KEY,
    document   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DefaultProfile is the row used when no profile name is configured.
const DefaultProfile = "default"

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [settings.Store] backed by PostgreSQL.
type Store struct {
	db      DB
	profile string
}

var _ settings.Store = (*Store)(nil)

// New returns a Store for the named profile. A blank profile selects
// [DefaultProfile]. The caller is responsible for calling [Store.Migrate].
func New(db DB, profile string) *Store {
	if profile == "" {
		profile = DefaultProfile
	}
	return &Store{db: db, profile: profile}
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings/postgres: migrate: %w", err)
	}
	return nil
}

// Load fetches and migrates the profile's document.
func (s *Store) Load(ctx context.Context) (*settings.Document, error) {
	const query = `SELECT document FROM voice_settings WHERE profile = $1`

	var data []byte
	if err := s.db.QueryRow(ctx, query, s.profile).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("settings/postgres: load %q: %w", s.profile, settings.ErrNotFound)
		}
		return nil, fmt.Errorf("settings/postgres: load %q: %w", s.profile, err)
	}
	doc, err := settings.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("settings/postgres: load %q: %w", s.profile, err)
	}
	return doc, nil
}

// Save upserts the profile's document.
func (s *Store) Save(ctx context.Context, doc *settings.Document) error {
	data, err := settings.Encode(doc)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO voice_settings (profile, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (profile) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, s.profile, data); err != nil {
		return fmt.Errorf("settings/postgres: save %q: %w", s.profile, err)
	}
	return nil
}

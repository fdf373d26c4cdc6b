package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore persists the document as a JSON file.
//
// Saves are atomic: the document is written to a temporary file in the same
// directory and renamed over the target. A file that cannot be parsed is moved
// aside to "<path>.corrupt" and replaced by defaults instead of failing the
// load.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a [FileStore] for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads and migrates the document.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("settings: load %q: %w", s.path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("settings: load %q: %w", s.path, err)
	}
	doc, err := Decode(data)
	if err != nil {
		backup := s.path + ".corrupt"
		slog.Warn("settings: file is corrupt, starting from defaults",
			"path", s.path, "backup", backup, "err", err)
		if rerr := os.Rename(s.path, backup); rerr != nil {
			slog.Warn("settings: could not move corrupt file aside", "path", s.path, "err", rerr)
		}
		return Default(), nil
	}
	return doc, nil
}

// Save writes the migrated document atomically.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: save: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: save: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("settings: save: rename: %w", err)
	}
	return nil
}

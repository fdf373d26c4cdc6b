package bucket

import (
	"fmt"
	"slices"
	"strings"
)

// Store holds the migrated bucket list and the designated default bucket.
//
// Like the registry, a Store is not safe for concurrent use; the resolver
// guards it.
type Store struct {
	buckets    []Bucket
	defaultKey string
}

// NewStore migrates raw and selects defaultName via [Store.SetDefault].
func NewStore(raw []Bucket, defaultName string) *Store {
	s := &Store{buckets: MigrateAndClean(raw)}
	s.SetDefault(defaultName)
	return s
}

func (s *Store) index(name string) int {
	canon, ok := CanonicalName(name)
	if !ok {
		return -1
	}
	return slices.IndexFunc(s.buckets, func(b Bucket) bool {
		return strings.EqualFold(b.Name, canon)
	})
}

// Buckets returns a deep copy of all buckets in store order.
func (s *Store) Buckets() []Bucket {
	out := make([]Bucket, len(s.buckets))
	for i, b := range s.buckets {
		out[i] = Bucket{Name: b.Name, Voices: slices.Clone(b.Voices)}
	}
	return out
}

// Names returns the bucket names in store order.
func (s *Store) Names() []string {
	out := make([]string, len(s.buckets))
	for i, b := range s.buckets {
		out[i] = b.Name
	}
	return out
}

// Has reports whether a bucket with the given name exists.
func (s *Store) Has(name string) bool { return s.index(name) >= 0 }

// Voices returns a copy of the named bucket's voice list. Unknown buckets
// yield nil and false.
func (s *Store) Voices(name string) ([]string, bool) {
	i := s.index(name)
	if i < 0 {
		return nil, false
	}
	return slices.Clone(s.buckets[i].Voices), true
}

// Default returns the name of the default bucket.
func (s *Store) Default() string { return s.buckets[s.index(s.defaultKey)].Name }

// SetDefault designates name as the default bucket. Blank or unknown names
// fall back to [FallbackDefault]. It returns the name actually selected.
func (s *Store) SetDefault(name string) string {
	i := s.index(name)
	if i < 0 {
		i = s.index(FallbackDefault)
	}
	s.defaultKey = s.buckets[i].Name
	return s.defaultKey
}

// AddVoice appends voiceID to the named bucket, creating a custom bucket when
// none exists yet. It is a no-op when the bucket already holds the ID
// (case-insensitively) and reports whether anything changed.
func (s *Store) AddVoice(name, voiceID string) (bool, error) {
	voiceID = strings.TrimSpace(voiceID)
	canon, ok := CanonicalName(name)
	if !ok {
		return false, fmt.Errorf("bucket: add voice: %w: blank name", ErrUnknownBucket)
	}
	if voiceID == "" {
		return false, nil
	}
	i := s.index(canon)
	if i < 0 {
		s.buckets = append(s.buckets, Bucket{Name: canon})
		i = len(s.buckets) - 1
	}
	b := &s.buckets[i]
	if slices.ContainsFunc(b.Voices, func(v string) bool { return strings.EqualFold(v, voiceID) }) {
		return false, nil
	}
	b.Voices = append(b.Voices, voiceID)
	return true, nil
}

// RemoveVoice drops voiceID (case-insensitively) from the named bucket. The
// bucket itself is kept even when it becomes empty.
func (s *Store) RemoveVoice(name, voiceID string) (bool, error) {
	i := s.index(name)
	if i < 0 {
		return false, fmt.Errorf("bucket: remove voice from %q: %w", name, ErrUnknownBucket)
	}
	b := &s.buckets[i]
	n := len(b.Voices)
	b.Voices = slices.DeleteFunc(b.Voices, func(v string) bool {
		return strings.EqualFold(v, strings.TrimSpace(voiceID))
	})
	return len(b.Voices) != n, nil
}

// Clear empties the named bucket without deleting it.
func (s *Store) Clear(name string) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("bucket: clear %q: %w", name, ErrUnknownBucket)
	}
	s.buckets[i].Voices = []string{}
	return nil
}

// Normalize re-runs [MigrateAndClean] over the current contents, which sorts
// voice lists and orders custom buckets. The default bucket is preserved.
func (s *Store) Normalize() {
	s.buckets = MigrateAndClean(s.buckets)
	s.SetDefault(s.defaultKey)
}

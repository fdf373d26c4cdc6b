// Package settings defines the persisted voice configuration document and the
// stores that load and save it.
//
// Every load runs [Migrate], which repairs whatever it finds: blank or
// duplicate overrides are dropped, buckets are canonicalised through
// [bucket.MigrateAndClean] and out-of-range values are clamped. Corrupt
// entries never surface as errors. Migrate is idempotent, and because
// encoding/json writes map keys in sorted order, [Encode] of a migrated
// document is byte-stable.
package settings

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

// CurrentVersion is the document schema version written by [Migrate].
const CurrentVersion = 2

// ErrNotFound is returned by [Store.Load] when nothing has been persisted yet.
var ErrNotFound = errors.New("settings: not found")

// Store loads and saves the settings document.
//
// Implementations must return a migrated document from Load and wrap
// [ErrNotFound] when no document exists.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// ExactOverride forces a specific voice for one NPC.
type ExactOverride struct {
	NPC     string `json:"npc"`
	VoiceID string `json:"voice_id"`
	Enabled bool   `json:"enabled"`
}

// Profile carries optional per-NPC tag requirements.
type Profile struct {
	RequiredTags  tag.Set `json:"required_tags,omitempty"`
	PreferredTags tag.Set `json:"preferred_tags,omitempty"`
	NPCTags       tag.Set `json:"npc_tags,omitempty"`
	Tone          tag.Tag `json:"tone,omitempty"`
	Accent        tag.Tag `json:"accent,omitempty"`
}

// IsZero reports whether p carries no information.
func (p Profile) IsZero() bool {
	return len(p.RequiredTags) == 0 && len(p.PreferredTags) == 0 && len(p.NPCTags) == 0 &&
		p.Tone.IsZero() && p.Accent.IsZero()
}

// VoiceMeta is the locally attached metadata of one voice.
type VoiceMeta struct {
	Tags     tag.Set `json:"tags,omitempty"`
	Tone     tag.Tag `json:"tone,omitempty"`
	Accent   tag.Tag `json:"accent,omitempty"`
	Enabled  bool    `json:"enabled"`
	Reserved bool    `json:"reserved,omitempty"`
}

// CatalogueEntry is one voice of the last catalogue fetched from the provider.
// It lets resolution keep working while the provider is unreachable.
type CatalogueEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Document is the complete persisted voice configuration.
type Document struct {
	Version         int                  `json:"version"`
	Enabled         bool                 `json:"enabled"`
	Volume          float64              `json:"volume"`
	DefaultBucket   string               `json:"default_bucket"`
	Buckets         []bucket.Bucket      `json:"buckets"`
	ExactOverrides  []ExactOverride      `json:"exact_overrides"`
	BucketOverrides map[string]string    `json:"bucket_overrides"`
	AssignedVoices  map[string]string    `json:"assigned_voices"`
	Voices          map[string]VoiceMeta `json:"voices"`
	Profiles        map[string]Profile   `json:"profiles"`
	Catalogue       []CatalogueEntry     `json:"catalogue"`
}

// Default returns a fresh, already migrated document.
func Default() *Document {
	return Migrate(&Document{Enabled: true, Volume: 1})
}

// FoldKey is the case-insensitive form of an NPC name used for map lookups.
func FoldKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Migrate returns a repaired copy of doc. A nil doc yields [Default]. The input
// is not modified.
func Migrate(doc *Document) *Document {
	if doc == nil {
		return Default()
	}
	out := &Document{
		Version: CurrentVersion,
		Enabled: doc.Enabled,
		Volume:  clampVolume(doc.Volume),
		Buckets: bucket.MigrateAndClean(doc.Buckets),
	}
	out.DefaultBucket = bucket.NewStore(out.Buckets, doc.DefaultBucket).Default()
	out.ExactOverrides = cleanOverrides(doc.ExactOverrides)
	out.BucketOverrides = cleanNPCMap(doc.BucketOverrides, func(v string) string {
		name, _ := bucket.CanonicalName(v)
		return name
	})
	out.AssignedVoices = cleanNPCMap(doc.AssignedVoices, strings.TrimSpace)
	out.Voices = cleanVoices(doc.Voices)
	out.Profiles = cleanProfiles(doc.Profiles)
	out.Catalogue = cleanCatalogue(doc.Catalogue)
	return out
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}

// cleanOverrides trims entries, drops blank ones and keeps the first of
// several overrides for the same NPC.
func cleanOverrides(in []ExactOverride) []ExactOverride {
	out := make([]ExactOverride, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, o := range in {
		o.NPC = strings.TrimSpace(o.NPC)
		o.VoiceID = strings.TrimSpace(o.VoiceID)
		k := FoldKey(o.NPC)
		if k == "" || o.VoiceID == "" {
			slog.Debug("settings: dropping malformed exact override", "npc", o.NPC, "voice_id", o.VoiceID)
			continue
		}
		if _, dup := seen[k]; dup {
			slog.Debug("settings: dropping duplicate exact override", "npc", o.NPC)
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}
	return out
}

// sortedKeys returns the keys of m in byte order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// cleanNPCMap trims NPC-keyed entries, drops blank keys or values and keeps
// the byte-wise smallest spelling of keys that collide case-insensitively.
func cleanNPCMap(in map[string]string, cleanValue func(string) string) map[string]string {
	out := make(map[string]string, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range sortedKeys(in) {
		name := strings.TrimSpace(raw)
		value := cleanValue(in[raw])
		k := FoldKey(name)
		if k == "" || value == "" {
			slog.Debug("settings: dropping malformed npc entry", "npc", raw)
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out[name] = value
	}
	return out
}

func cleanVoices(in map[string]VoiceMeta) map[string]VoiceMeta {
	out := make(map[string]VoiceMeta, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range sortedKeys(in) {
		id := strings.TrimSpace(raw)
		k := strings.ToLower(id)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		m := in[raw]
		m.Tags = tag.NewSet(m.Tags.Strings()...).Sorted()
		m.Tone = tag.Normalize(string(m.Tone))
		m.Accent = tag.Normalize(string(m.Accent))
		out[id] = m
	}
	return out
}

func cleanProfiles(in map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range sortedKeys(in) {
		name := strings.TrimSpace(raw)
		k := FoldKey(name)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		p := in[raw]
		p.RequiredTags = tag.NewSet(p.RequiredTags.Strings()...).Sorted()
		p.PreferredTags = tag.NewSet(p.PreferredTags.Strings()...).Sorted()
		p.NPCTags = tag.NewSet(p.NPCTags.Strings()...).Sorted()
		p.Tone = tag.Normalize(string(p.Tone))
		p.Accent = tag.Normalize(string(p.Accent))
		if p.IsZero() {
			continue
		}
		seen[k] = struct{}{}
		out[name] = p
	}
	return out
}

func cleanCatalogue(in []CatalogueEntry) []CatalogueEntry {
	out := make([]CatalogueEntry, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e.ID = strings.TrimSpace(e.ID)
		e.DisplayName = strings.TrimSpace(e.DisplayName)
		k := strings.ToLower(e.ID)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b CatalogueEntry) int {
		return cmp.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID))
	})
	return out
}

// Encode migrates doc and renders it as indented JSON.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(Migrate(doc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses data and migrates the result. Unknown fields are ignored so
// that older binaries can read newer files.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Default(), nil
	}
	// Fields absent from old files default to on/full volume.
	doc := &Document{Enabled: true, Volume: 1}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	return Migrate(doc), nil
}

// Hash returns the hex SHA-256 of the canonical encoding of doc.
func Hash(doc *Document) (string, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadOrDefault loads from s, substituting [Default] when nothing has been
// saved yet.
func LoadOrDefault(ctx context.Context, s Store) (*Document, error) {
	doc, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

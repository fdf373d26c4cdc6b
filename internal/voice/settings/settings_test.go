package settings

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

func messyDocument() *Document {
	return &Document{
		Enabled:       true,
		Volume:        3,
		DefaultBucket: "Female",
		Buckets: []bucket.Bucket{
			{Name: "female", Voices: []string{"b", "a", "A"}},
			{Name: "Pirates", Voices: []string{" p "}},
		},
		ExactOverrides: []ExactOverride{
			{NPC: " Captain Vex ", VoiceID: "v1", Enabled: true},
			{NPC: "captain vex", VoiceID: "v2", Enabled: true},
			{NPC: "", VoiceID: "v3", Enabled: true},
			{NPC: "Nobody", VoiceID: "  ", Enabled: true},
		},
		BucketOverrides: map[string]string{
			"Guard":  "female",
			"guard":  "male",
			"":       "male",
			"Empty":  " ",
			"Pirate": "Pirates",
		},
		AssignedVoices: map[string]string{"Old Tom": "v9", " ": "v8"},
		Voices: map[string]VoiceMeta{
			"v1": {Tags: tag.Set{"female", "calm", "Woman"}, Tone: "Calm", Enabled: true},
			"":   {Enabled: true},
		},
		Profiles: map[string]Profile{
			"Lord Tiberius Way": {RequiredTags: tag.Set{"Males"}},
			"Empty":             {},
		},
		Catalogue: []CatalogueEntry{{ID: "v2", DisplayName: "B"}, {ID: "v1", DisplayName: "A"}, {ID: "V1"}, {ID: ""}},
	}
}

func TestMigrate_Repairs(t *testing.T) {
	t.Parallel()

	got := Migrate(messyDocument())

	if got.Version != CurrentVersion {
		t.Errorf("Version = %d", got.Version)
	}
	if got.Volume != 1 {
		t.Errorf("Volume = %v, want clamped 1", got.Volume)
	}
	if got.DefaultBucket != "woman" {
		t.Errorf("DefaultBucket = %q, want woman", got.DefaultBucket)
	}
	if len(got.Buckets) != len(bucket.Canonical)+1 {
		t.Errorf("buckets = %d", len(got.Buckets))
	}
	if len(got.ExactOverrides) != 1 || got.ExactOverrides[0].VoiceID != "v1" || got.ExactOverrides[0].NPC != "Captain Vex" {
		t.Errorf("ExactOverrides = %+v", got.ExactOverrides)
	}
	if len(got.BucketOverrides) != 2 || got.BucketOverrides["Guard"] != "woman" || got.BucketOverrides["Pirate"] != "Pirates" {
		t.Errorf("BucketOverrides = %v", got.BucketOverrides)
	}
	if len(got.AssignedVoices) != 1 || got.AssignedVoices["Old Tom"] != "v9" {
		t.Errorf("AssignedVoices = %v", got.AssignedVoices)
	}
	if m, ok := got.Voices["v1"]; !ok || len(m.Tags) != 2 || m.Tone != "calm" {
		t.Errorf("Voices[v1] = %+v", got.Voices["v1"])
	}
	if _, ok := got.Voices[""]; ok {
		t.Error("blank voice id survived")
	}
	if _, ok := got.Profiles["Empty"]; ok {
		t.Error("empty profile survived")
	}
	if p := got.Profiles["Lord Tiberius Way"]; !p.RequiredTags.Equal(tag.Set{"male"}) {
		t.Errorf("profile = %+v", p)
	}
	if len(got.Catalogue) != 2 || got.Catalogue[0].ID != "v1" {
		t.Errorf("Catalogue = %+v", got.Catalogue)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	docs := []*Document{nil, {}, messyDocument()}
	for i, d := range docs {
		once, err := Encode(d)
		if err != nil {
			t.Fatalf("doc %d: encode: %v", i, err)
		}
		decoded, err := Decode(once)
		if err != nil {
			t.Fatalf("doc %d: decode: %v", i, err)
		}
		twice, err := Encode(decoded)
		if err != nil {
			t.Fatalf("doc %d: re-encode: %v", i, err)
		}
		if !bytes.Equal(once, twice) {
			t.Errorf("doc %d: encoding not stable:\n%s\n---\n%s", i, once, twice)
		}
	}
}

func TestMigrate_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	doc := messyDocument()
	Migrate(doc)
	if doc.DefaultBucket != "Female" || len(doc.ExactOverrides) != 4 {
		t.Error("Migrate modified its input")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	doc, err := Decode([]byte(`{"default_bucket":"girl","future_field":42}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !doc.Enabled || doc.Volume != 1 {
		t.Errorf("missing base settings should default on/1, got %v/%v", doc.Enabled, doc.Volume)
	}
	if doc.DefaultBucket != "girl" {
		t.Errorf("DefaultBucket = %q", doc.DefaultBucket)
	}

	if _, err := Decode([]byte(`{"buckets": 7}`)); err == nil {
		t.Error("expected a decode error for a malformed document")
	}
	if doc, err := Decode([]byte("   ")); err != nil || doc.DefaultBucket != "male" {
		t.Errorf("blank input = %+v, %v", doc, err)
	}
}

func TestHash_StableAcrossEquivalentDocuments(t *testing.T) {
	t.Parallel()

	a, err := Hash(messyDocument())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Hash(Migrate(messyDocument()))
	if a != b || len(a) != 64 {
		t.Errorf("hashes differ or malformed: %q vs %q", a, b)
	}
	c, _ := Hash(Default())
	if a == c {
		t.Error("different documents must hash differently")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "voices.json"))

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on missing file: %v, want ErrNotFound", err)
	}
	doc, err := LoadOrDefault(ctx, s)
	if err != nil || doc.DefaultBucket != "male" {
		t.Fatalf("LoadOrDefault = %+v, %v", doc, err)
	}

	doc.AssignedVoices["Old Tom"] = "v9"
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AssignedVoices["Old Tom"] != "v9" {
		t.Errorf("AssignedVoices = %v", loaded.AssignedVoices)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestFileStore_CorruptFileFallsBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voices.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.DefaultBucket != "male" {
		t.Errorf("expected defaults, got %+v", doc)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not moved aside: %v", err)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewFileStore(filepath.Join(t.TempDir(), "voices.json"))
	if err := s.Save(ctx, Default()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save err = %v", err)
	}
}

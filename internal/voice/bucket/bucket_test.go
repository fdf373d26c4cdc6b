package bucket

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func names(bs []Bucket) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}

func TestMigrateAndClean_EmptyInputYieldsCanonical(t *testing.T) {
	t.Parallel()

	got := MigrateAndClean(nil)
	if !slices.Equal(names(got), Canonical) {
		t.Fatalf("names = %v, want %v", names(got), Canonical)
	}
	for _, b := range got {
		if b.Voices == nil || len(b.Voices) != 0 {
			t.Errorf("bucket %q voices = %#v, want empty non-nil", b.Name, b.Voices)
		}
	}
}

func TestMigrateAndClean_FemaleMergesIntoWoman(t *testing.T) {
	t.Parallel()

	got := MigrateAndClean([]Bucket{
		{Name: "Female", Voices: []string{"v2", "v1"}},
		{Name: " woman ", Voices: []string{"V1", "v3"}},
	})
	if len(got) != len(Canonical) {
		t.Fatalf("got %d buckets, want %d: %v", len(got), len(Canonical), names(got))
	}
	woman := got[1]
	if woman.Name != "woman" {
		t.Fatalf("bucket[1] = %q, want woman", woman.Name)
	}
	if want := []string{"V1", "v2", "v3"}; !slices.Equal(woman.Voices, want) {
		t.Errorf("woman voices = %v, want %v", woman.Voices, want)
	}
}

func TestMigrateAndClean_CleansVoicesAndOrdersCustom(t *testing.T) {
	t.Parallel()

	got := MigrateAndClean([]Bucket{
		{Name: "zombies", Voices: []string{"z"}},
		{Name: "MALE", Voices: []string{" b ", "", "A", "a", "   "}},
		{Name: "", Voices: []string{"lost"}},
		{Name: "Guards", Voices: []string{"g"}},
		{Name: "male", Voices: []string{"c"}},
		{Name: "guards", Voices: []string{"h"}},
	})

	wantNames := append(slices.Clone(Canonical), "Guards", "zombies")
	if !slices.Equal(names(got), wantNames) {
		t.Fatalf("names = %v, want %v", names(got), wantNames)
	}
	if want := []string{"A", "b", "c"}; !slices.Equal(got[0].Voices, want) {
		t.Errorf("male voices = %v, want %v", got[0].Voices, want)
	}
	if want := []string{"g", "h"}; !slices.Equal(got[7].Voices, want) {
		t.Errorf("Guards voices = %v, want %v", got[7].Voices, want)
	}
}

func TestMigrateAndClean_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := [][]Bucket{
		nil,
		{{Name: "Female", Voices: []string{"b", "B", "a"}}},
		{
			{Name: "custom", Voices: []string{"x", "X", " "}},
			{Name: "Custom", Voices: []string{"y"}},
			{Name: "Monsters", Voices: []string{"m2", "m1"}},
			{Name: "   "},
		},
	}
	for i, in := range inputs {
		once := MigrateAndClean(in)
		twice := MigrateAndClean(once)
		a, _ := json.Marshal(once)
		b, _ := json.Marshal(twice)
		if string(a) != string(b) {
			t.Errorf("input %d not a fixed point:\n once: %s\ntwice: %s", i, a, b)
		}
	}
}

func TestMigrateAndClean_OrderIndependent(t *testing.T) {
	t.Parallel()

	a := []Bucket{
		{Name: "Guards", Voices: []string{"Q", "p"}},
		{Name: "guards", Voices: []string{"q"}},
		{Name: "female", Voices: []string{"w"}},
	}
	b := []Bucket{a[2], a[1], a[0]}
	ja, _ := json.Marshal(MigrateAndClean(a))
	jb, _ := json.Marshal(MigrateAndClean(b))
	if string(ja) != string(jb) {
		t.Errorf("result depends on input order:\n%s\n%s", ja, jb)
	}
}

func TestMigrateAndClean_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []Bucket{{Name: "Female", Voices: []string{"b", "a"}}}
	MigrateAndClean(in)
	if in[0].Name != "Female" || in[0].Voices[0] != "b" {
		t.Errorf("input mutated: %+v", in)
	}
}

func TestCanonicalName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Female", "woman", true},
		{" MALE ", "male", true},
		{"Loporrit", "loporrit", true},
		{"Pirates", "Pirates", true},
		{"women", "women", true},
		{"  ", "", false},
	}
	for _, tc := range tests {
		got, ok := CanonicalName(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("CanonicalName(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestStore_SetDefault(t *testing.T) {
	t.Parallel()

	s := NewStore([]Bucket{{Name: "Pirates"}}, "pirates")
	if got := s.Default(); got != "Pirates" {
		t.Errorf("Default = %q, want Pirates", got)
	}
	tests := []struct {
		in, want string
	}{
		{"", "male"},
		{"nope", "male"},
		{"Female", "woman"},
		{"GIRL", "girl"},
	}
	for _, tc := range tests {
		if got := s.SetDefault(tc.in); got != tc.want {
			t.Errorf("SetDefault(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got := s.Default(); got != tc.want {
			t.Errorf("Default after SetDefault(%q) = %q", tc.in, got)
		}
	}
}

func TestStore_AddVoice(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, "")
	if changed, err := s.AddVoice("male", "v1"); err != nil || !changed {
		t.Fatalf("AddVoice = %v, %v", changed, err)
	}
	if changed, _ := s.AddVoice("MALE", "V1"); changed {
		t.Error("case-insensitive duplicate must be a no-op")
	}
	if changed, _ := s.AddVoice("male", " "); changed {
		t.Error("blank voice must be a no-op")
	}
	if _, err := s.AddVoice(" ", "v1"); !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("blank bucket err = %v", err)
	}
	if changed, _ := s.AddVoice("Pirates", "p1"); !changed {
		t.Error("AddVoice should create a custom bucket")
	}
	if v, ok := s.Voices("pirates"); !ok || !slices.Equal(v, []string{"p1"}) {
		t.Errorf("Voices(pirates) = %v, %v", v, ok)
	}
	if v, _ := s.Voices("male"); !slices.Equal(v, []string{"v1"}) {
		t.Errorf("Voices(male) = %v", v)
	}
}

func TestStore_ClearAndRemove(t *testing.T) {
	t.Parallel()

	s := NewStore([]Bucket{{Name: "woman", Voices: []string{"a", "b"}}}, "woman")
	if removed, err := s.RemoveVoice("female", "A"); err != nil || !removed {
		t.Fatalf("RemoveVoice = %v, %v", removed, err)
	}
	if err := s.Clear("woman"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	v, ok := s.Voices("woman")
	if !ok || len(v) != 0 {
		t.Errorf("after Clear: %v, %v", v, ok)
	}
	if !s.Has("woman") {
		t.Error("Clear must not delete the bucket")
	}
	if err := s.Clear("ghosts"); !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("Clear unknown err = %v", err)
	}
	if _, err := s.RemoveVoice("ghosts", "x"); !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("RemoveVoice unknown err = %v", err)
	}
}

func TestStore_BucketsIsDeepCopy(t *testing.T) {
	t.Parallel()

	s := NewStore([]Bucket{{Name: "male", Voices: []string{"a"}}}, "")
	bs := s.Buckets()
	bs[0].Voices[0] = "mutated"
	if v, _ := s.Voices("male"); v[0] != "a" {
		t.Error("Buckets must return a deep copy")
	}
}

func TestStore_Normalize(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, "girl")
	s.AddVoice("Zeta", "z")
	s.AddVoice("alpha", "a")
	s.AddVoice("male", "b")
	s.AddVoice("male", "a")
	s.Normalize()

	want := append(slices.Clone(Canonical), "alpha", "Zeta")
	if !slices.Equal(s.Names(), want) {
		t.Errorf("Names = %v, want %v", s.Names(), want)
	}
	if v, _ := s.Voices("male"); !slices.Equal(v, []string{"a", "b"}) {
		t.Errorf("male = %v", v)
	}
	if s.Default() != "girl" {
		t.Errorf("Default = %q, want girl", s.Default())
	}
}

package tagger

import (
	"testing"

	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	toks := Tokenize("NPC_uk--Female.calm  42 uk")
	for _, want := range []string{"npc", "uk", "female", "calm", "42"} {
		if !toks.Has(want) {
			t.Errorf("missing token %q in %v", want, toks)
		}
	}
	if len(toks) != 5 {
		t.Errorf("got %d tokens, want 5 (duplicates dropped): %v", len(toks), toks)
	}
	if len(Tokenize("  __--  ")) != 0 {
		t.Error("separator-only input must yield no tokens")
	}
}

func TestSuggestVoiceTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  tag.Set
	}{
		{"male_angry_robot_uk", tag.Set{"male", "machine", "angry", "british"}},
		{"Girl-cheerful-aussie.wav", tag.Set{"girl", "cheerful", "australian"}},
		{"creature growl deep", tag.Set{"monsters", "deep"}},
		{"woman_female_FEMALE", tag.Set{"woman"}},
		{"default voice", tag.Set{"default"}},
		{"south_african_man", tag.Set{"male", "south african"}},
		{"kiwi_nz_boy", tag.Set{"boy", "new zealand"}},
		{"random_voice_42", nil},
	}
	for _, tc := range tests {
		got := SuggestVoiceTags(tc.label)
		if !got.Equal(tc.want) {
			t.Errorf("SuggestVoiceTags(%q) = %v, want %v", tc.label, got, tc.want)
		}
	}
}

func TestSuggestVoiceTags_SortedAndDeterministic(t *testing.T) {
	t.Parallel()

	first := SuggestVoiceTags("uk_stern_robot_male_posh")
	for i := 0; i < 20; i++ {
		again := SuggestVoiceTags("uk_stern_robot_male_posh")
		if len(again) != len(first) {
			t.Fatalf("run %d: length changed", i)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: order changed: %v vs %v", i, again, first)
			}
		}
	}
	for j := 1; j < len(first); j++ {
		if first[j-1] > first[j] {
			t.Fatalf("result not sorted: %v", first)
		}
	}
}

func TestSuggestAccent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  tag.Tag
	}{
		{"npc_uk_female.wav", "british"},
		{"random_voice_42.wav", ""},
		{"usa_cowboy", "american"},
		// british outranks american when both appear.
		{"us_uk_mix", "british"},
		{"scottish-irish", "irish"},
		{"Voice South African Lady", "south african"},
		{"southafrican", "south african"},
		{"south_park", ""},
		{"nz", "new zealand"},
	}
	for _, tc := range tests {
		if got := SuggestAccent(tc.label); got != tc.want {
			t.Errorf("SuggestAccent(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestSuggestTone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  tag.Tag
	}{
		{"calm_angry_guard", "angry"},
		{"deep_menacing", "menacing"},
		{"sleepy_sad", "sad"},
		{"goofy", "goofy"},
		{"whisper_breathy", ""},
		{"plain", ""},
	}
	for _, tc := range tests {
		if got := SuggestTone(tc.label); got != tc.want {
			t.Errorf("SuggestTone(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestSuggestNPCVoiceTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want tag.Set
	}{
		{"Lord Tiberius Way", tag.Set{"posh", "loporrit"}},
		{"Dr. Selene", tag.Set{"calm"}},
		{"Maintenance Unit 7", tag.Set{"machine"}},
		{"Countess Professor Robot", tag.Set{"posh", "calm", "machine"}},
		{"Broadway", nil},
		{"Milky WAY", tag.Set{"loporrit"}},
		{"   ", nil},
		{"", nil},
	}
	for _, tc := range tests {
		got := SuggestNPCVoiceTags(tc.name)
		if !got.Equal(tc.want) {
			t.Errorf("SuggestNPCVoiceTags(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

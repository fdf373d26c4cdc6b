// Package registry holds the catalogue of synthetic voices most recently
// fetched from the TTS provider, together with the tag, tone, accent and
// enabled/reserved metadata attached to each voice.
//
// A [Registry] is not safe for concurrent use on its own. The resolver owns one
// and guards it with the same lock as the rest of the voice configuration so
// that resolution always observes a consistent snapshot.
package registry

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/npcvoice/internal/voice/tag"
	"github.com/MrWong99/npcvoice/internal/voice/tagger"
)

// ErrUnknownVoice is returned by metadata edits addressing a voice that is not
// in the current catalogue.
var ErrUnknownVoice = errors.New("registry: unknown voice")

// defaultSearchThreshold is the minimum Jaro-Winkler score accepted by
// [Registry.Search].
const defaultSearchThreshold = 0.75

// Voice is one catalogue entry.
type Voice struct {
	// ID is the provider's stable, opaque voice identifier.
	ID string

	// DisplayName is the human-readable voice name.
	DisplayName string

	// Hint is extra free text (provider labels, file name) consulted by
	// [Registry.AutoSuggest] in addition to DisplayName. Not persisted.
	Hint string

	Tags     tag.Set
	Tone     tag.Tag
	Accent   tag.Tag
	Enabled  bool
	Reserved bool
}

// Usable reports whether the voice may be picked at random.
func (v Voice) Usable() bool { return v.Enabled && !v.Reserved }

// clone returns a copy of v that shares no mutable state.
func (v Voice) clone() Voice {
	v.Tags = v.Tags.Clone()
	return v
}

// Registry is an in-memory voice catalogue keyed by case-folded voice ID.
type Registry struct {
	voices []Voice
	index  map[string]int
}

// New returns a Registry seeded with voices. See [Registry.ReplaceAll].
func New(voices ...Voice) *Registry {
	r := &Registry{}
	r.ReplaceAll(voices)
	return r
}

func key(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// ReplaceAll swaps the whole catalogue. Entries from the previous catalogue
// are discarded; nothing is carried over. Entries with a blank ID are skipped
// and the first of several entries sharing an ID wins.
func (r *Registry) ReplaceAll(voices []Voice) {
	next := make([]Voice, 0, len(voices))
	index := make(map[string]int, len(voices))
	for _, v := range voices {
		k := key(v.ID)
		if k == "" {
			continue
		}
		if _, dup := index[k]; dup {
			continue
		}
		v.ID = strings.TrimSpace(v.ID)
		index[k] = len(next)
		next = append(next, v.clone())
	}
	r.voices = next
	r.index = index
}

// Len returns the number of voices in the catalogue.
func (r *Registry) Len() int { return len(r.voices) }

// FindByID returns the voice with the given ID.
func (r *Registry) FindByID(id string) (Voice, bool) {
	i, ok := r.index[key(id)]
	if !ok {
		return Voice{}, false
	}
	return r.voices[i].clone(), true
}

// All returns every voice in catalogue order.
func (r *Registry) All() []Voice {
	return r.filter(func(Voice) bool { return true })
}

// ListEnabled returns the enabled voices in catalogue order.
func (r *Registry) ListEnabled() []Voice {
	return r.filter(func(v Voice) bool { return v.Enabled })
}

// FilterByTag returns voices whose tag set, tone or accent equals t after
// normalisation.
func (r *Registry) FilterByTag(t string) []Voice {
	want := tag.Normalize(t)
	if want.IsZero() {
		return nil
	}
	return r.filter(func(v Voice) bool {
		return v.Tags.Has(want) || v.Tone == want || v.Accent == want
	})
}

// FilterByName returns voices whose display name or ID contains query.
func (r *Registry) FilterByName(query string, caseInsensitive bool) []Voice {
	if caseInsensitive {
		query = strings.ToLower(query)
	}
	return r.filter(func(v Voice) bool {
		name, id := v.DisplayName, v.ID
		if caseInsensitive {
			name, id = strings.ToLower(name), strings.ToLower(id)
		}
		return strings.Contains(name, query) || strings.Contains(id, query)
	})
}

// Match is a [Registry.Search] hit.
type Match struct {
	Voice Voice
	Score float64
}

// Search ranks voices by Jaro-Winkler similarity between query and the display
// name. Only hits at or above the threshold are returned, best first.
func (r *Registry) Search(query string, limit int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var hits []Match
	for _, v := range r.voices {
		score := matchr.JaroWinkler(q, strings.ToLower(v.DisplayName), false)
		if score < defaultSearchThreshold {
			continue
		}
		hits = append(hits, Match{Voice: v.clone(), Score: score})
	}
	slices.SortStableFunc(hits, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (r *Registry) filter(keep func(Voice) bool) []Voice {
	var out []Voice
	for _, v := range r.voices {
		if keep(v) {
			out = append(out, v.clone())
		}
	}
	return out
}

// Update applies fn to the voice with the given ID in place and returns the
// updated entry. The ID itself cannot be changed.
func (r *Registry) Update(id string, fn func(*Voice)) (Voice, error) {
	i, ok := r.index[key(id)]
	if !ok {
		return Voice{}, ErrUnknownVoice
	}
	v := &r.voices[i]
	origID := v.ID
	fn(v)
	v.ID = origID
	return v.clone(), nil
}

// SetEnabled toggles whether the voice takes part in random selection.
func (r *Registry) SetEnabled(id string, enabled bool) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Enabled = enabled })
}

// SetReserved marks the voice as reserved for exact overrides only.
func (r *Registry) SetReserved(id string, reserved bool) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Reserved = reserved })
}

// AddTag attaches t to the voice.
func (r *Registry) AddTag(id, t string) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Tags.Add(t) })
}

// RemoveTag detaches t from the voice.
func (r *Registry) RemoveTag(id, t string) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Tags.Remove(t) })
}

// SetTone replaces the voice's tone. A blank value clears it.
func (r *Registry) SetTone(id, tone string) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Tone = tag.Normalize(tone) })
}

// SetAccent replaces the voice's accent. A blank value clears it.
func (r *Registry) SetAccent(id, accent string) (Voice, error) {
	return r.Update(id, func(v *Voice) { v.Accent = tag.Normalize(accent) })
}

// AutoSuggest fills the voice's tags, tone and accent from its display name
// and hint. Suggested tags are merged into the existing set; tone and accent
// are only set when empty, unless overwrite is true.
func (r *Registry) AutoSuggest(id string, overwrite bool) (Voice, error) {
	return r.Update(id, func(v *Voice) {
		label := strings.TrimSpace(v.DisplayName + " " + v.Hint)
		v.Tags = tag.Merge(v.Tags, tagger.SuggestVoiceTags(label))
		if overwrite || v.Tone.IsZero() {
			if t := tagger.SuggestTone(label); !t.IsZero() || overwrite {
				v.Tone = t
			}
		}
		if overwrite || v.Accent.IsZero() {
			if a := tagger.SuggestAccent(label); !a.IsZero() || overwrite {
				v.Accent = a
			}
		}
	})
}

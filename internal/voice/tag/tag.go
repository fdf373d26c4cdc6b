// Package tag canonicalises the descriptive labels attached to voices and NPCs
// (gender bucket, accent, tone) so that comparisons never depend on casing,
// spacing, plural forms or the handful of common misspellings players type.
//
// A [Tag] is always in normalised form. A [Set] is an ordered collection of
// tags that never holds two entries that normalise to the same value.
package tag

import (
	"encoding/json"
	"slices"
	"strings"
)

// Tag is a normalised, lower-case label. The zero value means "no tag".
type Tag string

// synonyms maps alternative spellings to their canonical tag. Values must not
// appear as keys so that [Normalize] stays idempotent.
var synonyms = map[string]string{
	"female":   "woman",
	"women":    "woman",
	"males":    "male",
	"boys":     "boy",
	"girls":    "girl",
	"loporit":  "loporrit",
	"loporits": "loporrit",
}

// Normalize lower-cases raw, trims it, collapses whitespace runs into single
// spaces and applies the synonym table. Blank input yields the empty Tag.
func Normalize(raw string) Tag {
	s := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if canon, ok := synonyms[s]; ok {
		s = canon
	}
	return Tag(s)
}

// Equal reports whether a and b normalise to the same tag.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IsZero reports whether t is the empty "no tag" value.
func (t Tag) IsZero() bool { return t == "" }

// String returns the tag text.
func (t Tag) String() string { return string(t) }

// UnmarshalJSON normalises the decoded string.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Normalize(s)
	return nil
}

// Set is an ordered list of distinct normalised tags.
//
// Mutating methods keep the distinct-after-normalisation invariant; callers
// must not append to the underlying slice directly.
type Set []Tag

// NewSet builds a Set from raw strings, skipping blanks and duplicates.
func NewSet(raw ...string) Set {
	var s Set
	for _, r := range raw {
		s.Add(r)
	}
	return s
}

// Contains reports whether raw, once normalised, is a member of s.
func (s Set) Contains(raw string) bool {
	t := Normalize(raw)
	if t.IsZero() {
		return false
	}
	return slices.Contains(s, t)
}

// Has reports whether t is a member of s. t must already be normalised.
func (s Set) Has(t Tag) bool {
	return slices.Contains(s, t)
}

// Add inserts raw unless it is blank or already present. It reports whether
// the set changed.
func (s *Set) Add(raw string) bool {
	t := Normalize(raw)
	if t.IsZero() || slices.Contains(*s, t) {
		return false
	}
	*s = append(*s, t)
	return true
}

// Remove deletes raw from s and reports whether it was present.
func (s *Set) Remove(raw string) bool {
	t := Normalize(raw)
	i := slices.Index(*s, t)
	if t.IsZero() || i < 0 {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

// Equal reports whether s and o hold the same tags, ignoring order.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for _, t := range s {
		if !o.Has(t) {
			return false
		}
	}
	return true
}

// Intersects reports whether s and o share at least one tag.
func (s Set) Intersects(o Set) bool {
	for _, t := range s {
		if o.Has(t) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every tag in o is also in s.
func (s Set) ContainsAll(o Set) bool {
	for _, t := range o {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// Sorted returns a copy of s ordered alphabetically. Tags are lower-case, so
// this is the case-insensitive order used for display and persistence.
func (s Set) Sorted() Set {
	out := s.Clone()
	slices.Sort(out)
	return out
}

// Strings returns the tags as plain strings.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}

// Merge returns the distinct union of sets in first-seen order.
func Merge(sets ...Set) Set {
	var out Set
	for _, s := range sets {
		for _, t := range s {
			out.Add(string(t))
		}
	}
	return out
}

// UnmarshalJSON decodes a list of strings, normalising and de-duplicating it
// so that hand-edited settings files cannot break the set invariant.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSet(raw...)
	return nil
}

// Package bucket manages the named voice pools used for category-based random
// voice selection.
//
// Seven canonical buckets always exist (see [Canonical]); users may add any
// number of custom ones. [MigrateAndClean] is run on every load and turns any
// persisted bucket list, however damaged, into the one stable shape the rest
// of the system relies on.
package bucket

import (
	"errors"
	"slices"
	"strings"
)

// ErrUnknownBucket is returned when an operation addresses a bucket name that
// does not exist.
var ErrUnknownBucket = errors.New("bucket: unknown bucket")

// FallbackDefault is used when the configured default bucket is blank or
// unknown.
const FallbackDefault = "male"

// Canonical lists the built-in bucket names in display order.
var Canonical = []string{"male", "woman", "boy", "girl", "loporrit", "machine", "monsters"}

// Bucket is a named, ordered list of voice IDs.
type Bucket struct {
	Name   string   `json:"name"`
	Voices []string `json:"voices"`
}

// IsCanonical reports whether name (case-insensitively) is a built-in bucket.
func IsCanonical(name string) bool {
	return canonicalIndex(strings.ToLower(strings.TrimSpace(name))) >= 0
}

func canonicalIndex(lower string) int {
	return slices.Index(Canonical, lower)
}

// CanonicalName trims name and maps it onto its canonical spelling. Built-in
// names are lower-cased and "female" becomes "woman"; custom names keep their
// spelling. The second return value is false for blank input.
func CanonicalName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	lower := strings.ToLower(name)
	if lower == "female" {
		return "woman", true
	}
	if canonicalIndex(lower) >= 0 {
		return lower, true
	}
	return name, true
}

// MigrateAndClean normalises a persisted bucket list:
//
//  1. bucket names are trimmed and canonicalised ("Female" becomes "woman"),
//     blank names are dropped;
//  2. blank voice IDs are dropped, the rest de-duplicated case-insensitively
//     (the byte-wise smallest spelling wins) and sorted case-insensitively;
//  3. buckets whose names collide case-insensitively are merged;
//  4. every canonical bucket exists, empty if necessary;
//  5. canonical buckets come first in [Canonical] order, followed by custom
//     buckets sorted case-insensitively.
//
// The result is independent of input order and MigrateAndClean(MigrateAndClean(x))
// equals MigrateAndClean(x). The input is not modified.
func MigrateAndClean(raw []Bucket) []Bucket {
	type acc struct {
		name   string
		voices []string
	}
	merged := make(map[string]*acc, len(raw)+len(Canonical))
	var customKeys []string

	for _, b := range raw {
		name, ok := CanonicalName(b.Name)
		if !ok {
			continue
		}
		k := strings.ToLower(name)
		a, exists := merged[k]
		if !exists {
			a = &acc{name: name}
			merged[k] = a
			if canonicalIndex(k) < 0 {
				customKeys = append(customKeys, k)
			}
		} else if canonicalIndex(k) < 0 && name < a.name {
			// Colliding custom spellings resolve to the smallest one so the
			// outcome does not depend on input order.
			a.name = name
		}
		a.voices = append(a.voices, b.Voices...)
	}

	out := make([]Bucket, 0, len(Canonical)+len(customKeys))
	for _, name := range Canonical {
		var voices []string
		if a, ok := merged[name]; ok {
			voices = a.voices
		}
		out = append(out, Bucket{Name: name, Voices: cleanVoices(voices)})
	}

	slices.SortFunc(customKeys, compareFold)
	for _, k := range customKeys {
		a := merged[k]
		out = append(out, Bucket{Name: a.name, Voices: cleanVoices(a.voices)})
	}
	return out
}

// cleanVoices drops blanks, de-duplicates case-insensitively and sorts. The
// result is never nil so that the JSON shape is stable.
func cleanVoices(in []string) []string {
	seen := make(map[string]string, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if prev, dup := seen[k]; dup && prev <= v {
			continue
		}
		seen[k] = v
	}
	out := make([]string, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	slices.SortFunc(out, compareFold)
	return out
}

// compareFold orders strings case-insensitively, breaking ties on the raw
// bytes so the order is total.
func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// Package tagger derives best-effort voice tags from free text such as a voice
// file name stem ("npc_uk_female_calm") or an NPC display name
// ("Lord Tiberius Way").
//
// All lookups use fixed keyword tables. Nothing here is probabilistic: the same
// input always yields the same tags in the same order.
package tagger

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

// Tokens is the de-duplicated, lower-case token set of a piece of text.
type Tokens map[string]struct{}

// Has reports whether tok is one of the tokens.
func (t Tokens) Has(tok string) bool {
	_, ok := t[tok]
	return ok
}

// HasAny reports whether any of toks is present.
func (t Tokens) HasAny(toks ...string) bool {
	for _, tok := range toks {
		if t.Has(tok) {
			return true
		}
	}
	return false
}

// Tokenize splits text on every run of characters that are neither letters nor
// digits and lower-cases the pieces.
func Tokenize(text string) Tokens {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	toks := make(Tokens, len(fields))
	for _, f := range fields {
		toks[f] = struct{}{}
	}
	return toks
}

// identityTable maps identity tokens to their bucket tag.
var identityTable = map[string]string{
	"male":     "male",
	"man":      "male",
	"female":   "woman",
	"woman":    "woman",
	"boy":      "boy",
	"kid":      "boy",
	"girl":     "girl",
	"loporrit": "loporrit",
	"machine":  "machine",
	"robot":    "machine",
	"android":  "machine",
	"unit":     "machine",
	"synth":    "machine",
	"monster":  "monsters",
	"monsters": "monsters",
	"beast":    "monsters",
	"creature": "monsters",
	"default":  "default",
}

// accentGroup is one accent and the tokens that trigger it.
type accentGroup struct {
	accent   string
	triggers []string
}

// accentGroups is ordered by priority; [SuggestAccent] returns the first hit.
var accentGroups = []accentGroup{
	{"british", []string{"british", "brit", "uk", "eng", "english", "gb"}},
	{"american", []string{"american", "us", "usa"}},
	{"australian", []string{"australian", "aus", "aussie"}},
	{"indian", []string{"indian", "india"}},
	{"irish", []string{"irish", "ireland"}},
	{"scottish", []string{"scottish", "scot", "scots", "scotland"}},
	{"welsh", []string{"welsh", "wales"}},
	{"canadian", []string{"canadian", "canada"}},
	{"new zealand", []string{"newzealand", "nz", "kiwi"}},
	{"south african", []string{"southafrican", "sa", "za"}},
}

// vibeWords are tone descriptors copied into the tag set verbatim.
var vibeWords = map[string]struct{}{
	"calm": {}, "stern": {}, "angry": {}, "sad": {}, "sleepy": {},
	"menacing": {}, "warm": {}, "cold": {}, "soft": {}, "rough": {},
	"posh": {}, "gravel": {}, "deep": {}, "high": {}, "cheerful": {},
	"excited": {}, "bored": {}, "serious": {}, "goofy": {}, "whisper": {},
	"breathy": {},
}

// tonePriority breaks ties when several tone words appear.
var tonePriority = []string{
	"menacing", "angry", "stern", "sad", "sleepy", "cheerful", "calm", "warm",
	"cold", "soft", "rough", "posh", "gravel", "deep", "high", "goofy",
}

var (
	poshTitles   = []string{"sir", "lord", "lady", "captain", "commander", "madam", "duke", "duchess", "count", "countess"}
	scholarTitle = []string{"dr", "doctor", "professor"}
	machineWords = []string{"machine", "android", "robot", "unit"}
)

// loporritSuffix is the in-universe naming convention for loporrit NPCs.
const loporritSuffix = " way"

// matches reports whether g fires for toks.
func (g accentGroup) matches(toks Tokens) bool {
	if toks.HasAny(g.triggers...) {
		return true
	}
	return g.accent == "south african" && toks.Has("south") && toks.Has("african")
}

// SuggestVoiceTags derives identity, accent and tone tags from a file name or
// voice label. Every matching table contributes; the result is distinct after
// normalisation and sorted.
func SuggestVoiceTags(label string) tag.Set {
	toks := Tokenize(label)
	var out tag.Set
	for _, tok := range sortedTokens(toks) {
		if bucket, ok := identityTable[tok]; ok {
			out.Add(bucket)
		}
		if _, ok := vibeWords[tok]; ok {
			out.Add(tok)
		}
	}
	for _, g := range accentGroups {
		if g.matches(toks) {
			out.Add(g.accent)
		}
	}
	return out.Sorted()
}

// SuggestAccent returns the highest-priority accent whose trigger appears in
// label, or the empty Tag.
func SuggestAccent(label string) tag.Tag {
	toks := Tokenize(label)
	for _, g := range accentGroups {
		if g.matches(toks) {
			return tag.Normalize(g.accent)
		}
	}
	return ""
}

// SuggestTone returns the highest-priority tone word present in label, or the
// empty Tag.
func SuggestTone(label string) tag.Tag {
	toks := Tokenize(label)
	for _, w := range tonePriority {
		if toks.Has(w) {
			return tag.Tag(w)
		}
	}
	return ""
}

// SuggestNPCVoiceTags applies naming-convention rules to an NPC display name:
// titles imply a posh voice, academics a calm one, mechanical names the machine
// bucket, and names ending in " Way" the loporrit bucket.
func SuggestNPCVoiceTags(name string) tag.Set {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	toks := Tokenize(name)
	var out tag.Set
	if toks.HasAny(poshTitles...) {
		out.Add("posh")
	}
	if toks.HasAny(scholarTitle...) {
		out.Add("calm")
	}
	if toks.HasAny(machineWords...) {
		out.Add("machine")
	}
	if strings.HasSuffix(strings.ToLower(name), loporritSuffix) {
		out.Add("loporrit")
	}
	return out.Sorted()
}

// sortedTokens returns the tokens in a stable order so that table scans are
// deterministic.
func sortedTokens(toks Tokens) []string {
	out := make([]string, 0, len(toks))
	for tok := range toks {
		out = append(out, tok)
	}
	slices.SortFunc(out, cmp.Compare[string])
	return out
}

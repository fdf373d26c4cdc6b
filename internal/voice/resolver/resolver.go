// Package resolver decides which synthetic voice speaks for an NPC.
//
// A [Resolver] owns the whole voice configuration (catalogue, buckets,
// overrides, sticky assignments and profiles) behind a single lock. Resolution
// walks a fixed priority chain:
//
//  1. an enabled exact override for the NPC;
//  2. the NPC's sticky assignment from an earlier resolution;
//  3. the NPC's bucket override, if that bucket has voices;
//  4. the first canonical bucket matching tags derived from the NPC name, or
//     the default bucket;
//  5. a uniformly random voice from the chosen bucket, preferring enabled,
//     non-reserved catalogue voices and widening when there are none;
//  6. the pick is stored as the NPC's sticky assignment.
//
// Only step 5 is random, and it runs at most once per NPC until the
// assignment is cleared.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/registry"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
	"github.com/MrWong99/npcvoice/internal/voice/tagger"
)

// ErrNoVoiceAvailable is returned when the chosen bucket holds no voice at
// all. The caller should skip the dialogue line.
var ErrNoVoiceAvailable = errors.New("resolver: no voice available")

// ErrBlankNPC is returned when an NPC name is empty after trimming.
var ErrBlankNPC = errors.New("resolver: blank npc name")

// NPCKey is the case-insensitive lookup form of an NPC display name.
type NPCKey string

// NewNPCKey folds name into its lookup key: lower-cased, trimmed and with
// inner whitespace runs collapsed.
func NewNPCKey(name string) NPCKey { return NPCKey(settings.FoldKey(name)) }

// ExactOverride forces a specific voice for one NPC.
type ExactOverride = settings.ExactOverride

// NPCProfile carries optional per-NPC tag requirements used to narrow the
// random pick.
type NPCProfile = settings.Profile

// Step identifies which rule of the chain produced a voice.
type Step int

const (
	StepExactOverride Step = iota + 1
	StepSticky
	StepBucketOverride
	StepAutoClassify
	StepDefaultBucket
)

// String returns the metric/log label of s.
func (s Step) String() string {
	switch s {
	case StepExactOverride:
		return "exact_override"
	case StepSticky:
		return "sticky"
	case StepBucketOverride:
		return "bucket_override"
	case StepAutoClassify:
		return "auto_classify"
	case StepDefaultBucket:
		return "default_bucket"
	default:
		return "unknown"
	}
}

// named pairs a persisted display name with its value.
type named[V any] struct {
	name  string
	value V
}

// Resolver is safe for concurrent use.
type Resolver struct {
	mu sync.RWMutex

	registry        *registry.Registry
	buckets         *bucket.Store
	exact           map[NPCKey]ExactOverride
	bucketOverrides map[NPCKey]named[string]
	assigned        map[NPCKey]named[string]
	profiles        map[NPCKey]named[NPCProfile]
	meta            map[string]named[settings.VoiceMeta]
	enabled         bool
	volume          float64
	version         uint64

	intn    func(n int) int
	metrics *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Resolver)

// WithRand replaces the random source used by step 5. intn must return a value
// in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(r *Resolver) { r.intn = intn }
}

// WithMetrics records resolution metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New builds a Resolver from a settings document. The document is migrated
// first; doc may be nil.
func New(doc *settings.Document, opts ...Option) *Resolver {
	r := &Resolver{intn: rand.IntN}
	for _, o := range opts {
		o(r)
	}
	r.load(settings.Migrate(doc))
	return r
}

// load replaces the whole state from a migrated document.
func (r *Resolver) load(doc *settings.Document) {
	r.buckets = bucket.NewStore(doc.Buckets, doc.DefaultBucket)
	r.enabled = doc.Enabled
	r.volume = doc.Volume

	r.exact = make(map[NPCKey]ExactOverride, len(doc.ExactOverrides))
	for _, o := range doc.ExactOverrides {
		r.exact[NewNPCKey(o.NPC)] = o
	}
	r.bucketOverrides = toNamed(doc.BucketOverrides)
	r.assigned = toNamed(doc.AssignedVoices)
	r.profiles = toNamed(doc.Profiles)

	r.meta = make(map[string]named[settings.VoiceMeta], len(doc.Voices))
	for id, m := range doc.Voices {
		r.meta[strings.ToLower(id)] = named[settings.VoiceMeta]{name: id, value: m}
	}

	voices := make([]registry.Voice, 0, len(doc.Catalogue))
	for _, e := range doc.Catalogue {
		voices = append(voices, r.withMeta(registry.Voice{ID: e.ID, DisplayName: e.DisplayName, Enabled: true}))
	}
	r.registry = registry.New(voices...)
}

func toNamed[V any](m map[string]V) map[NPCKey]named[V] {
	out := make(map[NPCKey]named[V], len(m))
	for name, v := range m {
		out[NewNPCKey(name)] = named[V]{name: name, value: v}
	}
	return out
}

// withMeta overlays persisted metadata onto a catalogue voice.
func (r *Resolver) withMeta(v registry.Voice) registry.Voice {
	m, ok := r.meta[strings.ToLower(v.ID)]
	if !ok {
		return v
	}
	v.Tags = m.value.Tags.Clone()
	v.Tone = m.value.Tone
	v.Accent = m.value.Accent
	v.Enabled = m.value.Enabled
	v.Reserved = m.value.Reserved
	return v
}

// Resolve returns the voice for npc. text is the dialogue line being spoken; it
// is accepted for context but does not influence the decision.
//
// The returned error wraps [ErrNoVoiceAvailable] or [ErrBlankNPC].
func (r *Resolver) Resolve(ctx context.Context, npc, text string) (string, Step, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "resolver.Resolve", trace.WithAttributes(
		attribute.String("npc", npc),
		attribute.Int("text_len", len(text)),
	))

	id, step, err := r.resolve(npc)

	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordResolveFailure(ctx, time.Since(start).Seconds())
		}
		observe.EndSpan(span, err)
		return "", 0, err
	}
	if r.metrics != nil {
		r.metrics.RecordResolution(ctx, step.String(), time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.String("voice_id", id), attribute.String("step", step.String()))
	span.End()
	return id, step, nil
}

func (r *Resolver) resolve(npc string) (string, Step, error) {
	key := NewNPCKey(npc)
	if key == "" {
		return "", 0, ErrBlankNPC
	}

	r.mu.RLock()
	id, step, ok := r.replayLocked(key)
	r.mu.RUnlock()
	if ok {
		return id, step, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have assigned this NPC while we waited.
	if id, step, ok := r.replayLocked(key); ok {
		return id, step, nil
	}

	bucketName, step := r.chooseBucketLocked(key, npc)
	id, err := r.pickLocked(key, bucketName)
	if err != nil {
		return "", 0, fmt.Errorf("%w: npc %q, bucket %q", err, strings.TrimSpace(npc), bucketName)
	}
	r.assigned[key] = named[string]{name: strings.TrimSpace(npc), value: id}
	r.version++
	return id, step, nil
}

// replayLocked applies steps 1 and 2. r.mu must be held.
func (r *Resolver) replayLocked(key NPCKey) (string, Step, bool) {
	if o, ok := r.exact[key]; ok && o.Enabled {
		return o.VoiceID, StepExactOverride, true
	}
	if a, ok := r.assigned[key]; ok {
		return a.value, StepSticky, true
	}
	return "", 0, false
}

// chooseBucketLocked applies steps 3 and 4. r.mu must be held.
func (r *Resolver) chooseBucketLocked(key NPCKey, npc string) (string, Step) {
	if o, ok := r.bucketOverrides[key]; ok {
		if voices, ok := r.buckets.Voices(o.value); ok && len(voices) > 0 {
			return o.value, StepBucketOverride
		}
	}

	tags := npcTags(npc)
	if p, ok := r.profiles[key]; ok {
		tags = tag.Merge(tags, p.value.NPCTags)
	}
	// The first matching canonical bucket wins even when empty; step 5 then
	// reports ErrNoVoiceAvailable.
	for _, name := range bucket.Canonical {
		if tags.Has(tag.Tag(name)) {
			return name, StepAutoClassify
		}
	}
	return r.buckets.Default(), StepDefaultBucket
}

// npcTags derives identity and context tags from an NPC name.
func npcTags(npc string) tag.Set {
	return tag.Merge(tagger.SuggestVoiceTags(npc), tagger.SuggestNPCVoiceTags(npc))
}

// pickLocked applies step 5. r.mu must be held.
func (r *Resolver) pickLocked(key NPCKey, bucketName string) (string, error) {
	ids, _ := r.buckets.Voices(bucketName)
	if len(ids) == 0 {
		return "", ErrNoVoiceAvailable
	}

	var usable, known []registry.Voice
	for _, id := range ids {
		v, ok := r.registry.FindByID(id)
		if !ok {
			continue
		}
		known = append(known, v)
		if v.Usable() {
			usable = append(usable, v)
		}
	}

	if len(usable) > 0 {
		if p, ok := r.profiles[key]; ok {
			usable = narrow(usable, p.value)
		}
		return usable[r.intn(len(usable))].ID, nil
	}
	if len(known) > 0 {
		return known[r.intn(len(known))].ID, nil
	}
	return ids[r.intn(len(ids))], nil
}

// narrow keeps the voices matching the profile's required tags, then those
// matching any preferred tag, tone or accent. A filter that would leave no
// voice is skipped.
func narrow(voices []registry.Voice, p NPCProfile) []registry.Voice {
	preferred := p.PreferredTags.Clone()
	preferred.Add(string(p.Tone))
	preferred.Add(string(p.Accent))

	if len(p.RequiredTags) > 0 {
		voices = keepIfAny(voices, func(vt tag.Set) bool { return vt.ContainsAll(p.RequiredTags) })
	}
	if len(preferred) > 0 {
		voices = keepIfAny(voices, func(vt tag.Set) bool { return vt.Intersects(preferred) })
	}
	return voices
}

func keepIfAny(voices []registry.Voice, match func(tag.Set) bool) []registry.Voice {
	var out []registry.Voice
	for _, v := range voices {
		vt := v.Tags.Clone()
		vt.Add(string(v.Tone))
		vt.Add(string(v.Accent))
		if match(vt) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return voices
	}
	return out
}

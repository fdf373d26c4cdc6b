package resolver

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/npcvoice/internal/voice/bucket"
	"github.com/MrWong99/npcvoice/internal/voice/registry"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

// mutate runs fn under the write lock and bumps the version when fn reports a
// change.
func (r *Resolver) mutate(fn func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn() {
		r.version++
	}
}

// Version increases whenever the configuration changes. Callers compare it to
// decide whether a snapshot needs saving.
func (r *Resolver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Replace swaps the whole configuration for doc, as after reloading settings.
func (r *Resolver) Replace(doc *settings.Document) {
	doc = settings.Migrate(doc)
	r.mutate(func() bool {
		r.load(doc)
		return true
	})
}

// Snapshot returns the current configuration as a migrated settings document.
func (r *Resolver) Snapshot() *settings.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := &settings.Document{
		Enabled:         r.enabled,
		Volume:          r.volume,
		DefaultBucket:   r.buckets.Default(),
		Buckets:         r.buckets.Buckets(),
		BucketOverrides: fromNamed(r.bucketOverrides),
		AssignedVoices:  fromNamed(r.assigned),
		Profiles:        fromNamed(r.profiles),
		Voices:          make(map[string]settings.VoiceMeta, len(r.meta)),
	}
	for _, o := range r.exact {
		doc.ExactOverrides = append(doc.ExactOverrides, o)
	}
	slices.SortFunc(doc.ExactOverrides, func(a, b ExactOverride) int {
		return cmp.Compare(settings.FoldKey(a.NPC), settings.FoldKey(b.NPC))
	})
	for _, m := range r.meta {
		doc.Voices[m.name] = m.value
	}
	for _, v := range r.registry.All() {
		doc.Catalogue = append(doc.Catalogue, settings.CatalogueEntry{ID: v.ID, DisplayName: v.DisplayName})
	}
	return settings.Migrate(doc)
}

func fromNamed[V any](m map[NPCKey]named[V]) map[string]V {
	out := make(map[string]V, len(m))
	for _, n := range m {
		out[n.name] = n.value
	}
	return out
}

// --- Base settings ---

// Enabled reports whether voice playback is switched on.
func (r *Resolver) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled switches voice playback on or off.
func (r *Resolver) SetEnabled(enabled bool) {
	r.mutate(func() bool {
		changed := r.enabled != enabled
		r.enabled = enabled
		return changed
	})
}

// Volume returns the playback volume in [0, 1].
func (r *Resolver) Volume() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.volume
}

// SetVolume sets the playback volume, clamped to [0, 1].
func (r *Resolver) SetVolume(v float64) {
	v = max(0, min(1, v))
	r.mutate(func() bool {
		changed := r.volume != v
		r.volume = v
		return changed
	})
}

// --- Exact overrides ---

// SetExactOverride forces voiceID for npc, replacing any previous override.
func (r *Resolver) SetExactOverride(npc, voiceID string, enabled bool) error {
	key := NewNPCKey(npc)
	voiceID = strings.TrimSpace(voiceID)
	if key == "" {
		return ErrBlankNPC
	}
	if voiceID == "" {
		return fmt.Errorf("resolver: exact override for %q: blank voice id", npc)
	}
	r.mutate(func() bool {
		r.exact[key] = ExactOverride{NPC: strings.TrimSpace(npc), VoiceID: voiceID, Enabled: enabled}
		return true
	})
	return nil
}

// RemoveExactOverride deletes npc's exact override and reports whether one
// existed.
func (r *Resolver) RemoveExactOverride(npc string) bool {
	key := NewNPCKey(npc)
	var removed bool
	r.mutate(func() bool {
		_, removed = r.exact[key]
		delete(r.exact, key)
		return removed
	})
	return removed
}

// ExactOverrideFor returns npc's exact override, if any.
func (r *Resolver) ExactOverrideFor(npc string) (ExactOverride, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.exact[NewNPCKey(npc)]
	return o, ok
}

// ExactOverrides returns all exact overrides ordered by NPC.
func (r *Resolver) ExactOverrides() []ExactOverride {
	return r.Snapshot().ExactOverrides
}

// --- Bucket overrides ---

// SetBucketOverride routes npc to bucketName. The bucket must exist.
func (r *Resolver) SetBucketOverride(npc, bucketName string) error {
	key := NewNPCKey(npc)
	if key == "" {
		return ErrBlankNPC
	}
	var err error
	r.mutate(func() bool {
		if !r.buckets.Has(bucketName) {
			err = fmt.Errorf("resolver: bucket override for %q: %w: %q", npc, bucket.ErrUnknownBucket, bucketName)
			return false
		}
		name, _ := bucket.CanonicalName(bucketName)
		r.bucketOverrides[key] = named[string]{name: strings.TrimSpace(npc), value: name}
		return true
	})
	return err
}

// RemoveBucketOverride deletes npc's bucket override and reports whether one
// existed.
func (r *Resolver) RemoveBucketOverride(npc string) bool {
	key := NewNPCKey(npc)
	var removed bool
	r.mutate(func() bool {
		_, removed = r.bucketOverrides[key]
		delete(r.bucketOverrides, key)
		return removed
	})
	return removed
}

// BucketOverride returns the bucket npc is routed to, if any.
func (r *Resolver) BucketOverride(npc string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.bucketOverrides[NewNPCKey(npc)]
	return o.value, ok
}

// --- Sticky assignments ---

// Assignment returns npc's sticky voice, if any.
func (r *Resolver) Assignment(npc string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assigned[NewNPCKey(npc)]
	return a.value, ok
}

// ClearAssignment forgets npc's sticky voice so that the next resolution picks
// again.
func (r *Resolver) ClearAssignment(npc string) bool {
	key := NewNPCKey(npc)
	var removed bool
	r.mutate(func() bool {
		_, removed = r.assigned[key]
		delete(r.assigned, key)
		return removed
	})
	return removed
}

// ClearAssignments forgets every sticky voice and returns how many there were.
func (r *Resolver) ClearAssignments() int {
	var n int
	r.mutate(func() bool {
		n = len(r.assigned)
		clear(r.assigned)
		return n > 0
	})
	return n
}

// --- Profiles ---

// SetProfile attaches tag requirements to npc. A zero profile removes it.
func (r *Resolver) SetProfile(npc string, p NPCProfile) error {
	key := NewNPCKey(npc)
	if key == "" {
		return ErrBlankNPC
	}
	p.RequiredTags = p.RequiredTags.Clone()
	p.PreferredTags = p.PreferredTags.Clone()
	p.NPCTags = p.NPCTags.Clone()
	r.mutate(func() bool {
		if p.IsZero() {
			_, existed := r.profiles[key]
			delete(r.profiles, key)
			return existed
		}
		r.profiles[key] = named[NPCProfile]{name: strings.TrimSpace(npc), value: p}
		return true
	})
	return nil
}

// Profile returns npc's profile, if any.
func (r *Resolver) Profile(npc string) (NPCProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[NewNPCKey(npc)]
	return p.value, ok
}

// --- Buckets ---

// Buckets returns all buckets in display order.
func (r *Resolver) Buckets() []bucket.Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets.Buckets()
}

// DefaultBucket returns the default bucket's name.
func (r *Resolver) DefaultBucket() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets.Default()
}

// SetDefaultBucket selects the default bucket, falling back to "male" for
// blank or unknown names. It returns the selected name.
func (r *Resolver) SetDefaultBucket(name string) string {
	var got string
	r.mutate(func() bool {
		prev := r.buckets.Default()
		got = r.buckets.SetDefault(name)
		return got != prev
	})
	return got
}

// AddVoiceToBucket adds voiceID to the named bucket, creating a custom bucket
// if needed.
func (r *Resolver) AddVoiceToBucket(name, voiceID string) (bool, error) {
	var (
		changed bool
		err     error
	)
	r.mutate(func() bool {
		changed, err = r.buckets.AddVoice(name, voiceID)
		if changed {
			r.buckets.Normalize()
		}
		return changed
	})
	return changed, err
}

// RemoveVoiceFromBucket drops voiceID from the named bucket.
func (r *Resolver) RemoveVoiceFromBucket(name, voiceID string) (bool, error) {
	var (
		changed bool
		err     error
	)
	r.mutate(func() bool {
		changed, err = r.buckets.RemoveVoice(name, voiceID)
		return changed
	})
	return changed, err
}

// ClearBucket empties the named bucket without deleting it.
func (r *Resolver) ClearBucket(name string) error {
	var err error
	r.mutate(func() bool {
		err = r.buckets.Clear(name)
		return err == nil
	})
	return err
}

// --- Voice catalogue ---

// Voices returns the catalogue in order.
func (r *Resolver) Voices() []registry.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.All()
}

// Voice looks up one catalogue voice.
func (r *Resolver) Voice(id string) (registry.Voice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.FindByID(id)
}

// VoicesByTag returns voices carrying t as a tag, tone or accent.
func (r *Resolver) VoicesByTag(t string) []registry.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.FilterByTag(t)
}

// VoicesByName returns voices whose name or ID contains query, ignoring case.
func (r *Resolver) VoicesByName(query string) []registry.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.FilterByName(query, true)
}

// SearchVoices ranks voices by fuzzy display-name similarity.
func (r *Resolver) SearchVoices(query string, limit int) []registry.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.Search(query, limit)
}

// ReplaceVoices atomically swaps the catalogue for a freshly fetched one.
// Persisted metadata is re-applied by ID. Voices seen for the first time are
// enabled and, when autoTag is set, tagged from their name and hint. It
// returns the number of first-seen voices.
func (r *Resolver) ReplaceVoices(voices []registry.Voice, autoTag bool) int {
	var added int
	r.mutate(func() bool {
		next := make([]registry.Voice, 0, len(voices))
		var fresh []string
		for _, v := range voices {
			if _, known := r.meta[strings.ToLower(strings.TrimSpace(v.ID))]; known {
				next = append(next, r.withMeta(v))
				continue
			}
			v.Enabled = true
			next = append(next, v)
			fresh = append(fresh, v.ID)
		}
		r.registry.ReplaceAll(next)
		for _, id := range fresh {
			v, ok := r.registry.FindByID(id)
			if !ok {
				continue
			}
			if autoTag {
				v, _ = r.registry.AutoSuggest(id, false)
			}
			r.storeMeta(v)
			added++
		}
		return true
	})
	return added
}

func (r *Resolver) storeMeta(v registry.Voice) {
	r.meta[strings.ToLower(v.ID)] = named[settings.VoiceMeta]{
		name: v.ID,
		value: settings.VoiceMeta{
			Tags:     v.Tags.Sorted(),
			Tone:     v.Tone,
			Accent:   v.Accent,
			Enabled:  v.Enabled,
			Reserved: v.Reserved,
		},
	}
}

// editVoice applies a registry edit and persists the resulting metadata.
func (r *Resolver) editVoice(id string, edit func(*registry.Registry) (registry.Voice, error)) (registry.Voice, error) {
	var (
		v   registry.Voice
		err error
	)
	r.mutate(func() bool {
		v, err = edit(r.registry)
		if err != nil {
			return false
		}
		r.storeMeta(v)
		return true
	})
	if err != nil {
		return registry.Voice{}, fmt.Errorf("resolver: edit voice %q: %w", id, err)
	}
	return v, nil
}

// SetVoiceEnabled toggles whether the voice takes part in random picks.
func (r *Resolver) SetVoiceEnabled(id string, enabled bool) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.SetEnabled(id, enabled) })
}

// SetVoiceReserved marks the voice as usable by exact overrides only.
func (r *Resolver) SetVoiceReserved(id string, reserved bool) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.SetReserved(id, reserved) })
}

// AddVoiceTag attaches a tag to the voice.
func (r *Resolver) AddVoiceTag(id, t string) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.AddTag(id, t) })
}

// RemoveVoiceTag detaches a tag from the voice.
func (r *Resolver) RemoveVoiceTag(id, t string) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.RemoveTag(id, t) })
}

// SetVoiceTone replaces the voice's tone.
func (r *Resolver) SetVoiceTone(id, tone string) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.SetTone(id, tone) })
}

// SetVoiceAccent replaces the voice's accent.
func (r *Resolver) SetVoiceAccent(id, accent string) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.SetAccent(id, accent) })
}

// AutoTagVoice re-derives the voice's tags, tone and accent from its name.
func (r *Resolver) AutoTagVoice(id string, overwrite bool) (registry.Voice, error) {
	return r.editVoice(id, func(reg *registry.Registry) (registry.Voice, error) { return reg.AutoSuggest(id, overwrite) })
}

// SuggestTagsForNPC reports the tags auto-classification derives from npc's
// name, before any profile tags are added.
func SuggestTagsForNPC(npc string) tag.Set {
	return npcTags(npc).Sorted()
}

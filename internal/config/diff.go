package config

import (
	"fmt"
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported field by field; RestartRequired lists
// the sections whose changes only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PlaybackChanged bool // gap or interrupt_previous changed
	VoicesChanged   bool // refresh_interval or auto_tag changed

	NPCsChanged bool      // true if any NPC entry was added, removed or changed
	NPCChanges  []NPCDiff // per-NPC diffs

	RestartRequired []string
}

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PlaybackChanged && !d.VoicesChanged &&
		!d.NPCsChanged && len(d.RestartRequired) == 0
}

// NPCDiff describes what changed for a single NPC between two configs.
type NPCDiff struct {
	Name           string
	VoiceChanged   bool
	BucketChanged  bool
	ProfileChanged bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Playback.Gap != new.Playback.Gap || old.Playback.InterruptPrevious != new.Playback.InterruptPrevious {
		d.PlaybackChanged = true
	}
	if old.Voices != new.Voices {
		d.VoicesChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Playback.Device != new.Playback.Device || old.Playback.OutputDir != new.Playback.OutputDir ||
		old.Playback.SampleRate != new.Playback.SampleRate || old.Playback.Channels != new.Playback.Channels ||
		old.Playback.Discord != new.Playback.Discord {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Dialogue != new.Dialogue {
		d.RestartRequired = append(d.RestartRequired, "dialogue")
	}

	// Build NPC lookup maps keyed by name.
	oldNPCs := make(map[string]*NPCConfig, len(old.NPCs))
	for i := range old.NPCs {
		oldNPCs[old.NPCs[i].Name] = &old.NPCs[i]
	}
	newNPCs := make(map[string]*NPCConfig, len(new.NPCs))
	for i := range new.NPCs {
		newNPCs[new.NPCs[i].Name] = &new.NPCs[i]
	}

	// Detect modified and removed NPCs.
	for _, name := range sortedNames(oldNPCs) {
		newNPC, exists := newNPCs[name]
		if !exists {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{
				Name:    name,
				Removed: true,
			})
			d.NPCsChanged = true
			continue
		}
		nd := diffNPC(name, oldNPCs[name], newNPC)
		if nd.VoiceChanged || nd.BucketChanged || nd.ProfileChanged {
			d.NPCChanges = append(d.NPCChanges, nd)
			d.NPCsChanged = true
		}
	}

	// Detect added NPCs.
	for _, name := range sortedNames(newNPCs) {
		if _, exists := oldNPCs[name]; !exists {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{
				Name:  name,
				Added: true,
			})
			d.NPCsChanged = true
		}
	}

	return d
}

// diffNPC compares two NPC configs with the same name.
func diffNPC(name string, old, new *NPCConfig) NPCDiff {
	nd := NPCDiff{Name: name}

	if old.Voice != new.Voice {
		nd.VoiceChanged = true
	}

	if old.Bucket != new.Bucket {
		nd.BucketChanged = true
	}

	if !slices.Equal(old.RequiredTags, new.RequiredTags) || !slices.Equal(old.PreferredTags, new.PreferredTags) ||
		old.Tone != new.Tone || old.Accent != new.Accent {
		nd.ProfileChanged = true
	}

	return nd
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.TTS, b.TTS) && slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(bv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func sortedNames(m map[string]*NPCConfig) []string {
	return slices.Sorted(maps.Keys(m))
}

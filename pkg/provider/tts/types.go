package tts

import (
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/npcvoice/pkg/audio"
)

// VoiceProfile describes one voice of a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default). Zero means
	// the provider default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age, accent,
	// description, etc.).
	Metadata map[string]string
}

// Hint flattens Metadata into "key value" pairs ordered by key, suitable as
// free text for automatic tagging.
func (v VoiceProfile) Hint() string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(v.Metadata)) {
		val := strings.TrimSpace(v.Metadata[k])
		if val == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(val)
	}
	return b.String()
}

// OutputFormat describes the bytes a provider emits. Format is authoritative
// for [audio.EncodingPCM]; WAV and MP3 payloads carry their own header and
// Format is only a hint.
type OutputFormat struct {
	Encoding audio.Encoding
	audio.Format
}

// Audio is a complete synthesised utterance.
type Audio struct {
	Data   []byte
	Output OutputFormat
}

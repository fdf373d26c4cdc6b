package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/npcvoice/pkg/provider/tts/mock"
)

var testCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour}}

func textOf(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

func collect(ch <-chan []byte) []string {
	var out []string
	for chunk := range ch {
		out = append(out, string(chunk))
	}
	return out
}

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	audioCh, err := fb.SynthesizeStream(context.Background(), textOf("hello"), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := collect(audioCh)
	if len(chunks) != 2 || chunks[0] != "audio1" {
		t.Fatalf("chunks = %q, want [audio1 audio2]", chunks)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Fatalf("primary called %d times, want 1", n)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestTTSFallback_SynthesizeStream_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	audioCh, err := fb.SynthesizeStream(context.Background(), textOf("hello"), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks := collect(audioCh); len(chunks) != 1 || chunks[0] != "fallback-audio" {
		t.Fatalf("chunks = %q, want [fallback-audio]", chunks)
	}
}

func TestTTSFallback_SynthesizeStream_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("primary down")}, "primary", testCfg)
	fb.AddFallback("secondary", &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")})

	_, err := fb.SynthesizeStream(context.Background(), textOf("hello"), tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_SynthesizeAudio_MidStreamFailover(t *testing.T) {
	t.Parallel()

	// The primary starts a stream but produces no audio.
	primary := &ttsmock.Provider{}
	secondary := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{[]byte("ab"), []byte("cd")},
		OutputResult:     tts.OutputFormat{Encoding: audio.EncodingPCM, Format: audio.Format{SampleRate: 16000, Channels: 1}},
	}

	fb := NewTTSFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	got, err := fb.SynthesizeAudio(context.Background(), tts.VoiceProfile{ID: "v1"}, "Hail, traveller.")
	if err != nil {
		t.Fatalf("SynthesizeAudio: %v", err)
	}
	if string(got.Data) != "abcd" {
		t.Errorf("Data = %q, want abcd", got.Data)
	}
	if got.Output.SampleRate != 16000 {
		t.Errorf("Output = %+v, want the secondary's 16 kHz format", got.Output)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Text != "Hail, traveller." {
		t.Errorf("secondary calls = %+v, want one with the full text", calls)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}, {ID: "v2", Name: "Bob"}}}

	fb := NewTTSFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Fatalf("voices = %+v, want Alice and Bob", voices)
	}
	if primary.ListVoicesCalls != 1 {
		t.Errorf("primary ListVoicesCalls = %d, want 1", primary.ListVoicesCalls)
	}
}

func TestTTSFallback_OutputAndStatus(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{OutputResult: tts.OutputFormat{Encoding: audio.EncodingMP3, Format: audio.Format{SampleRate: 44100, Channels: 2}}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	fb.AddFallback("openai", &ttsmock.Provider{})

	if got := fb.Output(); got != primary.OutputResult {
		t.Errorf("Output() = %+v, want primary format", got)
	}

	primary.SetListVoices(nil, errors.New("down"))
	if _, err := fb.ListVoices(context.Background()); err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	status := fb.Status()
	if len(status) != 2 || status[0].Name != "elevenlabs" || status[0].State != StateOpen {
		t.Errorf("Status() = %+v, want elevenlabs open", status)
	}
	if !fb.Healthy() {
		t.Error("Healthy() = false, want true while openai is closed")
	}
}

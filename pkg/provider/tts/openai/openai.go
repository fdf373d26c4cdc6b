// Package openai provides a TTS provider backed by the OpenAI speech endpoint
// (POST /v1/audio/speech). It implements the tts.Provider interface.
//
// The endpoint is batch-oriented: one request renders one piece of text. For
// PCM output SynthesizeStream issues one request per sentence so playback can
// start early; WAV and MP3 responses carry a container header and are
// requested once for the whole text.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/npcvoice/pkg/audio"
	"github.com/MrWong99/npcvoice/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelTTS1

const (
	// sampleRate is the fixed rate of the endpoint's pcm and wav output.
	sampleRate = 24000

	audioChanBuf = 64
	chunkSize    = 4096
	providerName = "openai"
)

// Ensure Provider implements the tts interfaces.
var (
	_ tts.Provider         = (*Provider)(nil)
	_ tts.AudioSynthesizer = (*Provider)(nil)
)

// builtinVoices is the endpoint's fixed voice set. OpenAI has no listing
// endpoint; the gender and accent labels follow the published voice previews
// and feed automatic tagging.
var builtinVoices = []tts.VoiceProfile{
	{ID: "alloy", Name: "Alloy", Metadata: map[string]string{"gender": "neutral"}},
	{ID: "ash", Name: "Ash", Metadata: map[string]string{"gender": "male"}},
	{ID: "ballad", Name: "Ballad", Metadata: map[string]string{"gender": "male", "accent": "british"}},
	{ID: "coral", Name: "Coral", Metadata: map[string]string{"gender": "female", "tone": "warm"}},
	{ID: "echo", Name: "Echo", Metadata: map[string]string{"gender": "male"}},
	{ID: "fable", Name: "Fable", Metadata: map[string]string{"gender": "male", "accent": "british"}},
	{ID: "nova", Name: "Nova", Metadata: map[string]string{"gender": "female"}},
	{ID: "onyx", Name: "Onyx", Metadata: map[string]string{"gender": "male", "tone": "deep"}},
	{ID: "sage", Name: "Sage", Metadata: map[string]string{"gender": "female", "tone": "calm"}},
	{ID: "shimmer", Name: "Shimmer", Metadata: map[string]string{"gender": "female", "tone": "soft"}},
	{ID: "verse", Name: "Verse", Metadata: map[string]string{"gender": "male"}},
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        oai.SpeechModel
	format       oai.AudioSpeechNewParamsResponseFormat
	instructions string
}

// config holds optional configuration for the provider.
type config struct {
	model        string
	format       string
	baseURL      string
	organization string
	instructions string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel selects the speech model ("tts-1", "tts-1-hd", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithResponseFormat selects "pcm" (default), "wav" or "mp3".
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithInstructions passes delivery instructions ("speak like a weary
// innkeeper"). Ignored by tts-1 and tts-1-hd.
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// values are ignored.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs an OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	format := oai.AudioSpeechNewParamsResponseFormatPCM
	switch strings.ToLower(cfg.format) {
	case "", "pcm":
	case "wav":
		format = oai.AudioSpeechNewParamsResponseFormatWAV
	case "mp3":
		format = oai.AudioSpeechNewParamsResponseFormatMP3
	default:
		return nil, fmt.Errorf("openai tts: unsupported response format %q (want pcm, wav or mp3)", cfg.format)
	}

	model := DefaultModel
	if cfg.model != "" {
		model = oai.SpeechModel(cfg.model)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		format:       format,
		instructions: cfg.instructions,
	}, nil
}

// Output implements tts.Provider.
func (p *Provider) Output() tts.OutputFormat {
	enc := audio.EncodingPCM
	switch p.format {
	case oai.AudioSpeechNewParamsResponseFormatWAV:
		enc = audio.EncodingWAV
	case oai.AudioSpeechNewParamsResponseFormatMP3:
		enc = audio.EncodingMP3
	}
	return tts.OutputFormat{Encoding: enc, Format: audio.Format{SampleRate: sampleRate, Channels: 1}}
}

// ListVoices implements tts.Provider. It returns the built-in voice set.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]tts.VoiceProfile, len(builtinVoices))
	for i, v := range builtinVoices {
		v.Provider = providerName
		meta := make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			meta[k] = val
		}
		v.Metadata = meta
		out[i] = v
	}
	return out, nil
}

// SynthesizeAudio implements tts.AudioSynthesizer with a single request.
func (p *Provider) SynthesizeAudio(ctx context.Context, voice tts.VoiceProfile, text string) (tts.Audio, error) {
	body, err := p.speak(ctx, voice, text)
	if err != nil {
		return tts.Audio{}, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return tts.Audio{}, fmt.Errorf("openai tts: voice %q: %w", voice.ID, tts.ErrNoAudio)
	}
	return tts.Audio{Data: data, Output: p.Output()}, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}

	var pieces <-chan string
	if p.format == oai.AudioSpeechNewParamsResponseFormatPCM {
		pieces = tts.Sentences(ctx, text)
	} else {
		pieces = joinAll(ctx, text)
	}

	audioCh := make(chan []byte, audioChanBuf)
	go func() {
		defer close(audioCh)
		for piece := range pieces {
			if err := p.streamPiece(ctx, voice, piece, audioCh); err != nil {
				if ctx.Err() == nil {
					slog.Warn("openai tts: synthesis failed", "voice", voice.ID, "err", err)
				}
				go audio.Drain(pieces)
				return
			}
		}
	}()
	return audioCh, nil
}

func (p *Provider) streamPiece(ctx context.Context, voice tts.VoiceProfile, text string, out chan<- []byte) error {
	body, err := p.speak(ctx, voice, text)
	if err != nil {
		return err
	}
	defer body.Close()

	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case err != nil:
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}

// speak issues one speech request and returns the response body.
func (p *Provider) speak(ctx context.Context, voice tts.VoiceProfile, text string) (io.ReadCloser, error) {
	params := p.params(voice, text)
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	return resp.Body, nil
}

// params builds the request body for one utterance.
func (p *Provider) params(voice tts.VoiceProfile, text string) oai.AudioSpeechNewParams {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: p.format,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(max(0.25, min(4, voice.SpeedFactor)))
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}
	return params
}

// joinAll collects every fragment into a single piece of text.
func joinAll(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		var sb strings.Builder
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					if s := strings.TrimSpace(sb.String()); s != "" {
						out <- s
					}
					return
				}
				sb.WriteString(frag)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

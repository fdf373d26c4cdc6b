// Package discord provides a [playback.Sink] that speaks clips into a Discord
// voice channel through the bwmarrin/discordgo voice transport.
//
// Clips are decoded to 48 kHz stereo PCM, cut into 20 ms frames, encoded to
// Opus and handed to the voice connection, which paces them in real time.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/npcvoice/internal/playback"
	"github.com/MrWong99/npcvoice/pkg/audio"
)

// Compile-time interface assertion.
var _ playback.Sink = (*Sink)(nil)

// Config names the bot and the channel it joins.
type Config struct {
	Token     string
	GuildID   string
	ChannelID string
}

// voice is the part of *discordgo.VoiceConnection the sink uses.
type voice interface {
	Speaking(bool) error
	Disconnect() error
}

// Sink plays clips into one Discord voice channel. It is safe for concurrent
// use, but like every Sink it plays one clip at a time.
type Sink struct {
	v     voice
	send  chan<- []byte
	enc   encoder
	close func() error

	mu   sync.Mutex
	stop chan struct{}
}

// Open connects a bot session, joins the configured voice channel and returns
// a Sink that plays into it. Close leaves the channel and ends the session.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Token == "" || cfg.GuildID == "" || cfg.ChannelID == "" {
		return nil, errors.New("discord: token, guild id and channel id are required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return nil, err
	}

	// mute=false (we send audio), deaf=true (we never listen).
	vc, err := session.ChannelVoiceJoin(cfg.GuildID, cfg.ChannelID, false, true)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", cfg.ChannelID, err)
	}
	enc, err := newOpusEncoder()
	if err != nil {
		_ = vc.Disconnect()
		_ = session.Close()
		return nil, err
	}
	slog.Info("joined discord voice channel", "guild_id", cfg.GuildID, "channel_id", cfg.ChannelID)
	return newSink(vc, vc.OpusSend, enc, session.Close), nil
}

func newSink(v voice, send chan<- []byte, enc encoder, closeSession func() error) *Sink {
	return &Sink{v: v, send: send, enc: enc, close: closeSession}
}

// Play encodes clip and streams it into the channel. It returns once the last
// packet was handed to the connection, or early with
// [playback.ErrInterrupted] after Stop or ctx.Err() on cancellation.
func (s *Sink) Play(ctx context.Context, clip playback.Clip) error {
	pcm, err := playback.Decode(clip.Audio, audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}, clip.Volume)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			s.stop = nil
		}
		s.mu.Unlock()
	}()

	s.speaking(true)
	defer s.speaking(false)

	for _, frame := range frames(pcm) {
		packet, err := s.enc.encode(frame)
		if err != nil {
			return err
		}
		select {
		case s.send <- packet:
		case <-stop:
			return playback.ErrInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop interrupts the clip currently playing, if any.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Close leaves the voice channel and closes the bot session.
func (s *Sink) Close() error {
	s.Stop()
	err := s.v.Disconnect()
	if s.close != nil {
		err = errors.Join(err, s.close())
	}
	return err
}

func (s *Sink) speaking(on bool) {
	if err := s.v.Speaking(on); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", on, "err", err)
	}
}

package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/npcvoice/pkg/audio"
)

// Compile-time interface assertion.
var _ Sink = (*Device)(nil)

// Device is a [Sink] that plays clips on a speaker through miniaudio.
type Device struct {
	ctx    *malgo.AllocatedContext
	format audio.Format
	id     malgo.DeviceID
	named  bool

	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

// OpenDevice opens the playback device whose name contains name (case
// insensitive), or the system default when name is empty. Clips are converted
// to format before they reach the device.
func OpenDevice(name string, format audio.Format) (*Device, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("playback: invalid device format %s", format)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: init audio context: %w", err)
	}
	d := &Device{ctx: mctx, format: format}

	if name != "" {
		infos, err := mctx.Devices(malgo.Playback)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("playback: list devices: %w", err)
		}
		names := make([]string, len(infos))
		for i := range infos {
			names[i] = infos[i].Name()
		}
		idx, err := matchDevice(names, name)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.id = infos[idx].ID
		d.named = true
		slog.Info("playback device selected", "device", names[idx])
	}
	return d, nil
}

// DeviceNames lists the playback devices miniaudio can see.
func DeviceNames() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()
	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("playback: list devices: %w", err)
	}
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	return names, nil
}

// matchDevice returns the index of the first name containing want, ignoring
// case.
func matchDevice(names []string, want string) (int, error) {
	want = strings.ToLower(strings.TrimSpace(want))
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("playback: no playback device matches %q (have %s)", want, strings.Join(names, ", "))
}

// Format returns the PCM format the device is driven with.
func (d *Device) Format() audio.Format { return d.format }

// Play decodes clip and blocks until it has been played, ctx is done or
// [Device.Stop] is called.
func (d *Device) Play(ctx context.Context, clip Clip) error {
	pcm, err := Decode(clip.Audio, d.format, clip.Volume)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("playback: device closed")
	}
	stop := make(chan struct{})
	d.stop = stop
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.stop == stop {
			d.stop = nil
		}
		d.mu.Unlock()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)
	cfg.PeriodSizeInFrames = 512
	cfg.Periods = 2
	if d.named {
		cfg.Playback.DeviceID = d.id.Pointer()
	}

	var (
		pos      int
		finished = make(chan struct{}, 1)
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			need := min(int(frameCount)*d.format.FrameSize(), len(out))
			n := copy(out[:need], pcm[pos:])
			clear(out[n:need])
			pos += n
			if pos >= len(pcm) {
				select {
				case finished <- struct{}{}:
				default:
				}
			}
		},
	}

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("playback: init device: %w", err)
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return fmt.Errorf("playback: start device: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	select {
	case <-finished:
		return nil
	case <-stop:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cuts off the clip playing, if any.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

// Close releases the audio context. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}

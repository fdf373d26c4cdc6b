package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVInfo is the format metadata of a RIFF/WAVE container.
type WAVInfo struct {
	Format
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int
	// DataLen is the length of the data chunk, clipped to the buffer.
	DataLen int
	// BitsPerSample is taken from the fmt chunk.
	BitsPerSample int
}

// ParseWAV walks the RIFF chunks of wav and locates the fmt and data chunks.
// Chunk sizes are honoured instead of assuming a 44-byte header.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: wav: too short for a RIFF header")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: wav: missing RIFF/WAVE identifier")
	}

	var (
		info     WAVInfo
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size >= 16 && offset+8+16 <= len(wav) {
				f := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: wav: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLen = min(size, len(wav)-info.DataOffset)
			return info, nil
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: wav: missing data chunk")
}

// DecodeWAV returns the 16-bit PCM payload of wav and its format.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, Format{}, err
	}
	if info.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("audio: wav: unsupported %d-bit samples", info.BitsPerSample)
	}
	return wav[info.DataOffset : info.DataOffset+info.DataLen], info.Format, nil
}

// WriteWAV writes pcm as a canonical 44-byte-header WAVE file.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	if !f.Valid() {
		return fmt.Errorf("audio: wav: invalid format %s", f)
	}
	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.SampleRate*f.FrameSize()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("audio: wav: write header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: wav: write data: %w", err)
	}
	return nil
}

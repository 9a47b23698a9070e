package testsupport

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// WriteWAV writes a minimal mono 16-bit PCM wav file containing the given
// samples at the given rate.
func WriteWAV(t testing.TB, path string, samples []float32, sampleRate int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)
	le := binary.LittleEndian

	u32 := func(v uint32) {
		var tmp [4]byte
		le.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	u16 := func(v uint16) {
		var tmp [2]byte
		le.PutUint16(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}

	buf = append(buf, "RIFF"...)
	u32(uint32(36 + dataLen))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	u32(16)
	u16(1) // PCM
	u16(1) // mono
	u32(uint32(sampleRate))
	u32(uint32(sampleRate * 2))
	u16(2)
	u16(16)
	buf = append(buf, "data"...)
	u32(uint32(dataLen))
	for _, sample := range samples {
		clamped := math.Max(-1, math.Min(1, float64(sample)))
		u16(uint16(int16(clamped * math.MaxInt16)))
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Sine returns a sine wave of the given frequency, useful as test audio.
func Sine(freq float64, sampleRate, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

package analysis

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"samplib/internal/testsupport"
)

func TestWAVDecodeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	want := testsupport.Sine(440, 48000, 4800)
	testsupport.WriteWAV(t, path, want, 48000)

	decoder := NewWAVDecoder()
	clip, err := decoder.Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 48000 {
		t.Fatalf("sample rate = %d, want 48000", clip.SampleRate)
	}
	if len(clip.Samples) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(clip.Samples), len(want))
	}
	for i := range want {
		if math.Abs(float64(clip.Samples[i]-want[i])) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want ~%v", i, clip.Samples[i], want[i])
		}
	}
}

func TestWAVDecodeMalformedHeaderFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	testsupport.WriteWAV(t, path, testsupport.Sine(440, 44100, 44100), 44100)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Damage the fmt chunk id so structured parsing fails while the RIFF
	// prefix stays intact.
	copy(raw[12:16], "XXXX")
	damaged := filepath.Join(dir, "damaged.wav")
	if err := os.WriteFile(damaged, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	clip, err := NewWAVDecoder().Decode(context.Background(), damaged)
	if err != nil {
		t.Fatalf("fallback decode failed: %v", err)
	}
	if len(clip.Samples) == 0 || clip.SampleRate != fallbackSampleRate {
		t.Fatalf("fallback clip = %d samples at %d Hz", len(clip.Samples), clip.SampleRate)
	}
}

func TestWAVDecodeRejectsUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewWAVDecoder().Decode(context.Background(), path); err == nil {
		t.Fatal("expected decode error for non-wav input")
	}
}

func TestPreprocessWindowRules(t *testing.T) {
	rate := 100
	window := windowSeconds * rate

	t.Run("short clips repeat pad", func(t *testing.T) {
		clip := &Clip{Samples: []float32{0.5, -0.5, 0.25}, SampleRate: rate}
		got := Preprocess(clip)
		if len(got.Samples) != window {
			t.Fatalf("padded length = %d, want %d", len(got.Samples), window)
		}
		if got.Samples[3] != got.Samples[0] {
			t.Fatalf("repeat pad broken: sample 3 = %v, sample 0 = %v", got.Samples[3], got.Samples[0])
		}
	})

	t.Run("long clips truncate", func(t *testing.T) {
		clip := &Clip{Samples: testsupport.Sine(5, rate, window*2), SampleRate: rate}
		got := Preprocess(clip)
		if len(got.Samples) != window {
			t.Fatalf("truncated length = %d, want %d", len(got.Samples), window)
		}
	})

	t.Run("peak normalization", func(t *testing.T) {
		clip := &Clip{Samples: []float32{0.25, -0.125, 0.0625}, SampleRate: rate}
		got := Preprocess(clip)
		var peak float32
		for _, s := range got.Samples {
			if a := abs32(s); a > peak {
				peak = a
			}
		}
		if math.Abs(float64(peak)-1) > 1e-6 {
			t.Fatalf("peak after normalization = %v, want 1", peak)
		}
	})

	t.Run("silence trim", func(t *testing.T) {
		samples := make([]float32, 50)
		samples[25] = 1
		clip := &Clip{Samples: samples, SampleRate: rate}
		got := Preprocess(clip)
		if got.Samples[0] != 1 {
			t.Fatalf("leading silence survived: first sample = %v", got.Samples[0])
		}
	})
}

func TestHashEmbedderDeterministicUnitVectors(t *testing.T) {
	embedder := NewHashEmbedder("test-model", 16)
	clipA := &Clip{Samples: testsupport.Sine(440, 1000, 500), SampleRate: 1000}
	clipB := &Clip{Samples: testsupport.Sine(880, 1000, 500), SampleRate: 1000}

	first, err := embedder.EmbedBatch(context.Background(), []*Clip{clipA, clipB, clipA})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("got %d vectors, want 3", len(first))
	}
	for i, v := range first {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-5 {
			t.Fatalf("vector %d norm = %v, want 1", i, norm)
		}
	}
	for i := range first[0] {
		if first[0][i] != first[2][i] {
			t.Fatal("same clip produced different embeddings")
		}
	}
	same := true
	for i := range first[0] {
		if first[0][i] != first[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different clips produced identical embeddings")
	}
}

func TestTimeDomainExtractor(t *testing.T) {
	extractor := NewTimeDomainExtractor(1)
	clip := &Clip{Samples: testsupport.Sine(10, 1000, 2000), SampleRate: 1000}

	vector, err := extractor.Extract(clip)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(vector) != FeatureLength {
		t.Fatalf("vector length = %d, want %d", len(vector), FeatureLength)
	}
	if math.Abs(float64(vector[0])-2) > 1e-6 {
		t.Fatalf("duration = %v, want 2s", vector[0])
	}
	// A 0.5-amplitude sine has RMS ~0.3536.
	if math.Abs(float64(vector[1])-0.3536) > 0.01 {
		t.Fatalf("rms = %v, want ~0.3536", vector[1])
	}
	if vector[2] < 0.49 || vector[2] > 0.51 {
		t.Fatalf("peak = %v, want ~0.5", vector[2])
	}

	if _, err := extractor.Extract(&Clip{SampleRate: 0}); err == nil {
		t.Fatal("expected error for invalid sample rate")
	}
}

package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"samplib/internal/config"
)

// NewEmbedder selects the embedding backend named in the configuration.
// "hash" is the built-in deterministic backend; real model runtimes plug in
// behind the same interface.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.Analysis.Backend {
	case "hash":
		return NewHashEmbedder(cfg.Analysis.ModelID, cfg.Analysis.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Analysis.Backend)
	}
}

// HashEmbedder derives a deterministic pseudo-embedding from the audio
// content. Identical audio always maps to the same unit vector, which is
// enough for exercising the indexing pipeline end to end without a model
// runtime.
type HashEmbedder struct {
	modelID string
	dim     int
}

func NewHashEmbedder(modelID string, dim int) *HashEmbedder {
	return &HashEmbedder{modelID: modelID, dim: dim}
}

func (e *HashEmbedder) ModelID() string { return e.modelID }

func (e *HashEmbedder) Dim() int { return e.dim }

func (e *HashEmbedder) EmbedBatch(ctx context.Context, clips []*Clip) ([][]float32, error) {
	vectors := make([][]float32, len(clips))
	for i, clip := range clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(clip)
	}
	return vectors, nil
}

func (e *HashEmbedder) embed(clip *Clip) []float32 {
	hasher := sha256.New()
	hasher.Write([]byte(e.modelID))
	var buf [4]byte
	for _, s := range clip.Samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		hasher.Write(buf[:])
	}
	seed := int64(binary.LittleEndian.Uint64(hasher.Sum(nil)[:8]))
	rng := rand.New(rand.NewSource(seed))

	vector := make([]float32, e.dim)
	var norm float64
	for i := range vector {
		vector[i] = float32(rng.NormFloat64())
		norm += float64(vector[i]) * float64(vector[i])
	}
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector
}

// FeatureLength is the fixed vector length written by extractor version 1.
const FeatureLength = 8

// TimeDomainExtractor computes a small engineered descriptor: duration,
// level statistics, and zero-crossing rate, padded to FeatureLength.
type TimeDomainExtractor struct {
	version int
}

func NewTimeDomainExtractor(version int) *TimeDomainExtractor {
	return &TimeDomainExtractor{version: version}
}

func (x *TimeDomainExtractor) Version() int { return x.version }

func (x *TimeDomainExtractor) Extract(clip *Clip) ([]float32, error) {
	if clip.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", clip.SampleRate)
	}
	vector := make([]float32, FeatureLength)
	n := len(clip.Samples)
	if n == 0 {
		return vector, nil
	}

	var sumSquares, peak float64
	crossings := 0
	for i, s := range clip.Samples {
		v := float64(s)
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
		if i > 0 && (s >= 0) != (clip.Samples[i-1] >= 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sumSquares / float64(n))

	// Crude attack estimate: samples until 90% of peak is first reached.
	attack := n
	for i, s := range clip.Samples {
		if math.Abs(float64(s)) >= 0.9*peak {
			attack = i
			break
		}
	}

	vector[0] = float32(n) / float32(clip.SampleRate)
	vector[1] = float32(rms)
	vector[2] = float32(peak)
	vector[3] = float32(crossings) / float32(n)
	vector[4] = float32(attack) / float32(clip.SampleRate)
	return vector, nil
}

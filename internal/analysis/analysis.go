// Package analysis runs the compute side of the pipeline: workers claim job
// batches, decode audio, preprocess it, and invoke the feature and embedding
// collaborators. Results flow to the finalizer as per-job outcomes so one
// bad file never sinks a batch.
package analysis

import (
	"context"

	"samplib/internal/catalog"
	"samplib/internal/ledger"
)

// Clip is decoded mono audio in [-1, 1] at its native sample rate.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Decoder turns an on-disk audio file into a mono clip.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Clip, error)
}

// FeatureExtractor computes a fixed-length engineered feature vector.
type FeatureExtractor interface {
	Version() int
	Extract(clip *Clip) ([]float32, error)
}

// Embedder computes fixed-length embedding vectors. EmbedBatch amortizes
// model overhead across multiple preprocessed clips; implementations must
// return one vector per input, in order.
type Embedder interface {
	ModelID() string
	Dim() int
	EmbedBatch(ctx context.Context, clips []*Clip) ([][]float32, error)
}

// Result is one job's outcome. Err is nil for successes; Vector is nil for
// failures. SourceHash is the fingerprint hash the vector was computed from,
// re-checked by the finalizer before commit.
type Result struct {
	Job        *ledger.Job
	Sample     *catalog.Sample
	Vector     []float32
	SourceHash string
	Err        error
}

// Batch groups one claim's worth of results for the finalizer.
type Batch struct {
	WorkerID string
	Results  []Result
}

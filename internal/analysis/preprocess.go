package analysis

import "math"

const (
	silenceThreshold = 0.001
	windowSeconds    = 10
)

// Preprocess trims leading and trailing silence, peak-normalizes into
// [-1, 1], and repeat-pads or truncates to the model's fixed window. The
// returned clip shares no memory with the input.
func Preprocess(clip *Clip) *Clip {
	samples := trimSilence(clip.Samples)
	samples = normalizePeak(samples)
	samples = fitWindow(samples, windowSeconds*clip.SampleRate)
	return &Clip{Samples: samples, SampleRate: clip.SampleRate}
}

func trimSilence(samples []float32) []float32 {
	start := 0
	for start < len(samples) && abs32(samples[start]) < silenceThreshold {
		start++
	}
	end := len(samples)
	for end > start && abs32(samples[end-1]) < silenceThreshold {
		end--
	}
	return samples[start:end]
}

func normalizePeak(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	out := make([]float32, len(samples))
	if peak == 0 {
		return out
	}
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// fitWindow truncates long clips and repeat-pads short ones so every input
// to the embedder has the same length.
func fitWindow(samples []float32, window int) []float32 {
	if window <= 0 || len(samples) == 0 {
		return make([]float32, max(window, 0))
	}
	if len(samples) >= window {
		return append([]float32(nil), samples[:window]...)
	}
	out := make([]float32, window)
	for i := range out {
		out[i] = samples[i%len(samples)]
	}
	return out
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

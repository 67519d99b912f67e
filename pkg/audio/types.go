// Package audio defines the fixed-shape value types that flow through the
// streaming feature pipeline: raw PCM frames, mel-spectrogram frames, and
// keyword-spotting embeddings. All three are produced at a fixed rate by
// design — see the package-level constants — so pipeline stages can be
// written without runtime shape checks on the hot path.
package audio

import "fmt"

const (
	// SampleRate is the only sample rate the pipeline accepts, in Hz.
	SampleRate = 16000

	// FrameSamples is the number of samples in one Frame (80 ms at 16 kHz).
	FrameSamples = 1280

	// MelBins is the number of bins in one MelFrame.
	MelBins = 32

	// EmbeddingDims is the number of values in one Embedding.
	EmbeddingDims = 96

	// EmbeddingWindow is the number of consecutive mel frames consumed to
	// produce one Embedding.
	EmbeddingWindow = 76
)

// Frame is one 80 ms block of mono, 16 kHz, single-precision PCM samples in
// [-1, 1]. Every Frame delivered by an audio source must be exactly
// FrameSamples long; pipeline stages treat any other length as a caller bug.
type Frame struct {
	Samples [FrameSamples]float32
}

// NewFrame validates samples and copies them into a Frame. It returns an
// error if len(samples) != FrameSamples.
func NewFrame(samples []float32) (Frame, error) {
	var f Frame
	if len(samples) != FrameSamples {
		return f, fmt.Errorf("audio: frame must have %d samples, got %d", FrameSamples, len(samples))
	}
	copy(f.Samples[:], samples)
	return f, nil
}

// MelFrame is one output step of the mel stage: MelBins single-precision
// values.
type MelFrame [MelBins]float32

// Embedding is a 96-dimensional keyword-spotting feature vector, produced
// once per full EmbeddingWindow of mel frames.
type Embedding [EmbeddingDims]float32

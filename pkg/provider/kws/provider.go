// Package kws defines the Session interface for keyword-spotting inference
// backends.
//
// A Session is a single stateless tensor-in/tensor-out inference call: the
// mel stage, the embedding stage, and each per-keyword classifier head are
// all expressed as one Session each. This keeps the streaming pipeline in
// internal/kws free of any dependency on a specific runtime (ONNX, WASM, or
// otherwise); any backend that can run a named model against a flat
// float32 input and return a flat float32 output satisfies the interface.
//
// Implementations must be safe for concurrent use across different
// sessions; a single Session need not be safe to call from multiple
// goroutines unless documented otherwise.
package kws

// Session is one loaded inference model. input is supplied flattened in
// row-major order together with its logical shape; Run returns the
// flattened output.
type Session interface {
	// Run executes the model against input, shaped as described by shape.
	// Returns an error if shape does not match what the model expects or if
	// inference otherwise fails.
	Run(input []float32, shape []int) ([]float32, error)

	// Close releases resources held by the session. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

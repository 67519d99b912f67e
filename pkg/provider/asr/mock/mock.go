// Package mock provides a deterministic test double for asr.Engine.
package mock

import (
	"context"
	"sync"

	"github.com/sayverb/voicerouter/pkg/provider/asr"
)

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// InitErr, if non-nil, is returned by Init.
	InitErr error
	// TranscribeResult is returned by every Transcribe call with non-empty
	// input. If TranscribeFunc is set, it takes precedence.
	TranscribeResult string
	// TranscribeFunc, if non-nil, computes the result for each Transcribe
	// call from its samples.
	TranscribeFunc func(samples []float32) (string, error)
	// TranscribeErr, if non-nil and TranscribeFunc is nil, is returned by
	// every Transcribe call.
	TranscribeErr error
	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	InitCallCount       int
	TranscribeCallCount int
	CloseCallCount      int
}

// Init records the call and returns InitErr.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InitCallCount++
	return e.InitErr
}

// Transcribe returns an empty string for empty input, otherwise delegates to
// TranscribeFunc or returns TranscribeResult/TranscribeErr.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	e.mu.Lock()
	e.TranscribeCallCount++
	fn := e.TranscribeFunc
	result, err := e.TranscribeResult, e.TranscribeErr
	e.mu.Unlock()

	if len(samples) == 0 {
		return "", nil
	}
	if fn != nil {
		return fn(samples)
	}
	return result, err
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)

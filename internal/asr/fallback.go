// Package asr composes concrete asr.Engine backends behind a fallback
// group, so a native whisper.cpp failure (or an open circuit breaker) falls
// back to the HTTP whisper-server backend without the caller knowing which
// one served a given request.
package asr

import (
	"context"

	"github.com/sayverb/voicerouter/internal/resilience"
	"github.com/sayverb/voicerouter/pkg/provider/asr"
)

// Engine transcribes utterances via a primary asr.Engine, falling back to
// secondary engines (in registration order) when the primary's circuit
// breaker is open or a call fails.
type Engine struct {
	group *resilience.FallbackGroup[asr.Engine]
	all   []asr.Engine
}

// NewEngine builds an Engine whose primary is primary, named primaryName.
// Add fallbacks with AddFallback before calling Init.
func NewEngine(primary asr.Engine, primaryName string, cfg resilience.FallbackConfig) *Engine {
	return &Engine{
		group: resilience.NewFallbackGroup(primary, primaryName, cfg),
		all:   []asr.Engine{primary},
	}
}

// AddFallback registers an additional backend, tried after every
// previously-registered entry has failed or is circuit-broken.
func (e *Engine) AddFallback(name string, fallback asr.Engine) {
	e.group.AddFallback(name, fallback)
	e.all = append(e.all, fallback)
}

// Init initializes every registered backend, continuing past failures, and
// returns the first error encountered. A backend that fails to initialize
// stays registered in the group.
func (e *Engine) Init(ctx context.Context) error {
	var firstErr error
	for _, backend := range e.all {
		if err := backend.Init(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Transcribe tries the primary, then each fallback in order.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	return resilience.ExecuteWithResult(e.group, func(backend asr.Engine) (string, error) {
		return backend.Transcribe(ctx, samples)
	})
}

// Close closes every registered backend and returns the first error
// encountered, if any.
func (e *Engine) Close() error {
	var firstErr error
	for _, backend := range e.all {
		if err := backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

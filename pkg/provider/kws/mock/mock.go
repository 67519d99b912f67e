// Package mock provides a deterministic test double for kws.Session.
package mock

import (
	"sync"

	"github.com/sayverb/voicerouter/pkg/provider/kws"
)

// RunCall records a single invocation of Session.Run.
type RunCall struct {
	// Input is a copy of the slice passed to Run.
	Input []float32
	// Shape is a copy of the shape passed to Run.
	Shape []int
}

// Session is a mock implementation of kws.Session.
type Session struct {
	mu sync.Mutex

	// Output is returned by every Run call. If OutputFunc is set, it takes
	// precedence.
	Output []float32

	// OutputFunc, if non-nil, computes the result for each Run call from its
	// arguments. Useful for returning different scores per embedding window
	// in a test.
	OutputFunc func(input []float32, shape []int) ([]float32, error)

	// RunErr, if non-nil and OutputFunc is nil, is returned by every Run call.
	RunErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// RunCalls records every call to Run in order.
	RunCalls []RunCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Run records the call and returns OutputFunc(input, shape), or Output/RunErr
// when OutputFunc is nil.
func (s *Session) Run(input []float32, shape []int) ([]float32, error) {
	s.mu.Lock()
	inCopy := make([]float32, len(input))
	copy(inCopy, input)
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	s.RunCalls = append(s.RunCalls, RunCall{Input: inCopy, Shape: shapeCopy})
	fn := s.OutputFunc
	out, err := s.Output, s.RunErr
	s.mu.Unlock()

	if fn != nil {
		return fn(inCopy, shapeCopy)
	}
	return out, err
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements kws.Session at compile time.
var _ kws.Session = (*Session)(nil)

package main

import (
	providerkws "github.com/sayverb/voicerouter/pkg/provider/kws"
	providervad "github.com/sayverb/voicerouter/pkg/provider/vad"
)

// demoSession is a placeholder kws.Session that always returns a
// zero-valued output vector of a fixed dimension, regardless of input. It
// keeps the CLI harness runnable end-to-end without a real ONNX/WASM mel,
// embedding, or classifier backbone; a deployment substitutes a concrete
// Session backed by a loaded model.
type demoSession struct {
	dim int
}

func newDemoSession(dim int) *demoSession {
	return &demoSession{dim: dim}
}

func (s *demoSession) Run(_ []float32, _ []int) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *demoSession) Close() error { return nil }

var _ providerkws.Session = (*demoSession)(nil)

// silentVAD is a placeholder providervad.SessionHandle that always reports
// silence. It keeps the CLI harness's capture path exercisable via
// SimulateTranscript without a real Silero-style VAD model wired in.
type silentVAD struct{}

func newSilentVAD() *silentVAD { return &silentVAD{} }

func (s *silentVAD) ProcessFrame(_ []byte) (providervad.VADEvent, error) {
	return providervad.VADEvent{Type: providervad.VADSilence}, nil
}

func (s *silentVAD) Reset() {}

func (s *silentVAD) Close() error { return nil }

var _ providervad.SessionHandle = (*silentVAD)(nil)

package asr

import (
	"context"
	"errors"
	"testing"

	"github.com/sayverb/voicerouter/internal/resilience"
	"github.com/sayverb/voicerouter/pkg/provider/asr/mock"
)

func TestEngine_TranscribeUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &mock.Engine{TranscribeResult: "hello world"}
	fallback := &mock.Engine{TranscribeResult: "should not be used"}

	e := NewEngine(primary, "native", resilience.FallbackConfig{})
	e.AddFallback("http", fallback)

	text, err := e.Transcribe(context.Background(), []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if fallback.TranscribeCallCount != 0 {
		t.Error("fallback should not have been called while primary is healthy")
	}
}

func TestEngine_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &mock.Engine{TranscribeErr: errors.New("native crashed")}
	fallback := &mock.Engine{TranscribeResult: "from http"}

	e := NewEngine(primary, "native", resilience.FallbackConfig{})
	e.AddFallback("http", fallback)

	text, err := e.Transcribe(context.Background(), []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "from http" {
		t.Errorf("text = %q, want %q", text, "from http")
	}
}

func TestEngine_EmptySamplesShortCircuits(t *testing.T) {
	primary := &mock.Engine{TranscribeResult: "should not be called"}
	e := NewEngine(primary, "native", resilience.FallbackConfig{})

	text, err := e.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if primary.TranscribeCallCount != 0 {
		t.Error("primary should not be invoked for empty input")
	}
}

func TestEngine_AllBackendsFailReturnsError(t *testing.T) {
	primary := &mock.Engine{TranscribeErr: errors.New("native down")}
	fallback := &mock.Engine{TranscribeErr: errors.New("http down")}

	e := NewEngine(primary, "native", resilience.FallbackConfig{})
	e.AddFallback("http", fallback)

	_, err := e.Transcribe(context.Background(), []float32{0.1})
	if err == nil {
		t.Fatal("expected an error when every backend fails")
	}
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want wrapping ErrAllFailed", err)
	}
}

func TestEngine_InitAndCloseCoverAllBackends(t *testing.T) {
	primary := &mock.Engine{}
	fallback := &mock.Engine{}
	e := NewEngine(primary, "native", resilience.FallbackConfig{})
	e.AddFallback("http", fallback)

	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if primary.InitCallCount != 1 || fallback.InitCallCount != 1 {
		t.Fatalf("Init calls: primary=%d fallback=%d, want 1/1", primary.InitCallCount, fallback.InitCallCount)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if primary.CloseCallCount != 1 || fallback.CloseCallCount != 1 {
		t.Fatalf("Close calls: primary=%d fallback=%d, want 1/1", primary.CloseCallCount, fallback.CloseCallCount)
	}
}

// Package whisper implements asr.Engine using the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h)
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sayverb/voicerouter/pkg/provider/asr"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const defaultLanguage = "en"

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Engine implements asr.Engine using whisper.cpp's native bindings,
// eliminating HTTP overhead entirely. The model is loaded once at Init and
// shared across all Transcribe calls; each call runs on a fresh
// whisper.cpp context, since a context is not safe for concurrent use but
// the model is.
type Engine struct {
	modelPath string
	language  string

	mu    sync.Mutex
	model whisperlib.Model
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// New creates an Engine that will load the whisper.cpp model from modelPath
// on Init.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	e := &Engine{modelPath: modelPath, language: defaultLanguage}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Init loads the whisper.cpp model. It is fatal to the engine if this
// fails; callers should surface ASR_INIT_FAILED.
func (e *Engine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	model, err := whisperlib.New(e.modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", e.modelPath, err)
	}

	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
	return nil
}

// Transcribe runs one greedy-decoded whisper.cpp inference over samples and
// returns the concatenated segment text. Empty input returns "" without
// touching the model.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}

	e.mu.Lock()
	model := e.model
	e.mu.Unlock()
	if model == nil {
		return "", errors.New("whisper: engine not initialized")
	}

	// Each inference gets its own context: a whisper.cpp context is not
	// thread-safe, but the underlying model can be shared.
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", e.language, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the whisper model. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

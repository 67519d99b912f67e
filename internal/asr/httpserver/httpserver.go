// Package httpserver implements asr.Engine against a running whisper-server
// binary, which exposes a REST API at POST /inference. It is the fallback
// backend behind the native CGO engine: same model family, reached over
// HTTP instead of an in-process call.
package httpserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/provider/asr"
)

const (
	bitsPerSample     = 16
	defaultLanguage   = "en"
	defaultHTTPTimeout = 30 * time.Second
)

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Engine implements asr.Engine by WAV-encoding each utterance and posting it
// to a whisper.cpp HTTP server's /inference endpoint.
type Engine struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base.en"). When empty the server uses whichever model it was started
// with.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the server. Defaults to
// "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// New creates an Engine that posts to serverURL.
func New(serverURL string, opts ...Option) *Engine {
	e := &Engine{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Init verifies the server is reachable. The HTTP backend has no local
// model to load.
func (e *Engine) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("httpserver: build health check request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpserver: health check: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Transcribe encodes samples as a mono 16-bit WAV file and posts it to the
// server's /inference endpoint.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	pcm := floatToPCM16(samples)
	wav := encodeWAV(pcm, audio.SampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("httpserver: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("httpserver: write wav data: %w", err)
	}
	if e.language != "" {
		if err := mw.WriteField("language", e.language); err != nil {
			return "", fmt.Errorf("httpserver: write language field: %w", err)
		}
	}
	if e.model != "" {
		if err := mw.WriteField("model", e.model); err != nil {
			return "", fmt.Errorf("httpserver: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("httpserver: close multipart writer: %w", err)
	}

	endpoint := e.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("httpserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpserver: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("httpserver: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("httpserver: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("httpserver: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// Close is a no-op: the HTTP backend holds no local resources.
func (e *Engine) Close() error { return nil }

// floatToPCM16 converts [-1, 1] float32 samples to 16-bit signed
// little-endian PCM.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// encodeWAV wraps pcm (16-bit signed little-endian samples) in a minimal WAV
// container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

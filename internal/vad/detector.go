// Package vad adapts a pkg/provider/vad.Engine/SessionHandle into a
// frame-rechunking, speech-start/speech-end state machine: PCM frames arrive
// at a fixed 80 ms cadence but the underlying model consumes fixed
// 512-sample (32 ms) chunks, and the start/end/silence/min-speech
// thresholds are evaluated here rather than inside the provider.
package vad

import (
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/sayverb/voicerouter/pkg/audio"
	provider "github.com/sayverb/voicerouter/pkg/provider/vad"
)

const (
	// chunkSamples is the model's native chunk size (32 ms at 16 kHz).
	chunkSamples = 512
	// chunkBytes is chunkSamples encoded as little-endian int16 PCM.
	chunkBytes = chunkSamples * 2

	defaultStartThreshold     = 0.5
	defaultEndThreshold       = 0.35
	defaultSilenceDurationMs  = 1000
	defaultMinSpeechDuration  = 250
)

// Config configures a Detector.
type Config struct {
	// StartThreshold is the probability at or above which Idle transitions
	// to Speech. Default 0.5.
	StartThreshold float64
	// EndThreshold is the probability at or above which an ongoing speech
	// chunk still counts as speech. Default 0.35. Must be <= StartThreshold.
	EndThreshold float64
	// SilenceDurationMs is how long, since the last speech chunk, silence
	// must persist before speech-end fires. Default 1000.
	SilenceDurationMs int64
	// MinSpeechDurationMs is the minimum elapsed time since speech-start
	// before speech-end is allowed to fire. Default 250.
	MinSpeechDurationMs int64

	// OnSpeechStart is invoked once per Idle->Speech transition.
	OnSpeechStart func()
	// OnSpeechEnd is invoked once per Speech->Idle transition.
	OnSpeechEnd func()

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

func (c Config) startThreshold() float64 {
	if c.StartThreshold == 0 {
		return defaultStartThreshold
	}
	return c.StartThreshold
}

func (c Config) endThreshold() float64 {
	if c.EndThreshold == 0 {
		return defaultEndThreshold
	}
	return c.EndThreshold
}

func (c Config) silenceDuration() time.Duration {
	ms := c.SilenceDurationMs
	if ms <= 0 {
		ms = defaultSilenceDurationMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) minSpeechDuration() time.Duration {
	ms := c.MinSpeechDurationMs
	if ms <= 0 {
		ms = defaultMinSpeechDuration
	}
	return time.Duration(ms) * time.Millisecond
}

// state is the Detector's internal speech/silence state.
type state int

const (
	stateIdle state = iota
	stateSpeech
)

// Detector consumes 80 ms PCM frames, re-chunks them to the underlying
// session's native 512-sample window (carrying over any remainder), and
// runs the Idle/Speech state machine. It is not safe for concurrent use.
type Detector struct {
	session provider.SessionHandle
	cfg     Config
	now     func() time.Time

	carry []byte

	state       state
	speechStart time.Time
	lastSpeech  time.Time
}

// New wraps session with the rechunking/state-machine adapter.
func New(session provider.SessionHandle, cfg Config) *Detector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{session: session, cfg: cfg, now: now}
}

// ProcessFrame feeds one 80 ms PCM frame through the detector. Inference
// errors for individual chunks are logged at Warn and swallowed; the
// detector proceeds with the next chunk.
func (d *Detector) ProcessFrame(frame audio.Frame) {
	buf := make([]byte, 0, len(d.carry)+audio.FrameSamples*2)
	buf = append(buf, d.carry...)
	buf = floatSamplesToPCM16(buf, frame.Samples[:])

	for len(buf) >= chunkBytes {
		chunk := buf[:chunkBytes]
		buf = buf[chunkBytes:]
		d.processChunk(chunk)
	}
	d.carry = append(d.carry[:0], buf...)
}

// processChunk runs the session against one 512-sample chunk and advances
// the Idle/Speech state machine per its resulting probability.
func (d *Detector) processChunk(chunk []byte) {
	ev, err := d.session.ProcessFrame(chunk)
	if err != nil {
		slog.Warn("vad chunk inference failed", slog.Any("err", err))
		return
	}
	p := ev.Probability
	now := d.now()

	switch d.state {
	case stateIdle:
		if p >= d.cfg.startThreshold() {
			d.state = stateSpeech
			d.speechStart = now
			d.lastSpeech = now
			d.session.Reset()
			if d.cfg.OnSpeechStart != nil {
				d.cfg.OnSpeechStart()
			}
		}
	case stateSpeech:
		if p >= d.cfg.endThreshold() {
			d.lastSpeech = now
			return
		}
		silentFor := now.Sub(d.lastSpeech)
		spokenFor := now.Sub(d.speechStart)
		if silentFor >= d.cfg.silenceDuration() && spokenFor >= d.cfg.minSpeechDuration() {
			d.state = stateIdle
			if d.cfg.OnSpeechEnd != nil {
				d.cfg.OnSpeechEnd()
			}
		}
	}
}

// Stop clears the chunk carry-over buffer and resets the state machine to
// Idle. It does not close the underlying session.
func (d *Detector) Stop() {
	d.carry = nil
	d.state = stateIdle
}

// floatSamplesToPCM16 appends samples, scaled to 16-bit signed PCM and
// little-endian encoded, to dst.
func floatSamplesToPCM16(dst []byte, samples []float32) []byte {
	var b [2]byte
	for _, s := range samples {
		v := float64(s) * 32768
		v = math.Max(-32768, math.Min(32767, v))
		binary.LittleEndian.PutUint16(b[:], uint16(int16(v)))
		dst = append(dst, b[0], b[1])
	}
	return dst
}

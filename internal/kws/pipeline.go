// Package kws implements the three-stage streaming keyword-spotting
// pipeline: raw-audio ring -> mel ring -> embedding ring -> per-keyword
// classifier heads, with per-keyword cooldown gating.
package kws

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/provider/kws"
	"github.com/sayverb/voicerouter/pkg/ring"
)

const (
	rawRingCapacity = 2 * audio.SampleRate // 2 s of samples
	melRingCapacity = 100
	embRingCapacity = 120

	// melContextSamples is the 30 ms (480 samples at 16 kHz) of left context
	// prefixed to every mel stage input.
	melContextSamples = 480

	// melInputSamples is the total window fed to the mel stage: the current
	// frame plus its 480-sample left context.
	melInputSamples = audio.FrameSamples + melContextSamples

	// embeddingClassifierWindow is the number of trailing embeddings stacked
	// for every classifier run.
	embeddingClassifierWindow = 16

	// defaultCooldownMs is used for any keyword whose Config.CooldownMs is
	// zero.
	defaultCooldownMs = 1500
)

// KeywordConfig configures one loaded keyword classifier head.
type KeywordConfig struct {
	// Classifier runs the classifier head for this keyword. Its output's
	// first element is taken as the keyword's score.
	Classifier kws.Session

	// Threshold is the minimum score, inclusive, that fires a detection.
	Threshold float64

	// CooldownMs is the minimum wall-clock gap, in milliseconds, between two
	// firings of this keyword. Zero means defaultCooldownMs.
	CooldownMs int64
}

func (c KeywordConfig) cooldown() time.Duration {
	ms := c.CooldownMs
	if ms <= 0 {
		ms = defaultCooldownMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Detection is delivered to OnDetect when a keyword crosses its threshold
// outside its cooldown window.
type Detection struct {
	Keyword string
	Score   float64
}

// Config constructs a Pipeline.
type Config struct {
	// Mel runs the mel-spectrogram stage.
	Mel kws.Session

	// Embedding runs the embedding stage.
	Embedding kws.Session

	// Keywords maps keyword name to its classifier configuration. The pipeline
	// has no loaded keywords if this is empty.
	Keywords map[string]KeywordConfig

	// OnScore, if non-nil, is invoked with every keyword's raw score on every
	// embedding window, regardless of threshold. Used for live metering.
	OnScore func(keyword string, score float64)

	// OnDetect, if non-nil, is invoked once per qualifying detection.
	OnDetect func(Detection)

	// Now returns the current time; defaults to time.Now. Overridable for
	// deterministic cooldown tests.
	Now func() time.Time
}

// Pipeline is the streaming keyword-spotting pipeline: raw audio -> mel ->
// embedding -> per-keyword classifier heads. It is not safe for concurrent
// use; a Pipeline is owned by a single goroutine for the lifetime of a
// listening session.
type Pipeline struct {
	mel       kws.Session
	embedding kws.Session
	keywords  map[string]KeywordConfig
	onScore   func(string, float64)
	onDetect  func(Detection)
	now       func() time.Time

	raw  *ring.Buffer[float32]
	mels *ring.Buffer[audio.MelFrame]
	embs *ring.Buffer[audio.Embedding]

	lastFired map[string]time.Time
	seq       uint64
}

// New constructs a Pipeline with freshly-initialized rings. The raw-audio
// ring starts pre-filled with 480 samples of silence.
func New(cfg Config) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Pipeline{
		mel:       cfg.Mel,
		embedding: cfg.Embedding,
		keywords:  cfg.Keywords,
		onScore:   cfg.OnScore,
		onDetect:  cfg.OnDetect,
		now:       now,
		raw:       ring.New[float32](rawRingCapacity),
		mels:      ring.New[audio.MelFrame](melRingCapacity),
		embs:      ring.New[audio.Embedding](embRingCapacity),
		lastFired: make(map[string]time.Time),
	}
	for i := 0; i < melContextSamples; i++ {
		p.raw.Push(0)
	}
	return p
}

// Warmup pushes n silent frames through the pipeline to pre-fill the mel
// and embedding rings before live audio. Reaching the first classifier run
// needs enough frames to fill both the mel window and the classifier's
// embedding window; callers should push on the order of 40 frames.
func (p *Pipeline) Warmup(n int) {
	var silent audio.Frame
	for i := 0; i < n; i++ {
		p.ProcessFrame(silent)
	}
}

// Stop clears all three rings and the cooldown map, releasing accumulated
// state; the raw ring is then re-seeded with its 480-sample silent context. The Pipeline remains usable; callers must Warmup again before
// resuming live audio.
func (p *Pipeline) Stop() {
	p.raw.Clear()
	for i := 0; i < melContextSamples; i++ {
		p.raw.Push(0)
	}
	p.mels.Clear()
	p.embs.Clear()
	p.lastFired = make(map[string]time.Time)
}

// ProcessFrame runs one 80 ms PCM frame through every pipeline stage,
// firing OnScore and OnDetect as appropriate. Per-frame inference errors are
// logged at Warn and swallowed; the pipeline is always ready for the next
// frame.
func (p *Pipeline) ProcessFrame(frame audio.Frame) {
	p.seq++
	seq := p.seq

	for _, s := range frame.Samples {
		p.raw.Push(scaleToInt16Range(s))
	}

	melFrames, err := p.runMelStage()
	if err != nil {
		slog.Warn("kws stage failed", slog.String("stage", "mel"), slog.Uint64("frame_seq", seq), slog.Any("err", err))
		return
	}
	for _, mf := range melFrames {
		p.mels.Push(mf)
	}

	if p.mels.Len() < audio.EmbeddingWindow {
		return
	}
	emb, err := p.runEmbeddingStage()
	if err != nil {
		slog.Warn("kws stage failed", slog.String("stage", "embedding"), slog.Uint64("frame_seq", seq), slog.Any("err", err))
		return
	}
	p.embs.Push(emb)

	if p.embs.Len() < embeddingClassifierWindow {
		return
	}
	p.runClassifiers(seq)
}

// scaleToInt16Range maps a [-1, 1] sample to the 16-bit integer range and
// clamps it.
func scaleToInt16Range(s float32) float32 {
	v := s * 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// runMelStage builds the mel input window and runs the mel stage, returning
// the transformed output reshaped into MelFrame values.
func (p *Pipeline) runMelStage() ([]audio.MelFrame, error) {
	window := p.raw.Last(melInputSamples)
	if len(window) < melInputSamples {
		// Still warming up the raw ring's required context; pad on the left.
		padded := make([]float32, melInputSamples)
		copy(padded[melInputSamples-len(window):], window)
		window = padded
	}

	out, err := p.mel.Run(window, []int{1, melInputSamples})
	if err != nil {
		return nil, err
	}
	if len(out)%audio.MelBins != 0 {
		return nil, fmt.Errorf("kws: mel stage returned %d values, not a multiple of %d", len(out), audio.MelBins)
	}
	n := len(out) / audio.MelBins
	frames := make([]audio.MelFrame, n)
	for i := 0; i < n; i++ {
		var mf audio.MelFrame
		for j := 0; j < audio.MelBins; j++ {
			mf[j] = out[i*audio.MelBins+j]/10 + 2
		}
		frames[i] = mf
	}
	return frames, nil
}

// runEmbeddingStage stacks the last EmbeddingWindow mel frames and runs the
// embedding stage.
func (p *Pipeline) runEmbeddingStage() (audio.Embedding, error) {
	var emb audio.Embedding
	window := p.mels.Last(audio.EmbeddingWindow)
	input := make([]float32, 0, audio.EmbeddingWindow*audio.MelBins)
	for _, mf := range window {
		input = append(input, mf[:]...)
	}
	out, err := p.embedding.Run(input, []int{1, audio.EmbeddingWindow, audio.MelBins, 1})
	if err != nil {
		return emb, err
	}
	if len(out) != audio.EmbeddingDims {
		return emb, fmt.Errorf("kws: embedding stage returned %d values, want %d", len(out), audio.EmbeddingDims)
	}
	copy(emb[:], out)
	return emb, nil
}

// runClassifiers stacks the last embeddingClassifierWindow embeddings and
// runs every loaded keyword classifier, publishing raw scores and firing
// detections outside each keyword's cooldown.
func (p *Pipeline) runClassifiers(seq uint64) {
	window := p.embs.Last(embeddingClassifierWindow)
	input := make([]float32, 0, embeddingClassifierWindow*audio.EmbeddingDims)
	for _, e := range window {
		input = append(input, e[:]...)
	}
	shape := []int{1, embeddingClassifierWindow, audio.EmbeddingDims}

	now := p.now()
	for name, kc := range p.keywords {
		out, err := kc.Classifier.Run(input, shape)
		if err != nil {
			slog.Warn("kws stage failed", slog.String("stage", "classifier"), slog.String("keyword", name), slog.Uint64("frame_seq", seq), slog.Any("err", err))
			continue
		}
		if len(out) == 0 {
			continue
		}
		score := float64(out[0])
		if math.IsNaN(score) {
			continue
		}
		if p.onScore != nil {
			p.onScore(name, score)
		}
		if score < kc.Threshold {
			continue
		}
		if last, ok := p.lastFired[name]; ok && now.Sub(last) < kc.cooldown() {
			continue
		}
		p.lastFired[name] = now
		if p.onDetect != nil {
			p.onDetect(Detection{Keyword: name, Score: score})
		}
	}
}

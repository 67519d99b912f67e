package kws

import (
	"errors"
	"testing"
	"time"

	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/provider/kws/mock"
)

// fixedMel returns a mock mel session producing 5 frames of constant value
// per call, matching the "typically 5 mel frames per PCM frame" shape.
func fixedMel(value float32) *mock.Session {
	out := make([]float32, 5*audio.MelBins)
	for i := range out {
		out[i] = value
	}
	return &mock.Session{Output: out}
}

func fixedEmbedding(value float32) *mock.Session {
	out := make([]float32, audio.EmbeddingDims)
	for i := range out {
		out[i] = value
	}
	return &mock.Session{Output: out}
}

func scoreClassifier(score float32) *mock.Session {
	return &mock.Session{Output: []float32{score}}
}

func TestPipeline_WarmupFillsRingsWithoutFiring(t *testing.T) {
	var fired []Detection
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.9), Threshold: 0.5},
		},
		OnDetect: func(d Detection) { fired = append(fired, d) },
	})

	p.Warmup(40)

	if len(fired) == 0 {
		t.Fatal("expected warm-up to eventually reach the classifier stage and fire, got none")
	}
}

func TestPipeline_FiresAboveThreshold(t *testing.T) {
	var fired []Detection
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.9), Threshold: 0.5},
		},
		OnDetect: func(d Detection) { fired = append(fired, d) },
	})
	p.Warmup(40)

	if len(fired) == 0 {
		t.Fatal("expected at least one detection")
	}
	if fired[0].Keyword != "open" {
		t.Errorf("keyword = %q, want %q", fired[0].Keyword, "open")
	}
}

func TestPipeline_DoesNotFireBelowThreshold(t *testing.T) {
	var fired []Detection
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.1), Threshold: 0.5},
		},
		OnDetect: func(d Detection) { fired = append(fired, d) },
	})
	p.Warmup(40)

	if len(fired) != 0 {
		t.Fatalf("expected no detections below threshold, got %v", fired)
	}
}

func TestPipeline_PublishesRawScoresRegardlessOfThreshold(t *testing.T) {
	var scores []float64
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.1), Threshold: 0.9},
		},
		OnScore: func(keyword string, score float64) { scores = append(scores, score) },
	})
	p.Warmup(40)

	if len(scores) == 0 {
		t.Fatal("expected raw scores to be published even though threshold was never crossed")
	}
}

func TestPipeline_CooldownSuppressesRepeatFiring(t *testing.T) {
	var fired []Detection
	clock := time.Unix(0, 0)
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.9), Threshold: 0.5, CooldownMs: 1500},
		},
		OnDetect: func(d Detection) { fired = append(fired, d) },
		Now:      func() time.Time { return clock },
	})
	p.Warmup(40)
	firstCount := len(fired)
	if firstCount == 0 {
		t.Fatal("expected an initial detection")
	}

	clock = clock.Add(300 * time.Millisecond)
	var silent audio.Frame
	p.ProcessFrame(silent)

	if len(fired) != firstCount {
		t.Fatalf("cooldown should have suppressed firing 300ms later; fired = %v", fired)
	}

	clock = clock.Add(1500 * time.Millisecond)
	p.ProcessFrame(silent)

	if len(fired) <= firstCount {
		t.Fatal("expected a new detection once the cooldown elapsed")
	}
}

func TestPipeline_MelStageErrorIsSwallowed(t *testing.T) {
	var scores []float64
	p := New(Config{
		Mel:       &mock.Session{RunErr: errors.New("boom")},
		Embedding: fixedEmbedding(0),
		Keywords: map[string]KeywordConfig{
			"open": {Classifier: scoreClassifier(0.9), Threshold: 0.5},
		},
		OnScore: func(keyword string, score float64) { scores = append(scores, score) },
	})

	var silent audio.Frame
	p.ProcessFrame(silent) // must not panic

	if len(scores) != 0 {
		t.Fatalf("expected no scores when the mel stage fails, got %v", scores)
	}
}

func TestPipeline_Stop_ClearsRings(t *testing.T) {
	p := New(Config{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords:  map[string]KeywordConfig{"open": {Classifier: scoreClassifier(0.9), Threshold: 0.5}},
	})
	p.Warmup(40)
	p.Stop()

	if p.mels.Len() != 0 || p.embs.Len() != 0 {
		t.Fatalf("Stop did not clear mel/embedding rings: mel=%d emb=%d", p.mels.Len(), p.embs.Len())
	}
	if p.raw.Len() != melContextSamples {
		t.Fatalf("Stop did not reset the raw ring to its silent-context seed: len=%d", p.raw.Len())
	}
}

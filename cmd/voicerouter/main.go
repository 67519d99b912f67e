// Command voicerouter is a headless CLI harness for the voice router
// engine. It wires a file-based (or synthetic silence) PCM source and an
// in-memory synthetic DOM into a router.Engine, logs every emitted event,
// and serves health/metrics endpoints, so the whole KWS -> VAD -> ASR ->
// match -> action pipeline can be exercised without a real browser or
// microphone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sayverb/voicerouter/internal/asr"
	httpasr "github.com/sayverb/voicerouter/internal/asr/httpserver"
	whisperasr "github.com/sayverb/voicerouter/internal/asr/whisper"
	"github.com/sayverb/voicerouter/internal/config"
	"github.com/sayverb/voicerouter/internal/events"
	"github.com/sayverb/voicerouter/internal/health"
	"github.com/sayverb/voicerouter/internal/kws"
	"github.com/sayverb/voicerouter/internal/matcher"
	"github.com/sayverb/voicerouter/internal/observe"
	"github.com/sayverb/voicerouter/internal/resilience"
	"github.com/sayverb/voicerouter/internal/router"
	"github.com/sayverb/voicerouter/internal/vad"
	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/dom"
	"github.com/sayverb/voicerouter/pkg/dom/domtest"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	pcmPath := flag.String("pcm", "", "path to a raw little-endian float32 mono 16kHz PCM file; empty streams silence")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicerouter: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicerouter: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("voicerouter starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicerouter",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	asrEngine, err := buildASREngine(cfg.Models)
	if err != nil {
		slog.Error("failed to build ASR engine", "err", err)
		return 1
	}
	if err := asrEngine.Init(ctx); err != nil {
		slog.Error("failed to initialise ASR engine", "err", err)
		return 1
	}
	defer asrEngine.Close()

	eng := router.New(routerConfig(cfg), router.Dependencies{
		Mel:       newDemoSession(audio.MelBins),
		Embedding: newDemoSession(audio.EmbeddingDims),
		Keywords:  keywordConfigs(cfg),
		VAD:       newSilentVAD(),
		VADConfig: vad.Config{
			StartThreshold:      cfg.VAD.StartThreshold,
			EndThreshold:        cfg.VAD.EndThreshold,
			SilenceDurationMs:   int64(cfg.VAD.SilenceDurationMs),
			MinSpeechDurationMs: int64(cfg.VAD.MinSpeechDurationMs),
		},
		ASR:      asrEngine,
		Document: func() dom.Document { return buildDemoDocument() },
		OnKeywordScore: func(keyword string, score float64) {
			metrics.RecordKeywordScore(ctx, keyword, score)
		},
	})
	if err := eng.Init(ctx); err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return 1
	}
	defer eng.Destroy()

	stopLog := logEvents(eng)
	defer stopLog()

	if err := eng.StartListening(); err != nil {
		slog.Error("failed to start listening", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	healthHandler := health.New(health.Checker{
		Name: "engine",
		Check: func(context.Context) error {
			if eng.GetState() == router.StateError {
				return fmt.Errorf("engine is in ERROR state")
			}
			return nil
		},
	})
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			slog.Info("health/metrics server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health server error", "err", err)
			}
		}()
	}

	frameCh, closeSource, err := openPCMSource(*pcmPath)
	if err != nil {
		slog.Error("failed to open PCM source", "err", err)
		return 1
	}
	defer closeSource()

	slog.Info("voicerouter ready — feeding PCM frames")
	pumpFrames(ctx, eng, frameCh, metrics)

	slog.Info("shutting down")
	if srv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}
	return 0
}

// buildASREngine constructs the native whisper.cpp backend or the HTTP
// whisper-server backend depending on cfg.ASRBackend, adding the other as a
// fallback when both are configured.
func buildASREngine(cfg config.ModelConfig) (*asr.Engine, error) {
	fbCfg := resilience.FallbackConfig{}

	switch cfg.ASRBackend {
	case config.ASRBackendHTTP:
		primary := httpasr.New(cfg.ASRServerURL)
		group := asr.NewEngine(primary, "whisper-http", fbCfg)
		if cfg.ASRModelPath != "" {
			native, err := whisperasr.New(cfg.ASRModelPath)
			if err == nil {
				group.AddFallback("whisper-native", native)
			}
		}
		return group, nil
	default:
		primary, err := whisperasr.New(cfg.ASRModelPath)
		if err != nil {
			return nil, err
		}
		group := asr.NewEngine(primary, "whisper-native", fbCfg)
		if cfg.ASRServerURL != "" {
			group.AddFallback("whisper-http", httpasr.New(cfg.ASRServerURL))
		}
		return group, nil
	}
}

func routerConfig(cfg *config.Config) router.Config {
	return router.Config{
		CaptureTimeoutMs:    int64(cfg.Engine.CaptureTimeoutMs),
		HighlightMs:         int64(cfg.Engine.HighlightMs),
		WarmupFrames:        cfg.Engine.WarmupFrames,
		CollisionPolicy:     matcher.CollisionPolicy(cfg.Matcher.CollisionPolicy),
		FuzzyThreshold:      cfg.Matcher.FuzzyThreshold,
		FuzzyMargin:         cfg.Matcher.FuzzyMargin,
		GlobalDenySelectors: cfg.DOM.GlobalDenySelectors,
	}
}

func keywordConfigs(cfg *config.Config) map[string]kws.KeywordConfig {
	out := make(map[string]kws.KeywordConfig, len(cfg.Keyword))
	for _, kw := range cfg.Keyword {
		out[kw.Name] = kws.KeywordConfig{
			Classifier: newDemoSession(1),
			Threshold:  kw.Threshold,
			CooldownMs: int64(kw.CooldownMs),
		}
	}
	return out
}

// logEvents subscribes to every engine event and logs it at Info, or Error
// for EngineError. Returns an unsubscribe function.
func logEvents(eng *router.Engine) func() {
	return eng.On(func(ev events.Event) {
		attrs := []any{"kind", string(ev.Kind), "request_id", ev.RequestID, "payload", ev.Payload}
		if ev.Kind == events.KindEngineError {
			slog.Error("engine event", attrs...)
			return
		}
		slog.Info("engine event", attrs...)
	})
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildDemoDocument constructs a small synthetic page: a submit button, a
// billing link with synonyms, and a high-risk delete-account button —
// enough surface to exercise exact match, synonym match, and confirmation
// flows from the CLI.
func buildDemoDocument() *domtest.Document {
	visible := []dom.Rect{{Width: 120, Height: 32}}
	root := &domtest.Element{
		Tag: "body",
		Children: []*domtest.Element{
			{
				Tag:   "button",
				Text:  "Submit",
				Rects: visible,
				Attrs: map[string]string{"data-voice-id": "submit"},
			},
			{
				Tag:   "a",
				Text:  "Billing",
				Rects: visible,
				Attrs: map[string]string{
					"href":                "/billing",
					"data-voice-id":       "billing",
					"data-voice-synonyms": "invoices, payments",
				},
			},
			{
				Tag:   "button",
				Text:  "Delete account",
				Rects: visible,
				Attrs: map[string]string{
					"data-voice-id":   "delete-account",
					"data-voice-risk": "high",
				},
			},
		},
	}
	return domtest.NewDocument(root)
}

// pumpFrames reads frames from frameCh and feeds them into eng at the fixed
// 80ms real-time cadence pipeline stages expect, until ctx is cancelled or
// the source is exhausted.
func pumpFrames(ctx context.Context, eng *router.Engine, frameCh <-chan audio.Frame, metrics *observe.Metrics) {
	ticker := time.NewTicker(time.Duration(audio.FrameSamples) * time.Second / audio.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := <-frameCh
			if !ok {
				return
			}
			start := time.Now()
			eng.ProcessAudioFrame(frame)
			metrics.FrameLatency.Record(ctx, time.Since(start).Seconds())
		}
	}
}

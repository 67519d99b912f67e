// Package config provides the configuration schema, loader, and live-reload
// watcher for the voicerouter engine.
package config

// LogLevel controls log verbosity for the voicerouter process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CollisionPolicy selects how the matcher handles duplicate normalized labels
// within a single target index.
type CollisionPolicy string

const (
	// CollisionDisambiguate asks the user to pick among colliding candidates.
	CollisionDisambiguate CollisionPolicy = "disambiguate"

	// CollisionError refuses resolution outright when labels collide.
	CollisionError CollisionPolicy = "error"
)

// IsValid reports whether p is a recognised collision policy.
func (p CollisionPolicy) IsValid() bool {
	return p == CollisionDisambiguate || p == CollisionError
}

// ASRBackend selects which ASR engine implementation to construct.
type ASRBackend string

const (
	// ASRBackendNative uses the whisper.cpp CGO bindings directly.
	ASRBackendNative ASRBackend = "native"

	// ASRBackendHTTP uses a running whisper.cpp HTTP server.
	ASRBackendHTTP ASRBackend = "http"
)

// IsValid reports whether b is a recognised ASR backend.
func (b ASRBackend) IsValid() bool {
	return b == ASRBackendNative || b == ASRBackendHTTP
}

// Config is the root configuration structure for voicerouter. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Models  ModelConfig   `yaml:"models"`
	Keyword []KeywordSpec `yaml:"keywords"`
	Matcher MatcherConfig `yaml:"matcher"`
	VAD     VADConfig     `yaml:"vad"`
	DOM     DOMConfig     `yaml:"dom"`
}

// ServerConfig holds network and logging settings for the demo HTTP harness
// (health checks + Prometheus scrape endpoint).
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig holds the finite-state-machine timing knobs.
type EngineConfig struct {
	// CaptureTimeoutMs bounds how long CAPTURING_TARGET may run before a
	// forced transition to TRANSCRIBING. Default: 5000.
	CaptureTimeoutMs int `yaml:"capture_timeout_ms"`

	// HighlightMs is the delay between a unique, non-high-risk resolution
	// and action execution, giving the UI time to highlight the target.
	// Default: 300.
	HighlightMs int `yaml:"highlight_ms"`

	// WarmupFrames is the number of silent frames pushed through the KWS
	// pipeline before live audio, pre-filling the mel and embedding rings
	// enough for the first classifier run. Default: 40.
	WarmupFrames int `yaml:"warmup_frames"`
}

// ModelConfig locates the model artifacts used by the three inference
// stages. Paths are opaque to this package — each package decides how to
// load the file it names.
type ModelConfig struct {
	// KWSBackbonePath is the shared mel→embedding backbone.
	KWSBackbonePath string `yaml:"kws_backbone_path"`

	// VADModelPath is the Silero-style VAD model.
	VADModelPath string `yaml:"vad_model_path"`

	// ASRBackend selects native (CGO) or HTTP whisper.cpp.
	ASRBackend ASRBackend `yaml:"asr_backend"`

	// ASRModelPath is the GGML model file, used when ASRBackend is native.
	ASRModelPath string `yaml:"asr_model_path"`

	// ASRServerURL is the whisper.cpp server base URL, used when ASRBackend
	// is http.
	ASRServerURL string `yaml:"asr_server_url"`
}

// KeywordSpec declares one wake keyword and its classifier head.
type KeywordSpec struct {
	// Name is the keyword string, e.g. "open", "click", "help", "stop", "cancel".
	Name string `yaml:"name"`

	// HeadPath is the path to this keyword's classifier head model.
	HeadPath string `yaml:"head_path"`

	// Threshold is the minimum score for a firing. Default: 0.5.
	Threshold float64 `yaml:"threshold"`

	// CooldownMs is the minimum wall-time gap between two firings of this
	// keyword. Default: 1500.
	CooldownMs int `yaml:"cooldown_ms"`
}

// MatcherConfig tunes the exact/fuzzy label resolver.
type MatcherConfig struct {
	// CollisionPolicy controls duplicate-label handling. Default: disambiguate.
	CollisionPolicy CollisionPolicy `yaml:"collision_policy"`

	// FuzzyThreshold is the minimum similarity for a fuzzy candidate to be
	// considered at all. Default: 0.7.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// FuzzyMargin is the minimum gap between the best and second-best fuzzy
	// similarity required to accept the best as unique. Default: 0.15.
	FuzzyMargin float64 `yaml:"fuzzy_margin"`
}

// VADConfig tunes the voice-activity detector.
type VADConfig struct {
	// StartThreshold is the speech probability that transitions Idle→Speech.
	// Default: 0.5.
	StartThreshold float64 `yaml:"start_threshold"`

	// EndThreshold is the speech probability below which silence accrues
	// during an active speech segment. Default: 0.35.
	EndThreshold float64 `yaml:"end_threshold"`

	// SilenceDurationMs is the consecutive-silence duration that ends a
	// speech segment. Default: 1000.
	SilenceDurationMs int `yaml:"silence_duration_ms"`

	// MinSpeechDurationMs is the minimum segment length required before a
	// speech-end may fire. Default: 250.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms"`
}

// DOMConfig tunes the indexer.
type DOMConfig struct {
	// GlobalDenySelectors is a list of CSS selectors excluded from indexing
	// unless overridden by an explicit allow attribute. Default: empty.
	GlobalDenySelectors []string `yaml:"global_deny_selectors"`
}

// applyDefaults fills zero-valued fields of cfg with the documented
// defaults, so a partially-specified YAML document behaves predictably.
func applyDefaults(cfg *Config) {
	if cfg.Engine.CaptureTimeoutMs <= 0 {
		cfg.Engine.CaptureTimeoutMs = 5000
	}
	if cfg.Engine.HighlightMs <= 0 {
		cfg.Engine.HighlightMs = 300
	}
	if cfg.Engine.WarmupFrames <= 0 {
		cfg.Engine.WarmupFrames = 40
	}
	if cfg.Matcher.CollisionPolicy == "" {
		cfg.Matcher.CollisionPolicy = CollisionDisambiguate
	}
	if cfg.Matcher.FuzzyThreshold <= 0 {
		cfg.Matcher.FuzzyThreshold = 0.7
	}
	if cfg.Matcher.FuzzyMargin <= 0 {
		cfg.Matcher.FuzzyMargin = 0.15
	}
	if cfg.VAD.StartThreshold <= 0 {
		cfg.VAD.StartThreshold = 0.5
	}
	if cfg.VAD.EndThreshold <= 0 {
		cfg.VAD.EndThreshold = 0.35
	}
	if cfg.VAD.SilenceDurationMs <= 0 {
		cfg.VAD.SilenceDurationMs = 1000
	}
	if cfg.VAD.MinSpeechDurationMs <= 0 {
		cfg.VAD.MinSpeechDurationMs = 250
	}
	if cfg.Models.ASRBackend == "" {
		cfg.Models.ASRBackend = ASRBackendNative
	}
	for i := range cfg.Keyword {
		if cfg.Keyword[i].Threshold <= 0 {
			cfg.Keyword[i].Threshold = 0.5
		}
		if cfg.Keyword[i].CooldownMs <= 0 {
			cfg.Keyword[i].CooldownMs = 1500
		}
	}
}

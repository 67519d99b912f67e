package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Matcher.CollisionPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("matcher.collision_policy %q is invalid; valid values: disambiguate, error", cfg.Matcher.CollisionPolicy))
	}
	if cfg.Matcher.FuzzyThreshold < 0 || cfg.Matcher.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.fuzzy_threshold %.2f must be in [0, 1]", cfg.Matcher.FuzzyThreshold))
	}
	if cfg.Matcher.FuzzyMargin < 0 || cfg.Matcher.FuzzyMargin > 1 {
		errs = append(errs, fmt.Errorf("matcher.fuzzy_margin %.2f must be in [0, 1]", cfg.Matcher.FuzzyMargin))
	}

	if cfg.VAD.StartThreshold < 0 || cfg.VAD.StartThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.start_threshold %.2f must be in [0, 1]", cfg.VAD.StartThreshold))
	}
	if cfg.VAD.EndThreshold < 0 || cfg.VAD.EndThreshold > cfg.VAD.StartThreshold {
		errs = append(errs, fmt.Errorf("vad.end_threshold %.2f must be in [0, vad.start_threshold]", cfg.VAD.EndThreshold))
	}

	if !cfg.Models.ASRBackend.IsValid() {
		errs = append(errs, fmt.Errorf("models.asr_backend %q is invalid; valid values: native, http", cfg.Models.ASRBackend))
	}
	if cfg.Models.ASRBackend == ASRBackendNative && cfg.Models.ASRModelPath == "" {
		errs = append(errs, errors.New("models.asr_model_path is required when models.asr_backend is native"))
	}
	if cfg.Models.ASRBackend == ASRBackendHTTP && cfg.Models.ASRServerURL == "" {
		errs = append(errs, errors.New("models.asr_server_url is required when models.asr_backend is http"))
	}

	seen := make(map[string]int, len(cfg.Keyword))
	for i, kw := range cfg.Keyword {
		prefix := fmt.Sprintf("keywords[%d]", i)
		if kw.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[kw.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of keywords[%d]", prefix, kw.Name, prev))
		}
		seen[kw.Name] = i
		if kw.Threshold < 0 || kw.Threshold > 1 {
			errs = append(errs, fmt.Errorf("%s.threshold %.2f must be in [0, 1]", prefix, kw.Threshold))
		}
	}

	return errors.Join(errs...)
}

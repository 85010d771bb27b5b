package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names that may be typos.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp",
}

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
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict unmarshals data into cfg, rejecting unknown fields.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	errs = append(errs, validateRole("llm.detector", cfg.LLM.Detector)...)
	errs = append(errs, validateRole("llm.explainer", cfg.LLM.Explainer)...)
	for i, entry := range cfg.LLM.DetectorFallbacks {
		errs = append(errs, validateRole(fmt.Sprintf("llm.detector_fallbacks[%d]", i), entry)...)
	}
	for i, entry := range cfg.LLM.ExplainerFallbacks {
		errs = append(errs, validateRole(fmt.Sprintf("llm.explainer_fallbacks[%d]", i), entry)...)
	}

	return errors.Join(errs...)
}

// validateRole checks one LLM role entry. Provider and model are required;
// an unknown provider name only warns since it may be a third-party
// registration.
func validateRole(prefix string, entry ProviderEntry) []error {
	var errs []error
	if entry.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
	} else if !slices.Contains(ValidProviderNames, entry.Provider) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"role", prefix,
			"name", entry.Provider,
			"known", ValidProviderNames,
		)
	}
	if entry.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", prefix))
	}
	return errs
}

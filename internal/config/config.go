// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the lexhound server.
package config

import "path/filepath"

// LogLevel controls log verbosity for the server.
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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	STT    STTConfig    `yaml:"stt"`
	Queues QueueConfig  `yaml:"queues"`

	// SettingsFile is the path of the persisted user settings (detection
	// threshold, cooldown, domain context). Created on first save when
	// missing.
	SettingsFile string `yaml:"settings_file"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LLMConfig declares the two language-model roles of the pipeline. The
// detector is a small, fast model invoked on every utterance; the explainer
// is a larger model invoked only for terms that survived filtering.
type LLMConfig struct {
	Detector  ProviderEntry `yaml:"detector"`
	Explainer ProviderEntry `yaml:"explainer"`

	// DetectorFallbacks are tried in order when the detector fails; same for
	// ExplainerFallbacks and the explainer.
	DetectorFallbacks  []ProviderEntry `yaml:"detector_fallbacks"`
	ExplainerFallbacks []ProviderEntry `yaml:"explainer_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all LLM roles.
// The Provider field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Provider selects the registered implementation (e.g., "ollama",
	// "openai", "anthropic").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.,
	// "qwen2.5:3b", "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// STTConfig holds the transcription backend settings used by the capture
// client.
type STTConfig struct {
	// BaseURL is the whisper-server endpoint (e.g., "http://localhost:8090").
	BaseURL string `yaml:"base_url"`

	// Model names the whisper model preset; profiles may override it.
	Model string `yaml:"model"`

	// Language is the ISO 639-1 transcription language hint.
	Language string `yaml:"language"`
}

// QueueConfig holds the file-backed queue locations.
type QueueConfig struct {
	// Dir is the directory holding all queue files.
	Dir string `yaml:"dir"`

	// DetectionsFile is the detected-terms queue filename within Dir.
	DetectionsFile string `yaml:"detections_file"`

	// ExplanationsFile is the explanations queue filename within Dir.
	ExplanationsFile string `yaml:"explanations_file"`
}

// DetectionsPath returns the full path of the detected-terms queue file.
func (q QueueConfig) DetectionsPath() string {
	return filepath.Join(q.Dir, q.DetectionsFile)
}

// ExplanationsPath returns the full path of the explanations queue file.
func (q QueueConfig) ExplanationsPath() string {
	return filepath.Join(q.Dir, q.ExplanationsFile)
}

// ApplyDefaults fills in zero-valued fields with working defaults so a
// minimal config file still yields a runnable server.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.STT.BaseURL == "" {
		c.STT.BaseURL = "http://localhost:8090"
	}
	if c.STT.Language == "" {
		c.STT.Language = "en"
	}
	if c.Queues.Dir == "" {
		c.Queues.Dir = "data"
	}
	if c.Queues.DetectionsFile == "" {
		c.Queues.DetectionsFile = "detected_terms.json"
	}
	if c.Queues.ExplanationsFile == "" {
		c.Queues.ExplanationsFile = "explanations.json"
	}
	if c.SettingsFile == "" {
		c.SettingsFile = "user_settings.json"
	}
}

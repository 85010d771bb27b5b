package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexhound/lexhound/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
llm:
  detector:
    provider: ollama
    base_url: http://localhost:11434
    model: qwen2.5:3b
  explainer:
    provider: openai
    api_key: sk-test
    model: gpt-4o-mini
stt:
  base_url: http://localhost:8090
  model: small
  language: en
queues:
  dir: /var/lib/lexhound
settings_file: /etc/lexhound/user_settings.json
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.LLM.Detector.Model != "qwen2.5:3b" {
		t.Errorf("detector model = %q", cfg.LLM.Detector.Model)
	}
	if cfg.LLM.Explainer.Provider != "openai" {
		t.Errorf("explainer provider = %q", cfg.LLM.Explainer.Provider)
	}
	// Unset fields picked up defaults.
	if cfg.Queues.DetectionsFile != "detected_terms.json" {
		t.Errorf("detections_file default = %q", cfg.Queues.DetectionsFile)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	minimal := `
llm:
  detector: {provider: ollama, model: a}
  explainer: {provider: ollama, model: b}
`
	cfg, err := config.LoadFromReader(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("listen_addr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level default = %q", cfg.Server.LogLevel)
	}
	if cfg.Queues.Dir != "data" {
		t.Errorf("queue dir default = %q", cfg.Queues.Dir)
	}
	if cfg.SettingsFile != "user_settings.json" {
		t.Errorf("settings_file default = %q", cfg.SettingsFile)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadFromReader(strings.NewReader("serverr:\n  listen_addr: ':1'\n")); err == nil {
		t.Error("unknown top-level field was accepted")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\nllm:\n  detector: {provider: ollama, model: a}\n  explainer: {provider: ollama, model: b}\n",
			want: "log_level",
		},
		{
			name: "missing detector model",
			yaml: "llm:\n  detector: {provider: ollama}\n  explainer: {provider: ollama, model: b}\n",
			want: "llm.detector.model",
		},
		{
			name: "missing explainer provider",
			yaml: "llm:\n  detector: {provider: ollama, model: a}\n  explainer: {model: b}\n",
			want: "llm.explainer.provider",
		},
		{
			name: "incomplete tls",
			yaml: "server:\n  tls:\n    cert_file: /tmp/cert.pem\nllm:\n  detector: {provider: ollama, model: a}\n  explainer: {provider: ollama, model: b}\n",
			want: "cert_file and key_file",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("invalid config was accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDefaultRegistryCreatesProviders(t *testing.T) {
	t.Parallel()

	reg := config.DefaultRegistry()

	p, err := reg.CreateLLM(config.ProviderEntry{
		Provider: "ollama",
		BaseURL:  "http://localhost:11434",
		Model:    "qwen2.5:3b",
	})
	if err != nil {
		t.Fatalf("CreateLLM(ollama) error: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM(ollama) returned nil provider")
	}

	tr, err := reg.CreateSTT("whisper", config.STTConfig{
		BaseURL:  "http://localhost:8090",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("CreateSTT(whisper) error: %v", err)
	}
	if tr == nil {
		t.Fatal("CreateSTT(whisper) returned nil transcriber")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Provider: "nope", Model: "x"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateSTT("nope", config.STTConfig{})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	changed, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	changed.Server.LogLevel = config.LogWarn
	changed.LLM.Explainer.Model = "gpt-4o"

	d := config.Diff(base, changed)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.LLMChanged {
		t.Error("LLM change not detected")
	}
	if d.STTChanged || d.QueuesChanged || d.ServerChanged {
		t.Errorf("spurious changes flagged: %+v", d)
	}
	if !d.RequiresRestart() {
		t.Error("LLM change should require restart")
	}

	if d := config.Diff(base, base); d.RequiresRestart() || d.LogLevelChanged {
		t.Errorf("identical configs diff = %+v", d)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, cfg *config.Config) {
		changes <- cfg
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":9000" {
		t.Errorf("initial listen_addr = %q", got)
	}

	updated := strings.Replace(validYAML, "log_level: debug", "log_level: warn", 1)
	// Ensure the mtime moves even on coarse-grained filesystems.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Server.LogLevel != config.LogWarn {
			t.Errorf("reloaded log_level = %q, want warn", cfg.Server.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the change")
	}
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("server: [broken"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().Server.ListenAddr; got != ":9000" {
		t.Errorf("config was replaced by a broken reload: listen_addr = %q", got)
	}
}

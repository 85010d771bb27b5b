// Package settings provides the process-wide settings store shared by the
// detection and explanation workers: domain hint, audience style, model
// selection, confidence threshold, and term cooldown.
//
// The store is read-mostly. Reads take a shared lock; updates and file
// persistence take the exclusive lock. Values are persisted as a single JSON
// object with a last_updated timestamp.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fixed setting keys.
const (
	KeyDomain              = "domain"
	KeyExplanationStyle    = "explanation_style"
	KeyAIModel             = "ai_model"
	KeyConfidenceThreshold = "confidence_threshold"
	KeyCooldownSeconds     = "cooldown_seconds"
)

// Defaults applied at construction and by [Store.ResetToDefaults].
const (
	DefaultExplanationStyle    = "accessible"
	DefaultConfidenceThreshold = 0.9
	DefaultCooldownSeconds     = 300.0
)

// Store is a mapping of setting key to value with file load/save.
// All methods are safe for concurrent use.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]any
}

// New creates a store persisting to path and seeds it with defaults.
// An empty path disables persistence (useful in tests).
func New(path string) *Store {
	return &Store{
		path:   path,
		values: defaults(),
	}
}

func defaults() map[string]any {
	return map[string]any{
		KeyDomain:              "",
		KeyExplanationStyle:    DefaultExplanationStyle,
		KeyAIModel:             "",
		KeyConfidenceThreshold: DefaultConfidenceThreshold,
		KeyCooldownSeconds:     DefaultCooldownSeconds,
	}
}

// Update shallow-merges updates into the store. A nil or non-map value
// (callers may pass raw payloads straight through) is ignored with a
// warning.
func (s *Store) Update(updates any) {
	m, ok := updates.(map[string]any)
	if !ok || m == nil {
		slog.Warn("settings: ignoring non-map update", "got", fmt.Sprintf("%T", updates))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, m)
}

// Get returns the value for key, or fallback when the key is absent.
func (s *Store) Get(key string, fallback any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

// GetAll returns a copy of every setting.
func (s *Store) GetAll() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	maps.Copy(out, s.values)
	return out
}

// ResetToDefaults discards all values and restores the defaults.
func (s *Store) ResetToDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = defaults()
}

// ConfidenceThreshold returns the confidence threshold as a float64,
// falling back to the default when the stored value has an unusable type.
func (s *Store) ConfidenceThreshold() float64 {
	return s.floatValue(KeyConfidenceThreshold, DefaultConfidenceThreshold)
}

// CooldownSeconds returns the term cooldown window.
func (s *Store) CooldownSeconds() float64 {
	return s.floatValue(KeyCooldownSeconds, DefaultCooldownSeconds)
}

// Domain returns the current domain hint ("" when unset).
func (s *Store) Domain() string {
	return s.stringValue(KeyDomain, "")
}

// ExplanationStyle returns the audience style for explanations.
func (s *Store) ExplanationStyle() string {
	return s.stringValue(KeyExplanationStyle, DefaultExplanationStyle)
}

func (s *Store) floatValue(key string, fallback float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch v := s.values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func (s *Store) stringValue(key, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return fallback
}

// persisted is the on-disk JSON shape.
type persisted struct {
	Settings    map[string]any `json:"settings"`
	LastUpdated string         `json:"last_updated"`
}

// SaveToFile writes the settings and a fresh last_updated timestamp to the
// configured path using an atomic replace.
func (s *Store) SaveToFile() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := persisted{
		Settings:    s.values,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("settings: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: replace %q: %w", s.path, err)
	}
	return nil
}

// LoadFromFile merges persisted settings over the current values. A missing
// file leaves the store untouched.
func (s *Store) LoadFromFile() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: read %q: %w", s.path, err)
	}

	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("settings: parse %q: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, doc.Settings)
	return nil
}

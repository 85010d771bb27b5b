package settings_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexhound/lexhound/internal/settings"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	s := settings.New("")
	if got := s.ConfidenceThreshold(); got != settings.DefaultConfidenceThreshold {
		t.Errorf("ConfidenceThreshold() = %v, want %v", got, settings.DefaultConfidenceThreshold)
	}
	if got := s.CooldownSeconds(); got != settings.DefaultCooldownSeconds {
		t.Errorf("CooldownSeconds() = %v, want %v", got, settings.DefaultCooldownSeconds)
	}
	if got := s.ExplanationStyle(); got != settings.DefaultExplanationStyle {
		t.Errorf("ExplanationStyle() = %q, want %q", got, settings.DefaultExplanationStyle)
	}
}

func TestUpdateShallowMerge(t *testing.T) {
	t.Parallel()

	s := settings.New("")
	s.Update(map[string]any{
		settings.KeyDomain:              "machine learning",
		settings.KeyConfidenceThreshold: 0.8,
	})

	if got := s.Domain(); got != "machine learning" {
		t.Errorf("Domain() = %q, want %q", got, "machine learning")
	}
	if got := s.ConfidenceThreshold(); got != 0.8 {
		t.Errorf("ConfidenceThreshold() = %v, want 0.8", got)
	}
	// Untouched keys survive the merge.
	if got := s.ExplanationStyle(); got != settings.DefaultExplanationStyle {
		t.Errorf("ExplanationStyle() = %q, want default", got)
	}
}

func TestUpdateIgnoresNonMap(t *testing.T) {
	t.Parallel()

	s := settings.New("")
	s.Update("confidence_threshold=0.5")
	s.Update(nil)

	if got := s.ConfidenceThreshold(); got != settings.DefaultConfidenceThreshold {
		t.Errorf("ConfidenceThreshold() = %v, want default after non-map updates", got)
	}
}

func TestGetAllReturnsCopy(t *testing.T) {
	t.Parallel()

	s := settings.New("")
	all := s.GetAll()
	all[settings.KeyDomain] = "mutated"

	if got := s.Domain(); got != "" {
		t.Errorf("Domain() = %q, mutation of GetAll() copy leaked into the store", got)
	}
}

func TestResetToDefaults(t *testing.T) {
	t.Parallel()

	s := settings.New("")
	s.Update(map[string]any{settings.KeyDomain: "law"})
	s.ResetToDefaults()

	if got := s.Domain(); got != "" {
		t.Errorf("Domain() after reset = %q, want empty", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	s := settings.New(path)
	s.Update(map[string]any{
		settings.KeyDomain:          "medicine",
		settings.KeyCooldownSeconds: 120.0,
	})
	if err := s.SaveToFile(); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	// The file carries a last_updated timestamp alongside the settings.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var doc struct {
		Settings    map[string]any `json:"settings"`
		LastUpdated string         `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
	if doc.LastUpdated == "" {
		t.Error("saved file should carry last_updated")
	}

	fresh := settings.New(path)
	if err := fresh.LoadFromFile(); err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if got := fresh.Domain(); got != "medicine" {
		t.Errorf("Domain() after load = %q, want %q", got, "medicine")
	}
	if got := fresh.CooldownSeconds(); got != 120 {
		t.Errorf("CooldownSeconds() after load = %v, want 120", got)
	}
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	s := settings.New(filepath.Join(t.TempDir(), "absent.json"))
	if err := s.LoadFromFile(); err != nil {
		t.Fatalf("LoadFromFile() on missing file error: %v", err)
	}
	if got := s.ConfidenceThreshold(); got != settings.DefaultConfidenceThreshold {
		t.Errorf("ConfidenceThreshold() = %v, want default", got)
	}
}

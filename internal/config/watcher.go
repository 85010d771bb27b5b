package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies
// minimal; a translation server reloads config rarely enough that a few
// seconds of latency is irrelevant.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll wakes every interval and reloads when the file mtime or content hash
// changed. A file that fails to parse keeps the previous config active.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
		}

		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config file unreadable, keeping current config", "path", w.path, "error", err)
			continue
		}
		if info.ModTime().Equal(w.lastMtime) {
			continue
		}

		cfg, hash, mtime, err := w.loadAndHash()
		if err != nil {
			slog.Warn("config reload failed, keeping current config", "path", w.path, "error", err)
			w.lastMtime = info.ModTime()
			continue
		}
		if hash == w.lastHash {
			w.lastMtime = mtime
			continue
		}

		w.mu.Lock()
		old := w.current
		w.current = cfg
		w.lastHash = hash
		w.lastMtime = mtime
		w.mu.Unlock()

		slog.Info("config reloaded", "path", w.path)
		if w.onChange != nil {
			w.onChange(old, cfg)
		}
	}
}

// loadAndHash reads, hashes, and parses the config file in one pass so the
// hash always matches the parsed content.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	cfg := &Config{}
	if err := decodeStrict(data, cfg); err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}

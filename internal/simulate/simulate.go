// Package simulate replays a scripted transcript into the incoming queue so
// the full detection pipeline can be exercised without a live capture client.
package simulate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lexhound/lexhound/internal/bus"
)

// ErrAlreadyRunning is returned by Start while a replay is in progress.
var ErrAlreadyRunning = errors.New("simulate: replay already running")

// ErrNotRunning is returned by Stop when no replay is active.
var ErrNotRunning = errors.New("simulate: no replay running")

// DefaultInterval is the pause between scripted utterances.
const DefaultInterval = 4 * time.Second

// simulatedClientID is stamped on replayed envelopes so their provenance is
// visible downstream.
const simulatedClientID = "stt_simulated"

// DefaultScript is a jargon-dense meeting transcript. Each line becomes one
// stt.transcription envelope.
var DefaultScript = []string{
	"So the main blocker is that our RAG pipeline keeps hallucinating when the retrieval corpus is stale.",
	"We should move the embeddings to a vector database and shard by tenant before the next load test.",
	"The SLA breach last week came down to head-of-line blocking in the ingress proxy.",
	"Marketing wants the churn cohort analysis segmented by acquisition channel.",
	"If we adopt CQRS here the read model can lag, so the dashboard needs eventual consistency warnings.",
	"Let's timebox the spike on quantization and report back on perplexity regressions.",
}

// Manager replays a script into the incoming queue. It implements the
// router's simulation hooks. Safe for concurrent use.
type Manager struct {
	incoming *bus.Queue
	script   []string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithScript replaces the default script.
func WithScript(lines []string) Option {
	return func(m *Manager) {
		if len(lines) > 0 {
			m.script = lines
		}
	}
}

// WithInterval sets the pause between utterances.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewManager creates a Manager feeding the given queue.
func NewManager(incoming *bus.Queue, opts ...Option) *Manager {
	m := &Manager{
		incoming: incoming,
		script:   DefaultScript,
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins replaying the script in a background goroutine. requester is
// the client that asked for the replay, kept for the logs. Returns
// [ErrAlreadyRunning] while a previous replay is still active.
func (m *Manager) Start(requester string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	slog.Info("simulation started", "requester", requester, "utterances", len(m.script))

	go m.replay(ctx)
	return nil
}

// Stop ends the active replay. Returns [ErrNotRunning] when none is active.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return ErrNotRunning
	}
	m.cancel()
	m.cancel = nil
	slog.Info("simulation stopped")
	return nil
}

// Running reports whether a replay is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// replay emits one envelope per script line, then clears the running state.
func (m *Manager) replay(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.mu.Unlock()
	}()

	for i, line := range m.script {
		env := bus.New(bus.TypeTranscription, map[string]any{"text": line})
		env.Origin = bus.OriginSTT
		env.ClientID = simulatedClientID
		env.AppendProcessing("simulation_manager", "generated", "")

		if err := m.incoming.Enqueue(ctx, env); err != nil {
			return
		}
		slog.Debug("simulated utterance emitted", "index", i)

		select {
		case <-time.After(m.interval):
		case <-ctx.Done():
			return
		}
	}
	slog.Info("simulation script finished")
}

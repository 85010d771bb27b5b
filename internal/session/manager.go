// Package session manages shared-session codes so several frontends can
// join one logical listening session.
//
// At most one session is active at a time. The creator receives a short
// uppercase-alphanumeric code; other clients join by presenting it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lexhound/lexhound/internal/observe"
)

// codeAlphabet deliberately omits lowercase letters; codes are read aloud
// and typed by hand.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the number of characters in a session code.
const CodeLength = 6

// ErrSessionActive is returned by Create when a session already exists.
var ErrSessionActive = errors.New("session: a session is already active")

// ErrNoMatch is returned by Join when the code does not match the active
// session (or no session is active).
var ErrNoMatch = errors.New("session: no active session with that code")

// Session describes the one active session.
type Session struct {
	// Code is the 6-character join code.
	Code string

	// CreatorClientID is the client that started the session.
	CreatorClientID string

	// Participants holds every client id that created or joined.
	Participants map[string]struct{}

	// StartedAt is when the session was created.
	StartedAt time.Time
}

// Manager tracks the single active session. The router and the gateway call
// it in production, but all methods take the lock so tests may call freely.
type Manager struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	active *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Create starts a new session owned by creator and returns its join code.
// Fails with [ErrSessionActive] when a session already exists.
func (m *Manager) Create(creator string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", fmt.Errorf("%w (code=%s)", ErrSessionActive, m.active.Code)
	}

	code, err := gonanoid.Generate(codeAlphabet, CodeLength)
	if err != nil {
		return "", fmt.Errorf("session: generate code: %w", err)
	}

	m.active = &Session{
		Code:            code,
		CreatorClientID: creator,
		Participants:    map[string]struct{}{creator: {}},
		StartedAt:       time.Now().UTC(),
	}
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session created", "code", code, "creator", creator)
	return code, nil
}

// Join adds client to the active session iff code matches.
func (m *Manager) Join(client, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.Code != code {
		return ErrNoMatch
	}
	m.active.Participants[client] = struct{}{}
	slog.Info("session joined", "code", code, "client", client)
	return nil
}

// Attach registers a connected client with the active session without
// requiring the join code. The gateway calls it on connect so reconnecting
// frontends rejoin automatically. A no-op when no session is active.
func (m *Manager) Attach(client string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	if _, ok := m.active.Participants[client]; ok {
		return
	}
	m.active.Participants[client] = struct{}{}
	slog.Info("session attached", "code", m.active.Code, "client", client)
}

// ActiveCode returns the active session code, or "" and false when no
// session exists.
func (m *Manager) ActiveCode() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.Code, true
}

// Participants returns a copy of the active session's participant set.
// Returns nil when no session is active.
func (m *Manager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	out := make([]string, 0, len(m.active.Participants))
	for id := range m.active.Participants {
		out = append(out, id)
	}
	return out
}

// End clears the active session. A no-op when none exists.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("session ended", "code", m.active.Code)
	}
	m.active = nil
}

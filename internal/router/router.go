// Package router implements the central message dispatcher: two listener
// loops that demultiplex client-originated and service-originated envelopes
// onto the right collaborator or queue and format ack/error/pong replies.
package router

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/session"
	"github.com/lexhound/lexhound/internal/settings"
)

// errorBackoff is the pause after a handler failure before the listener loop
// resumes, so a poison message cannot spin the loop hot.
const errorBackoff = 100 * time.Millisecond

// Retryer re-enqueues failed detections; implemented by the explainer.
type Retryer interface {
	RetryFailed() (int, error)
}

// SimulationManager drives the optional transcript simulation used for
// frontend development without a live microphone.
type SimulationManager interface {
	Start(clientID string) error
	Stop() error
}

// Option configures a Router.
type Option func(*Router)

// WithSimulation attaches a simulation manager.
func WithSimulation(sim SimulationManager) Option {
	return func(r *Router) { r.sim = sim }
}

// WithRetryer attaches the failed-detection retryer.
func WithRetryer(ret Retryer) Option {
	return func(r *Router) { r.retryer = ret }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router owns the client-listener (incoming queue) and service-listener
// (outgoing queue) loops. Both loops share this object but touch disjoint
// state; the session manager and settings store carry their own locks.
type Router struct {
	incoming     *bus.Queue
	outgoing     *bus.Queue
	websocketOut *bus.Queue
	detect       *bus.Queue

	sessions *session.Manager
	settings *settings.Store
	retryer  Retryer
	sim      SimulationManager
	metrics  *observe.Metrics
}

// New creates a Router.
//
// incoming carries client frames from the gateway, outgoing carries
// service-originated envelopes (delivery, detector feedback), websocketOut
// feeds the gateway dispatcher, and detect is the detector's private inbox.
func New(incoming, outgoing, websocketOut, detect *bus.Queue,
	sessions *session.Manager, store *settings.Store, opts ...Option) *Router {
	r := &Router{
		incoming:     incoming,
		outgoing:     outgoing,
		websocketOut: websocketOut,
		detect:       detect,
		sessions:     sessions,
		settings:     store,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run starts both listener loops and blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.clientListener(ctx) })
	g.Go(func() error { return r.serviceListener(ctx) })
	return g.Wait()
}

// clientListener drains the incoming queue and dispatches by message type.
func (r *Router) clientListener(ctx context.Context) error {
	slog.Info("router client-listener started")
	for {
		env, err := r.incoming.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("router client-listener stopped")
				return nil
			}
			return err
		}
		r.dispatchClient(ctx, env)
	}
}

// dispatchClient handles one client envelope. Panics inside a handler are
// converted to an internal_server_error reply; the loop always continues.
func (r *Router) dispatchClient(ctx context.Context, env *bus.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router: handler panicked",
				"type", env.Type, "message_id", env.ID, "panic", rec)
			r.reply(ctx, bus.Reply(env, bus.ErrInternalServerError, bus.OriginRouter,
				map[string]any{"message_id": env.ID}))
			time.Sleep(errorBackoff)
		}
	}()

	env.AppendForwarding(bus.OriginRouter, r.incoming.Name(), "", "")
	r.metrics.RecordEnvelopeRouted(ctx, env.Type)

	switch env.Type {
	case bus.TypeTranscription, bus.TypeManualRequest:
		r.forwardToDetector(ctx, env)

	case bus.TypePing:
		r.reply(ctx, bus.Reply(env, bus.TypePong, bus.OriginRouter,
			map[string]any{"timestamp": bus.Now()}))

	case bus.TypeSTTInit:
		slog.Info("router: stt client initialised",
			"client_id", env.ClientID, "profile", env.Payload["profile"])

	case bus.TypeHeartbeat:
		slog.Debug("router: stt heartbeat", "client_id", env.ClientID)

	case bus.TypeSessionStart:
		r.handleSessionStart(ctx, env)

	case bus.TypeSessionJoin:
		r.handleSessionJoin(ctx, env)

	case bus.TypeSettingsSave:
		r.handleSettingsSave(ctx, env)

	case bus.TypeRetryFailed:
		r.handleRetryFailed(ctx, env)

	case bus.TypeSimulationStart, bus.TypeSimulationStop:
		r.handleSimulation(ctx, env)

	default:
		slog.Warn("router: unknown message type", "type", env.Type, "client_id", env.ClientID)
		r.reply(ctx, bus.Reply(env, bus.ErrUnknownMessageType, bus.OriginRouter,
			map[string]any{"received_type": env.Type}))
	}
}

// forwardToDetector hands the envelope to the detector's private queue so a
// slow model call never blocks the listener loop on anything but detector
// backpressure.
func (r *Router) forwardToDetector(ctx context.Context, env *bus.Envelope) {
	env.AppendForwarding(bus.OriginRouter, r.incoming.Name(), r.detect.Name(), "")
	if err := r.detect.Enqueue(ctx, env); err != nil {
		slog.Warn("router: forward to detector failed", "error", err)
	}
}

func (r *Router) handleSessionStart(ctx context.Context, env *bus.Envelope) {
	code, err := r.sessions.Create(env.ClientID)
	if err != nil {
		r.reply(ctx, bus.Reply(env, bus.ErrInvalidInput, bus.OriginRouter,
			map[string]any{"error": err.Error()}))
		return
	}
	r.reply(ctx, bus.Reply(env, bus.TypeSessionCreated, bus.OriginRouter,
		map[string]any{"code": code}))
}

func (r *Router) handleSessionJoin(ctx context.Context, env *bus.Envelope) {
	code, _ := env.Payload["code"].(string)
	if err := r.sessions.Join(env.ClientID, code); err != nil {
		r.reply(ctx, bus.Reply(env, bus.ErrInvalidInput, bus.OriginRouter,
			map[string]any{"error": err.Error()}))
		return
	}
	r.reply(ctx, bus.Reply(env, bus.TypeSessionJoined, bus.OriginRouter,
		map[string]any{"code": code}))
}

// handleSettingsSave merges the payload into the store, persists it, acks the
// caller, and broadcasts the new values so every frontend stays in sync.
func (r *Router) handleSettingsSave(ctx context.Context, env *bus.Envelope) {
	r.settings.Update(map[string]any(env.Payload))
	if err := r.settings.SaveToFile(); err != nil {
		slog.Error("router: settings save failed", "error", err)
	}
	r.reply(ctx, bus.Reply(env, bus.TypeAck, bus.OriginRouter,
		map[string]any{"saved": true}))

	broadcast := bus.New(bus.TypeSettingsUpdated, map[string]any{
		"settings": r.settings.GetAll(),
	})
	broadcast.Origin = bus.OriginRouter
	broadcast.Destination = bus.DestAllFrontends
	if err := r.websocketOut.Enqueue(ctx, broadcast); err != nil {
		slog.Warn("router: settings broadcast failed", "error", err)
	}
}

func (r *Router) handleRetryFailed(ctx context.Context, env *bus.Envelope) {
	if r.retryer == nil {
		r.reply(ctx, bus.Reply(env, bus.ErrProcessingError, bus.OriginRouter,
			map[string]any{"error": "retry not available"}))
		return
	}
	n, err := r.retryer.RetryFailed()
	if err != nil {
		r.reply(ctx, bus.Reply(env, bus.ErrProcessingError, bus.OriginRouter,
			map[string]any{"error": err.Error()}))
		return
	}
	r.reply(ctx, bus.Reply(env, bus.TypeAck, bus.OriginRouter,
		map[string]any{"retried": n}))
}

func (r *Router) handleSimulation(ctx context.Context, env *bus.Envelope) {
	if env.Type == bus.TypeSimulationStart && env.ClientID == "" {
		r.reply(ctx, bus.Reply(env, bus.ErrInvalidMessageFormat, bus.OriginRouter,
			map[string]any{"error": "simulation.start requires client_id"}))
		return
	}
	if r.sim != nil {
		var err error
		if env.Type == bus.TypeSimulationStart {
			err = r.sim.Start(env.ClientID)
		} else {
			err = r.sim.Stop()
		}
		if err != nil {
			r.reply(ctx, bus.Reply(env, bus.ErrProcessingError, bus.OriginRouter,
				map[string]any{"error": err.Error()}))
			return
		}
	}
	r.reply(ctx, bus.Reply(env, bus.TypeAck, bus.OriginRouter,
		map[string]any{"command": env.Type}))
}

// reply pushes a formatted reply straight to the gateway queue.
func (r *Router) reply(ctx context.Context, env *bus.Envelope) {
	env.AppendForwarding(bus.OriginRouter, "", r.websocketOut.Name(), "reply")
	if err := r.websocketOut.Enqueue(ctx, env); err != nil {
		slog.Warn("router: reply enqueue failed", "type", env.Type, "error", err)
	}
}

// serviceListener drains the outgoing queue and routes service-originated
// envelopes to the gateway.
func (r *Router) serviceListener(ctx context.Context) error {
	slog.Info("router service-listener started")
	for {
		env, err := r.outgoing.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("router service-listener stopped")
				return nil
			}
			return err
		}
		r.dispatchService(ctx, env)
	}
}

// dispatchService routes one service envelope by destination. The legacy
// singular "frontend" destination is rewritten to the broadcast group.
func (r *Router) dispatchService(ctx context.Context, env *bus.Envelope) {
	r.metrics.RecordEnvelopeRouted(ctx, env.Type)
	if env.Destination == bus.DestFrontend {
		env.Destination = bus.DestAllFrontends
	}
	if env.Destination == "" {
		slog.Warn("router: undeliverable service envelope",
			"type", env.Type, "origin", env.Origin, "message_id", env.ID)
		if env.Origin != "" && env.ClientID != "" {
			r.reply(ctx, bus.Reply(env, bus.ErrRoutingError, bus.OriginRouter,
				map[string]any{"message_id": env.ID}))
		}
		return
	}

	env.AppendForwarding(bus.OriginRouter, r.outgoing.Name(), r.websocketOut.Name(), "")
	if err := r.websocketOut.Enqueue(ctx, env); err != nil {
		slog.Warn("router: forward to gateway failed", "error", err)
	}
}

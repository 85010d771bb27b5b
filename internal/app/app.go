// Package app wires all lexhound subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options. When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/config"
	"github.com/lexhound/lexhound/internal/deliver"
	"github.com/lexhound/lexhound/internal/detect"
	"github.com/lexhound/lexhound/internal/explain"
	"github.com/lexhound/lexhound/internal/filequeue"
	"github.com/lexhound/lexhound/internal/gateway"
	"github.com/lexhound/lexhound/internal/health"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/pipeline"
	"github.com/lexhound/lexhound/internal/router"
	"github.com/lexhound/lexhound/internal/session"
	"github.com/lexhound/lexhound/internal/settings"
	"github.com/lexhound/lexhound/internal/simulate"
	"github.com/lexhound/lexhound/pkg/provider/llm"
)

// queueBound is the capacity of each in-process queue. Producers block when
// a queue is full; nothing is dropped.
const queueBound = 100

// shutdownGrace bounds the HTTP server drain during shutdown.
const shutdownGrace = 10 * time.Second

// Providers holds the two language-model roles. Populated by main.go via the
// config registry, usually wrapped in resilience fallbacks.
type Providers struct {
	// Detector is the small, fast model invoked on every utterance.
	Detector llm.Provider

	// Explainer is the larger model invoked per filtered term.
	Explainer llm.Provider
}

// App owns all subsystem lifetimes and orchestrates the translation pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Typed message bus.
	incoming     *bus.Queue
	outgoing     *bus.Queue
	websocketOut *bus.Queue
	detectQueue  *bus.Queue

	// Cross-worker wakeups: trigger is detector -> explainer, notify is
	// explainer -> delivery.
	trigger *bus.Signal
	notify  *bus.Signal

	// Durable state.
	detections   *filequeue.Store[pipeline.Detection]
	explanations *filequeue.Store[pipeline.Explanation]
	settings     *settings.Store
	sessions     *session.Manager

	// Workers.
	detector  *detect.Detector
	explainer *explain.Explainer
	delivery  *deliver.Service
	router    *router.Router
	gateway   *gateway.Gateway
	simulator *simulate.Manager

	httpServer *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSettingsStore injects a settings store instead of creating one from
// config.
func WithSettingsStore(s *settings.Store) Option {
	return func(a *App) { a.settings = s }
}

// WithSimulator injects a simulation manager instead of the default scripted
// one.
func WithSimulator(sim *simulate.Manager) Option {
	return func(a *App) { a.simulator = sim }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Detector == nil || providers.Explainer == nil {
		return nil, errors.New("app: both LLM providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,

		incoming:     bus.NewQueue("incoming", queueBound),
		outgoing:     bus.NewQueue("outgoing", queueBound),
		websocketOut: bus.NewQueue("websocket_out", queueBound),
		detectQueue:  bus.NewQueue("detect", queueBound),

		trigger: bus.NewSignal(),
		notify:  bus.NewSignal(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.sessions = session.NewManager(session.WithMetrics(a.metrics))

	// Instrument the providers so every model call is counted and timed.
	a.providers = &Providers{
		Detector: a.metrics.InstrumentLLM(providers.Detector,
			cfg.LLM.Detector.Provider, "detector", a.metrics.DetectionDuration),
		Explainer: a.metrics.InstrumentLLM(providers.Explainer,
			cfg.LLM.Explainer.Provider, "explainer", a.metrics.ExplanationDuration),
	}

	if err := a.initStores(); err != nil {
		return nil, err
	}
	a.initWorkers()
	a.initHTTP()

	if err := a.metrics.RegisterQueueDepth(a.incoming, a.outgoing, a.websocketOut, a.detectQueue); err != nil {
		slog.Warn("queue depth gauge registration failed", "error", err)
	}

	return a, nil
}

// initStores opens the file-backed queues and loads persisted settings.
func (a *App) initStores() error {
	var err error
	a.detections, err = filequeue.New[pipeline.Detection](a.cfg.Queues.DetectionsPath())
	if err != nil {
		return fmt.Errorf("app: open detections store: %w", err)
	}
	a.explanations, err = filequeue.New[pipeline.Explanation](a.cfg.Queues.ExplanationsPath())
	if err != nil {
		return fmt.Errorf("app: open explanations store: %w", err)
	}

	if a.settings == nil {
		a.settings = settings.New(a.cfg.SettingsFile)
	}
	if err := a.settings.LoadFromFile(); err != nil {
		slog.Warn("persisted settings unreadable, using defaults", "error", err)
	}
	return nil
}

// initWorkers builds the pipeline workers and the router.
func (a *App) initWorkers() {
	a.detector = detect.New(a.detectQueue, a.outgoing, a.detections,
		a.providers.Detector, a.settings, a.trigger,
		detect.WithMetrics(a.metrics))
	a.explainer = explain.New(a.detections, a.explanations,
		a.providers.Explainer, a.settings, a.trigger, a.notify)
	a.delivery = deliver.New(a.explanations, a.outgoing, a.notify,
		deliver.WithMetrics(a.metrics))

	if a.simulator == nil {
		a.simulator = simulate.NewManager(a.incoming)
	}

	a.router = router.New(a.incoming, a.outgoing, a.websocketOut, a.detectQueue,
		a.sessions, a.settings,
		router.WithRetryer(a.explainer),
		router.WithSimulation(a.simulator),
		router.WithMetrics(a.metrics),
	)
	a.gateway = gateway.New(a.incoming, a.websocketOut,
		gateway.WithMetrics(a.metrics),
		gateway.WithSessionRegistrar(a.sessions),
	)
}

// initHTTP assembles the HTTP surface: the WebSocket endpoint, Prometheus
// metrics, and the health probes.
func (a *App) initHTTP() {
	checkers := []health.Checker{
		health.WritableDir("queue_dir", a.cfg.Queues.Dir),
	}
	if url := a.cfg.LLM.Detector.BaseURL; url != "" {
		checkers = append(checkers, health.Endpoint("detector_llm", url))
	}
	if url := a.cfg.LLM.Explainer.BaseURL; url != "" {
		checkers = append(checkers, health.Endpoint("explainer_llm", url))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", a.gateway.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Gateway returns the WebSocket gateway, mainly for tests that dial it
// through a custom server.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Handler returns the complete HTTP handler served by Run, middleware
// included, so tests exercise the same composition as production.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// Run starts every worker plus the HTTP server and blocks until ctx is
// cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.router.Run(ctx) })
	g.Go(func() error { return a.detector.Run(ctx) })
	g.Go(func() error { return a.explainer.Run(ctx) })
	g.Go(func() error { return a.delivery.Run(ctx) })
	g.Go(func() error { return a.gateway.RunDispatcher(ctx) })

	g.Go(func() error {
		slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown persists what needs persisting and closes the HTTP listener. Run
// already stops the workers via context cancellation; Shutdown is for state
// that outlives them.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.simulator.Running() {
			_ = a.simulator.Stop()
		}
		a.sessions.End()

		if err := a.settings.SaveToFile(); err != nil {
			slog.Warn("settings save on shutdown failed", "error", err)
		}

		if err := a.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = err
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

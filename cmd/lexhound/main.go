// Command lexhound is the main entry point for the lexhound translation
// server: it receives live transcriptions over WebSocket, detects jargon
// terms with a small LLM, explains them with a larger one, and pushes the
// explanations back to every connected frontend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexhound/lexhound/internal/app"
	"github.com/lexhound/lexhound/internal/config"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/resilience"
	"github.com/lexhound/lexhound/pkg/provider/llm"
)

// logLevel is shared with the config watcher so log verbosity can be changed
// without a restart.
var logLevel slog.LevelVar

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lexhound: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lexhound: %v\n", err)
		}
		return 1
	}

	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))

	slog.Info("lexhound starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later subsystem records into the live
	// provider.
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lexhound"})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build LLM providers", "error", err)
		return 1
	}

	// Watch the config file so log-level changes apply live; anything else
	// logs a restart warning.
	watcher, err := config.NewWatcher(*configPath, onConfigChange)
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the detector and explainer LLMs from the
// config registry, wrapping each in a circuit-breaker fallback chain when
// fallbacks are configured.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	reg := config.DefaultRegistry()

	detector, err := buildRole(reg, "detector", cfg.LLM.Detector, cfg.LLM.DetectorFallbacks)
	if err != nil {
		return nil, err
	}
	explainer, err := buildRole(reg, "explainer", cfg.LLM.Explainer, cfg.LLM.ExplainerFallbacks)
	if err != nil {
		return nil, err
	}
	return &app.Providers{Detector: detector, Explainer: explainer}, nil
}

// buildRole creates one LLM role, wrapped in a circuit-breaker fallback
// chain. Even without configured fallbacks the breaker matters: an open
// breaker fails calls fast, which sends the detector to its regex fallback
// instead of stalling the pipeline on a dead model server.
func buildRole(reg *config.Registry, role string, primary config.ProviderEntry, fallbacks []config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, primary.Provider, err)
	}
	slog.Info("provider created", "role", role, "name", primary.Provider, "model", primary.Model)

	fb := resilience.NewLLMFallback(p, primary.Provider, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: role},
	})
	for _, entry := range fallbacks {
		fp, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", role, entry.Provider, err)
		}
		fb.AddFallback(entry.Provider, fp)
		slog.Info("fallback registered", "role", role, "name", entry.Provider, "model", entry.Model)
	}
	return fb, nil
}

// onConfigChange applies hot-reloadable changes and warns about the rest.
func onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RequiresRestart() {
		slog.Warn("config changes beyond log_level require a restart to take effect")
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("lexhound configuration:")
	fmt.Printf("  detector  : %s / %s\n", cfg.LLM.Detector.Provider, cfg.LLM.Detector.Model)
	fmt.Printf("  explainer : %s / %s\n", cfg.LLM.Explainer.Provider, cfg.LLM.Explainer.Model)
	fmt.Printf("  stt       : %s (%s)\n", cfg.STT.BaseURL, cfg.STT.Language)
	fmt.Printf("  queues    : %s\n", cfg.Queues.Dir)
	fmt.Printf("  listen    : %s\n", cfg.Server.ListenAddr)
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

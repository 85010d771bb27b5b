package app_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lexhound/lexhound/internal/app"
	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/config"
	"github.com/lexhound/lexhound/internal/observe"
	llmmock "github.com/lexhound/lexhound/pkg/provider/llm/mock"
)

// testConfig builds a runnable config rooted in a temp dir with an unused
// listen port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		LLM: config.LLMConfig{
			Detector:  config.ProviderEntry{Provider: "ollama", Model: "test"},
			Explainer: config.ProviderEntry{Provider: "ollama", Model: "test"},
		},
		Queues:       config.QueueConfig{Dir: dir},
		SettingsFile: filepath.Join(dir, "user_settings.json"),
	}
	cfg.ApplyDefaults()
	return cfg
}

// start builds and runs an App, returning it with a test server in front of
// the full HTTP handler. Dialing through the handler, middleware included,
// keeps the tests on the same upgrade path as production.
func start(t *testing.T, providers *app.Providers, opts ...app.Option) (*app.App, *httptest.Server) {
	t.Helper()

	a, err := app.New(testConfig(t), providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

// dial opens a websocket connection as the given client id.
func dial(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + clientID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", clientID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env *bus.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) *bus.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		env, err := bus.Decode(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if env.Type == msgType {
			return env
		}
	}
}

func TestPingPongEndToEnd(t *testing.T) {
	t.Parallel()

	_, srv := start(t, &app.Providers{
		Detector:  &llmmock.Provider{Response: "[]"},
		Explainer: &llmmock.Provider{Response: "unused"},
	})
	conn := dial(t, srv, "frontend_1")

	send(t, conn, bus.New(bus.TypePing, nil))
	pong := readUntil(t, conn, bus.TypePong)
	if _, ok := pong.Payload["timestamp"]; !ok {
		t.Error("pong has no timestamp")
	}
}

func TestTranscriptionToExplanation(t *testing.T) {
	t.Parallel()

	candidates, err := json.Marshal([]map[string]any{
		{"term": "backpropagation", "confidence": 0.2, "context": "we rely on backpropagation"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	detector := &llmmock.Provider{Response: string(candidates)}
	explainer := &llmmock.Provider{Response: "Backpropagation is how neural networks learn from errors."}
	_, srv := start(t, &app.Providers{Detector: detector, Explainer: explainer})
	conn := dial(t, srv, "frontend_1")

	env := bus.New(bus.TypeTranscription, map[string]any{
		"text": "today we rely on backpropagation to train every model we ship",
	})
	send(t, conn, env)

	immediate := readUntil(t, conn, bus.TypeDetectionImmediate)
	terms, _ := immediate.Payload["terms"].([]any)
	if len(terms) != 1 {
		t.Fatalf("immediate terms = %v, want 1 entry", immediate.Payload["terms"])
	}

	final := readUntil(t, conn, bus.TypeExplanationNew)
	expl, _ := final.Payload["explanation"].(map[string]any)
	if expl["term"] != "backpropagation" {
		t.Errorf("explained term = %v", expl["term"])
	}
	if expl["content"] != "Backpropagation is how neural networks learn from errors." {
		t.Errorf("content = %v", expl["content"])
	}
	if final.Origin != bus.OriginDelivery {
		t.Errorf("origin = %q", final.Origin)
	}
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	t.Parallel()

	_, srv := start(t, &app.Providers{
		Detector:  &llmmock.Provider{Response: "[]"},
		Explainer: &llmmock.Provider{Response: "unused"},
	})
	creator := dial(t, srv, "frontend_1")
	joiner := dial(t, srv, "frontend_2")

	send(t, creator, bus.New(bus.TypeSessionStart, nil))
	created := readUntil(t, creator, bus.TypeSessionCreated)
	code, _ := created.Payload["code"].(string)
	if code == "" {
		t.Fatal("session.created has no code")
	}

	send(t, joiner, bus.New(bus.TypeSessionJoin, map[string]any{"code": code}))
	joined := readUntil(t, joiner, bus.TypeSessionJoined)
	if joined.Payload["code"] != code {
		t.Errorf("joined code = %v, want %q", joined.Payload["code"], code)
	}
}

// findMetric returns the named metric from the collected batch, or false.
func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestMetricsRecordedAcrossPipeline(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	candidates, err := json.Marshal([]map[string]any{
		{"term": "quantization", "confidence": 0.2, "context": "model quantization"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, srv := start(t, &app.Providers{
		Detector:  &llmmock.Provider{Response: string(candidates)},
		Explainer: &llmmock.Provider{Response: "Quantization shrinks model weights to fewer bits."},
	}, app.WithMetrics(metrics))
	conn := dial(t, srv, "frontend_1")

	send(t, conn, bus.New(bus.TypeTranscription, map[string]any{
		"text": "the new release leans heavily on model quantization for speed",
	}))
	readUntil(t, conn, bus.TypeExplanationNew)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	for _, name := range []string{
		"lexhound.connected_clients",
		"lexhound.envelopes.routed",
		"lexhound.llm.requests",
		"lexhound.terms.detected",
		"lexhound.explanations.delivered",
		"lexhound.detection.duration",
		"lexhound.explanation.duration",
		"lexhound.pipeline.latency",
	} {
		if _, ok := findMetric(rm, name); !ok {
			t.Errorf("metric %q was not recorded during the pipeline run", name)
		}
	}

	clients, _ := findMetric(rm, "lexhound.connected_clients")
	if sum, ok := clients.Data.(metricdata.Sum[int64]); ok {
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total < 1 {
			t.Errorf("connected_clients total = %d, want >= 1 while dialed in", total)
		}
	}
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(testConfig(t), &app.Providers{}); err == nil {
		t.Error("New() accepted missing providers")
	}
}

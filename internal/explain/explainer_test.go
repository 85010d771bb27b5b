package explain_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/explain"
	"github.com/lexhound/lexhound/internal/filequeue"
	"github.com/lexhound/lexhound/internal/pipeline"
	"github.com/lexhound/lexhound/internal/settings"
	"github.com/lexhound/lexhound/pkg/provider/llm"
	llmmock "github.com/lexhound/lexhound/pkg/provider/llm/mock"
)

type fixture struct {
	worker       *explain.Explainer
	detections   *filequeue.Store[pipeline.Detection]
	explanations *filequeue.Store[pipeline.Explanation]
	trigger      *bus.Signal
	notify       *bus.Signal
}

func newFixture(t *testing.T, provider llm.Provider) *fixture {
	t.Helper()

	dir := t.TempDir()
	detections, err := filequeue.New[pipeline.Detection](filepath.Join(dir, "detections_queue.json"))
	if err != nil {
		t.Fatalf("filequeue.New() error: %v", err)
	}
	explanations, err := filequeue.New[pipeline.Explanation](filepath.Join(dir, "explanations_queue.json"))
	if err != nil {
		t.Fatalf("filequeue.New() error: %v", err)
	}
	trigger := bus.NewSignal()
	notify := bus.NewSignal()
	return &fixture{
		worker:       explain.New(detections, explanations, provider, settings.New(""), trigger, notify),
		detections:   detections,
		explanations: explanations,
		trigger:      trigger,
		notify:       notify,
	}
}

func pendingDetection(term string, ts float64) pipeline.Detection {
	return pipeline.Detection{
		ID:                gonanoid.Must(),
		Term:              term,
		Context:           "spoken context for " + term,
		Confidence:        0.3,
		Timestamp:         ts,
		ClientID:          "frontend_A",
		OriginalMessageID: gonanoid.Must(),
		Status:            pipeline.StatusPending,
	}
}

func TestProcessPendingHappyPath(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Response: "A short neutral explanation."}
	fx := newFixture(t, provider)

	det := pendingDetection("backpropagation", bus.Now())
	if err := fx.detections.Append(det); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}

	ready, err := fx.explanations.LoadByStatus(pipeline.StatusReadyForDelivery)
	if err != nil {
		t.Fatalf("LoadByStatus() error: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("ready explanations = %+v, want one", ready)
	}
	exp := ready[0]
	if exp.Term != "backpropagation" || exp.Explanation != "A short neutral explanation." {
		t.Errorf("explanation record = %+v", exp)
	}
	if exp.OriginalDetectionID != det.ID {
		t.Errorf("original_detection_id = %q, want %q", exp.OriginalDetectionID, det.ID)
	}
	if exp.MessageType != bus.TypeExplanationNew {
		t.Errorf("message_type = %q, want explanation.new", exp.MessageType)
	}

	processed, _ := fx.detections.LoadByStatus(pipeline.StatusProcessed)
	if len(processed) != 1 || processed[0].Explanation == "" {
		t.Errorf("processed detections = %+v, want one with explanation set", processed)
	}

	if fired, _ := fx.notify.Wait(context.Background(), 100*time.Millisecond); !fired {
		t.Error("delivery notify signal was not set")
	}
}

func TestProcessPendingOrdering(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Response: "ok"}
	fx := newFixture(t, provider)

	// Appended newest-first; processing must go oldest-first.
	fx.detections.Append(pendingDetection("second", 200))
	fx.detections.Append(pendingDetection("first", 100))

	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(calls))
	}
	if !strings.Contains(calls[0].Messages[1].Content, `"first"`) {
		t.Errorf("first call should explain the oldest record, got %q", calls[0].Messages[1].Content)
	}
}

func TestProcessPendingModelFailureMarksFailed(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Err: errors.New("timeout")}
	fx := newFixture(t, provider)
	fx.detections.Append(pendingDetection("gradient", bus.Now()))

	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}

	failed, _ := fx.detections.LoadByStatus(pipeline.StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("failed detections = %+v, want one", failed)
	}
	if failed[0].Error == "" {
		t.Error("failed record should carry a diagnostic")
	}
	if ready, _ := fx.explanations.LoadByStatus(pipeline.StatusReadyForDelivery); len(ready) != 0 {
		t.Errorf("no explanation expected, got %+v", ready)
	}
}

func TestRetryFailedEmitsRetryType(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Err: errors.New("down")}
	fx := newFixture(t, provider)
	fx.detections.Append(pendingDetection("tensor", bus.Now()))

	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}

	n, err := fx.worker.RetryFailed()
	if err != nil {
		t.Fatalf("RetryFailed() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("RetryFailed() = %d, want 1", n)
	}
	if fired, _ := fx.trigger.Wait(context.Background(), 100*time.Millisecond); !fired {
		t.Error("RetryFailed must wake the worker")
	}

	// Model recovered.
	provider.Err = nil
	provider.Response = "Recovered explanation."
	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}

	ready, _ := fx.explanations.LoadByStatus(pipeline.StatusReadyForDelivery)
	if len(ready) != 1 {
		t.Fatalf("ready explanations = %+v, want one", ready)
	}
	if ready[0].MessageType != bus.TypeExplanationRetry {
		t.Errorf("message_type = %q, want explanation.retry", ready[0].MessageType)
	}
}

func TestProcessPendingSkipsClaimedRecords(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Response: "ok"}
	fx := newFixture(t, provider)

	det := pendingDetection("latency", bus.Now())
	det.Status = pipeline.StatusProcessing
	fx.detections.Append(det)

	if err := fx.worker.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}
	if len(provider.Calls()) != 0 {
		t.Error("records already processing must not be re-explained")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &llmmock.Provider{Response: "ok"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

// Package explain implements the main-model worker: it claims pending
// detection records, asks the heavier language model for a short explanation,
// and appends the result to the explanations file queue for delivery.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/filequeue"
	"github.com/lexhound/lexhound/internal/pipeline"
	"github.com/lexhound/lexhound/internal/settings"
	"github.com/lexhound/lexhound/pkg/provider/llm"
)

const (
	// DefaultLLMTimeout bounds one explanation call.
	DefaultLLMTimeout = 30 * time.Second

	// DefaultPollInterval is the fallback between drains when the detector
	// trigger stays quiet.
	DefaultPollInterval = 5 * time.Second
)

// Option configures an Explainer.
type Option func(*Explainer)

// WithLLMTimeout overrides the explanation call timeout.
func WithLLMTimeout(d time.Duration) Option {
	return func(w *Explainer) { w.llmTimeout = d }
}

// WithPollInterval overrides the fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Explainer) { w.pollInterval = d }
}

// Explainer is the main-model worker. One instance per process; it is the
// sole writer of the explanations file and the sole pending→processing
// transitioner of the detections file.
type Explainer struct {
	detections   *filequeue.Store[pipeline.Detection]
	explanations *filequeue.Store[pipeline.Explanation]
	provider     llm.Provider
	settings     *settings.Store
	trigger      *bus.Signal
	notify       *bus.Signal
	llmTimeout   time.Duration
	pollInterval time.Duration
}

// New creates an Explainer. trigger is set by the detector after appending
// new records; notify wakes the delivery service after each explanation is
// written.
func New(detections *filequeue.Store[pipeline.Detection],
	explanations *filequeue.Store[pipeline.Explanation],
	provider llm.Provider, store *settings.Store,
	trigger, notify *bus.Signal, opts ...Option) *Explainer {
	w := &Explainer{
		detections:   detections,
		explanations: explanations,
		provider:     provider,
		settings:     store,
		trigger:      trigger,
		notify:       notify,
		llmTimeout:   DefaultLLMTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run alternates between draining pending detections and waiting on the
// detector trigger (with the poll interval as fallback) until ctx is
// cancelled.
func (w *Explainer) Run(ctx context.Context) error {
	slog.Info("explainer started")
	for {
		if err := w.ProcessPending(ctx); err != nil {
			slog.Error("explainer: drain failed, backing off", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
		if _, err := w.trigger.Wait(ctx, w.pollInterval); err != nil {
			slog.Info("explainer stopped")
			return nil
		}
	}
}

// ProcessPending explains every pending detection, oldest first (ties broken
// by record id). Cancellation is observed between records; an in-flight
// model call is aborted best-effort through its context.
func (w *Explainer) ProcessPending(ctx context.Context) error {
	pending, err := w.detections.LoadByStatus(pipeline.StatusPending)
	if err != nil {
		return err
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp < pending[j].Timestamp
		}
		return pending[i].ID < pending[j].ID
	})

	for _, det := range pending {
		if ctx.Err() != nil {
			return nil
		}

		var claimed pipeline.Detection
		ok, err := w.detections.Claim(det.ID, pipeline.StatusPending, func(d *pipeline.Detection) {
			d.Status = pipeline.StatusProcessing
			d.Attempts++
			claimed = *d
		})
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race or already handled; move on.
			continue
		}
		w.explainOne(ctx, claimed)
	}
	return nil
}

// explainOne runs the model call for one claimed detection and records the
// outcome in both files.
func (w *Explainer) explainOne(ctx context.Context, det pipeline.Detection) {
	callCtx, cancel := context.WithTimeout(ctx, w.llmTimeout)
	defer cancel()

	content, err := w.provider.Complete(callCtx, w.prompt(det))
	if err != nil {
		slog.Warn("explainer: model call failed", "term", det.Term, "error", err)
		w.markFailed(det.ID, err)
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		w.markFailed(det.ID, fmt.Errorf("model returned empty explanation"))
		return
	}

	messageType := bus.TypeExplanationNew
	if det.Attempts > 1 {
		messageType = bus.TypeExplanationRetry
	}
	rec := pipeline.Explanation{
		ID:                  gonanoid.Must(),
		Term:                det.Term,
		Explanation:         content,
		Context:             det.Context,
		Confidence:          det.Confidence,
		Timestamp:           bus.Now(),
		ClientID:            det.ClientID,
		UserSessionID:       det.UserSessionID,
		OriginalDetectionID: det.ID,
		Status:              pipeline.StatusReadyForDelivery,
		MessageType:         messageType,
		DetectedAt:          det.Timestamp,
	}
	if err := w.explanations.Append(rec); err != nil {
		slog.Error("explainer: append explanation failed", "term", det.Term, "error", err)
		w.markFailed(det.ID, err)
		return
	}
	w.notify.Set()

	_, err = w.detections.UpdateStatus([]string{det.ID}, func(d *pipeline.Detection) {
		d.Status = pipeline.StatusProcessed
		d.Explanation = content
		d.Error = ""
	})
	if err != nil {
		slog.Error("explainer: mark processed failed", "id", det.ID, "error", err)
	}
}

// markFailed records a diagnostic on the detection so an operator (or a
// retry command) can pick it up later.
func (w *Explainer) markFailed(id string, cause error) {
	_, err := w.detections.UpdateStatus([]string{id}, func(d *pipeline.Detection) {
		d.Status = pipeline.StatusFailed
		d.Error = cause.Error()
	})
	if err != nil {
		slog.Error("explainer: mark failed failed", "id", id, "error", err)
	}
}

// RetryFailed re-enqueues every failed detection as pending and wakes the
// worker. Retried records emit explanation.retry once explained. Returns the
// number of records re-enqueued.
func (w *Explainer) RetryFailed() (int, error) {
	failed, err := w.detections.LoadByStatus(pipeline.StatusFailed)
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		return 0, nil
	}
	ids := make([]string, len(failed))
	for i, det := range failed {
		ids[i] = det.ID
	}
	n, err := w.detections.UpdateStatus(ids, func(d *pipeline.Detection) {
		d.Status = pipeline.StatusPending
		d.Error = ""
	})
	if err != nil {
		return 0, err
	}
	w.trigger.Set()
	return n, nil
}

// prompt builds the two-turn chat requesting a short neutral explanation,
// shaped by the configured domain and audience style.
func (w *Explainer) prompt(det pipeline.Detection) []llm.Message {
	system := "You explain specialist terminology to a live audience. " +
		"Reply with one or two neutral sentences, no greetings, no markdown."
	if style := w.settings.ExplanationStyle(); style != "" {
		system += fmt.Sprintf(" Style: %s.", style)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Explain the term %q", det.Term)
	if domain := w.settings.Domain(); domain != "" {
		fmt.Fprintf(&user, " in the %s domain", domain)
	}
	if det.Context != "" {
		fmt.Fprintf(&user, ".\nIt was used in this context: %s", det.Context)
	}
	return []llm.Message{llm.System(system), llm.User(user.String())}
}

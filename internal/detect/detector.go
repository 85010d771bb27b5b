// Package detect implements the small-model worker: it consumes transcription
// envelopes, asks an extraction model for candidate jargon terms, filters
// them through threshold/stop-list/cooldown rules, emits immediate feedback
// to the frontends, and persists accepted detections for the explainer.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/filequeue"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/pipeline"
	"github.com/lexhound/lexhound/internal/settings"
	"github.com/lexhound/lexhound/internal/transcript"
	"github.com/lexhound/lexhound/pkg/provider/llm"
)

const (
	// minWordsPerUtterance gates out fragments that cannot contain enough
	// context for meaningful extraction.
	minWordsPerUtterance = 4

	// DefaultManualConfidence is assigned when the extraction model does not
	// return a confidence for a requested term.
	DefaultManualConfidence = 0.7

	// DefaultLLMTimeout bounds one extraction call.
	DefaultLLMTimeout = 20 * time.Second

	processorName = "term_detector"
)

// contaminationWords are tokens from the extraction prompt itself. A sentence
// dominated by them is almost certainly the model's own instructions echoed
// back through the microphone loop.
var contaminationWords = map[string]struct{}{
	"extract": {}, "confidence": {}, "json": {}, "array": {}, "format": {},
	"domain": {}, "technical": {}, "terms": {}, "term": {}, "response": {},
	"output": {}, "object": {}, "string": {},
}

// Option configures a Detector.
type Option func(*Detector)

// WithLLMTimeout overrides the extraction call timeout.
func WithLLMTimeout(d time.Duration) Option {
	return func(w *Detector) { w.llmTimeout = d }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Detector) { w.metrics = m }
}

// Detector is the small-model worker. Create one per process; the cooldown
// state in its Filter is instance-private.
type Detector struct {
	queue      *bus.Queue
	outgoing   *bus.Queue
	detections *filequeue.Store[pipeline.Detection]
	provider   llm.Provider
	settings   *settings.Store
	filter     *Filter
	trigger    *bus.Signal
	llmTimeout time.Duration
	metrics    *observe.Metrics
}

// New creates a Detector.
//
// queue is the worker's private inbox (fed by the router), outgoing receives
// the detection.immediate feedback envelopes, detections is the durable file
// queue read by the explainer, and trigger wakes the explainer after new
// records are appended.
func New(queue, outgoing *bus.Queue, detections *filequeue.Store[pipeline.Detection],
	provider llm.Provider, store *settings.Store, trigger *bus.Signal, opts ...Option) *Detector {
	w := &Detector{
		queue:      queue,
		outgoing:   outgoing,
		detections: detections,
		provider:   provider,
		settings:   store,
		filter:     NewFilter(store),
		trigger:    trigger,
		llmTimeout: DefaultLLMTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Filter exposes the worker's term filter, mainly for tests.
func (w *Detector) Filter() *Filter { return w.filter }

// Run consumes the worker's queue until ctx is cancelled.
func (w *Detector) Run(ctx context.Context) error {
	slog.Info("detector started")
	for {
		env, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("detector stopped")
				return nil
			}
			return err
		}

		env.AppendProcessing(processorName, "processing", "")
		switch env.Type {
		case bus.TypeTranscription:
			w.handleTranscription(ctx, env)
		case bus.TypeManualRequest:
			w.handleManualRequest(ctx, env)
		default:
			slog.Warn("detector: unexpected message type", "type", env.Type)
		}
		env.CompleteProcessing(processorName)
	}
}

// handleTranscription runs the full gate → extract → filter → persist path
// for one utterance.
func (w *Detector) handleTranscription(ctx context.Context, env *bus.Envelope) {
	text, _ := env.Payload["text"].(string)

	if reason, ok := gateInput(text); !ok {
		slog.Debug("detector: utterance gated", "reason", reason)
		return
	}
	if res := transcript.Check(text); res.Blocked {
		slog.Info("detector: hallucinated transcription dropped",
			"reason", res.Reason, "matches", res.Matches)
		return
	}

	candidates, source := w.extract(ctx, text)

	var accepted []Candidate
	for _, c := range candidates {
		ok, reason := w.filter.Evaluate(c.Term, c.Confidence)
		if !ok {
			w.metrics.RecordTermFiltered(ctx, reason)
			continue
		}
		if c.Context == "" {
			c.Context = text
		}
		accepted = append(accepted, c)
		w.metrics.RecordTermDetected(ctx, source)
	}
	if len(accepted) == 0 {
		return
	}

	w.emitImmediate(ctx, env, accepted)

	for _, c := range accepted {
		rec := pipeline.Detection{
			ID:                gonanoid.Must(),
			Term:              c.Term,
			Context:           c.Context,
			Confidence:        c.Confidence,
			Timestamp:         bus.Now(),
			ClientID:          env.ClientID,
			OriginalMessageID: env.ID,
			Status:            pipeline.StatusPending,
		}
		if err := w.detections.Append(rec); err != nil {
			slog.Error("detector: append detection failed", "term", c.Term, "error", err)
			continue
		}
	}
	w.trigger.Set()
}

// handleManualRequest processes an explicit user request for one term. The
// gate and filter are skipped: the user asked, so the term is explained.
func (w *Detector) handleManualRequest(ctx context.Context, env *bus.Envelope) {
	term, _ := env.Payload["term"].(string)
	termContext, _ := env.Payload["context"].(string)
	term = strings.TrimSpace(term)
	if term == "" {
		slog.Warn("detector: manual request without term", "message_id", env.ID)
		return
	}

	confidence := DefaultManualConfidence
	candidates, _ := w.extract(ctx, termContext+" "+term)
	for _, c := range candidates {
		if strings.EqualFold(c.Term, term) {
			confidence = c.Confidence
			break
		}
	}

	rec := pipeline.Detection{
		ID:                gonanoid.Must(),
		Term:              term,
		Context:           termContext,
		Confidence:        confidence,
		Timestamp:         bus.Now(),
		ClientID:          env.ClientID,
		OriginalMessageID: env.ID,
		Status:            pipeline.StatusPending,
	}
	if err := w.detections.Append(rec); err != nil {
		slog.Error("detector: append manual detection failed", "term", term, "error", err)
		return
	}
	w.metrics.RecordTermDetected(ctx, "manual")
	w.trigger.Set()
}

// extract asks the extraction model for candidates, falling back to the
// regex detector when the model is unreachable or unparsable. The second
// return value names the extraction source, "llm" or "fallback".
func (w *Detector) extract(ctx context.Context, text string) ([]Candidate, string) {
	callCtx, cancel := context.WithTimeout(ctx, w.llmTimeout)
	defer cancel()

	raw, err := w.provider.Complete(callCtx, []llm.Message{
		llm.User(w.extractionPrompt(text)),
	})
	if err != nil {
		slog.Warn("detector: extraction model failed, using regex fallback", "error", err)
		return FallbackDetect(text), "fallback"
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		if !errors.Is(err, ErrNoCandidates) {
			slog.Warn("detector: unparsable model response, using regex fallback", "error", err)
			return FallbackDetect(text), "fallback"
		}
		return nil, "llm"
	}
	return candidates, "llm"
}

// extractionPrompt builds the strict instruction for the extraction model.
// The response contract (raw JSON array only) is load-bearing: everything
// else the model says is stripped by ParseCandidates.
func (w *Detector) extractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Identify specialist or jargon terms in the following utterance")
	if domain := w.settings.Domain(); domain != "" {
		fmt.Fprintf(&b, " (domain: %s)", domain)
	}
	b.WriteString(".\n")
	b.WriteString("Respond with a raw JSON array only, no prose, no code fences. ")
	b.WriteString("Each element: {\"term\": string, \"confidence\": number 0-1, \"context\": string, \"timestamp\": number}. ")
	b.WriteString("Confidence measures how common the term is: 1.0 for everyday words, low values for specialist vocabulary. ")
	b.WriteString("Return [] when nothing qualifies.\n\nUtterance: ")
	b.WriteString(text)
	return b.String()
}

// emitImmediate pushes the loading placeholder so the UI can render accepted
// terms before their explanations exist.
func (w *Detector) emitImmediate(ctx context.Context, src *bus.Envelope, accepted []Candidate) {
	terms := make([]map[string]any, 0, len(accepted))
	for _, c := range accepted {
		terms = append(terms, map[string]any{
			"term":       c.Term,
			"confidence": c.Confidence,
			"context":    c.Context,
			"status":     "loading",
		})
	}

	out := bus.New(bus.TypeDetectionImmediate, map[string]any{
		"terms":               terms,
		"original_message_id": src.ID,
	})
	out.Origin = processorName
	out.Destination = bus.DestAllFrontends
	out.ClientID = src.ClientID

	if err := w.outgoing.Enqueue(ctx, out); err != nil {
		slog.Warn("detector: enqueue immediate feedback failed", "error", err)
	}
}

// gateInput applies the pre-extraction checks: empty input, too few words,
// prompt contamination, and single-token repetition. Returns a diagnostic
// reason when the utterance is rejected.
func gateInput(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "empty", false
	}

	words := strings.Fields(trimmed)
	if len(words) < minWordsPerUtterance {
		return "too short", false
	}

	var meaningful []string
	for _, word := range words {
		word = strings.ToLower(strings.Trim(word, ".,!?;:'\"()[]"))
		if len(word) > 2 {
			meaningful = append(meaningful, word)
		}
	}
	if len(meaningful) == 0 {
		return "no meaningful tokens", false
	}

	contaminated := 0
	distinct := make(map[string]struct{}, len(meaningful))
	for _, word := range meaningful {
		if _, ok := contaminationWords[word]; ok {
			contaminated++
		}
		distinct[word] = struct{}{}
	}
	if contaminated*2 > len(meaningful) {
		return "prompt contamination", false
	}
	if len(distinct) == 1 && len(meaningful) > 1 {
		return "repetition", false
	}
	return "", true
}

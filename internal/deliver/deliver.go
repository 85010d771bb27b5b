// Package deliver implements the explanation delivery service: it watches
// the explanations file queue and pushes ready records onto the outgoing bus
// exactly once per process lifetime.
package deliver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/filequeue"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/pipeline"
)

// DefaultWaitTimeout is the fallback between drains when the explainer
// signal stays quiet.
const DefaultWaitTimeout = 5 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithWaitTimeout overrides the fallback wait between drains.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Service) { s.waitTimeout = d }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service drains ready_for_delivery explanation records to the outgoing
// queue as all_frontends broadcasts. An in-memory id set guarantees
// at-most-once delivery per record within one process lifetime, even if a
// file update is interrupted mid-batch.
type Service struct {
	explanations *filequeue.Store[pipeline.Explanation]
	outgoing     *bus.Queue
	notify       *bus.Signal
	waitTimeout  time.Duration
	metrics      *observe.Metrics

	mu        sync.Mutex
	delivered map[string]struct{}
}

// New creates a delivery Service. notify is set by the explainer after each
// write to the explanations file.
func New(explanations *filequeue.Store[pipeline.Explanation], outgoing *bus.Queue,
	notify *bus.Signal, opts ...Option) *Service {
	s := &Service{
		explanations: explanations,
		outgoing:     outgoing,
		notify:       notify,
		waitTimeout:  DefaultWaitTimeout,
		delivered:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run alternates between draining ready records and waiting on the explainer
// signal (bounded by the wait timeout) until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("delivery service started")
	for {
		if err := s.Drain(ctx); err != nil {
			slog.Error("delivery: drain failed, backing off", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
		if _, err := s.notify.Wait(ctx, s.waitTimeout); err != nil {
			slog.Info("delivery service stopped")
			return nil
		}
	}
}

// Drain loads every ready_for_delivery record, enqueues an envelope per
// record not yet delivered in this session, and batch-updates the drained
// records to delivered.
func (s *Service) Drain(ctx context.Context) error {
	ready, err := s.explanations.LoadByStatus(pipeline.StatusReadyForDelivery)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}

	var sent []string
	for _, rec := range ready {
		if s.alreadyDelivered(rec.ID) {
			// Delivered earlier but the status update did not stick;
			// just repair the file this round.
			sent = append(sent, rec.ID)
			continue
		}

		env := s.envelope(rec)
		if err := s.outgoing.Enqueue(ctx, env); err != nil {
			// Cancellation mid-batch; records not yet sent stay ready.
			break
		}
		s.markDelivered(rec.ID)
		sent = append(sent, rec.ID)

		s.metrics.ExplanationsDelivered.Add(ctx, 1)
		if rec.DetectedAt > 0 {
			s.metrics.PipelineLatency.Record(ctx, bus.Now()-rec.DetectedAt)
		}
	}
	if len(sent) == 0 {
		return nil
	}

	deliveredAt := bus.Now()
	_, err = s.explanations.UpdateStatus(sent, func(e *pipeline.Explanation) {
		e.Status = pipeline.StatusDelivered
		e.DeliveredAt = deliveredAt
	})
	return err
}

// envelope builds the broadcast envelope for one explanation record.
func (s *Service) envelope(rec pipeline.Explanation) *bus.Envelope {
	messageType := rec.MessageType
	if messageType == "" {
		messageType = bus.TypeExplanationNew
	}
	env := bus.New(messageType, map[string]any{
		"explanation": map[string]any{
			"id":                    rec.ID,
			"term":                  rec.Term,
			"content":               rec.Explanation,
			"context":               rec.Context,
			"confidence":            rec.Confidence,
			"original_detection_id": rec.OriginalDetectionID,
		},
	})
	env.Origin = bus.OriginDelivery
	env.Destination = bus.DestAllFrontends
	env.ClientID = rec.ClientID
	return env
}

func (s *Service) alreadyDelivered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.delivered[id]
	return ok
}

func (s *Service) markDelivered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[id] = struct{}{}
}

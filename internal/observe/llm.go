package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lexhound/lexhound/pkg/provider/llm"
)

// instrumentedProvider decorates an llm.Provider with request, error, and
// latency metrics. The wrapped provider stays the single source of truth for
// behaviour; this layer only observes.
type instrumentedProvider struct {
	next     llm.Provider
	metrics  *Metrics
	provider string
	role     string
	duration metric.Float64Histogram
}

var _ llm.Provider = (*instrumentedProvider)(nil)

// InstrumentLLM wraps next so every Complete call records into duration,
// [Metrics.LLMRequests], and [Metrics.LLMErrors] with the given provider and
// role attributes. Pass [Metrics.DetectionDuration] for the detector role and
// [Metrics.ExplanationDuration] for the explainer.
func (m *Metrics) InstrumentLLM(next llm.Provider, provider, role string, duration metric.Float64Histogram) llm.Provider {
	return &instrumentedProvider{
		next:     next,
		metrics:  m,
		provider: provider,
		role:     role,
		duration: duration,
	}
}

// Complete implements llm.Provider.
func (p *instrumentedProvider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	start := time.Now()
	out, err := p.next.Complete(ctx, messages)
	p.duration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		p.metrics.RecordLLMRequest(ctx, p.provider, p.role, "error")
		p.metrics.RecordLLMError(ctx, p.provider, p.role)
		return out, err
	}
	p.metrics.RecordLLMRequest(ctx, p.provider, p.role, "success")
	return out, nil
}

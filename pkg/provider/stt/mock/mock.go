// Package mock provides a scriptable stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lexhound/lexhound/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Call records one Transcribe invocation.
type Call struct {
	Samples    []float32
	SampleRate int
}

// Transcriber is a scriptable stt.Transcriber. Set either Text/Err for a
// fixed answer or TranscribeFunc for per-call behaviour. Zero value returns
// an empty string.
type Transcriber struct {
	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	// Err is returned by Transcribe when TranscribeFunc is nil.
	Err error

	// TranscribeFunc overrides the fixed Text/Err pair when set.
	TranscribeFunc func(ctx context.Context, samples []float32, sampleRate int) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	recorded := make([]float32, len(samples))
	copy(recorded, samples)
	m.calls = append(m.calls, Call{Samples: recorded, SampleRate: sampleRate})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate)
	}
	return m.Text, m.Err
}

// Calls returns a copy of every recorded invocation.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

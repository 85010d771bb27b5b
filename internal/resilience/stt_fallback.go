package resilience

import (
	"context"

	"github.com/lexhound/lexhound/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech recognition backends.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, transcriber stt.Transcriber) {
	f.group.AddFallback(name, transcriber)
}

// Transcribe submits the utterance to the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, samples, sampleRate)
	})
}

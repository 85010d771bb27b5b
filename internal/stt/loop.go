package stt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/observe"
	"github.com/lexhound/lexhound/internal/transcript"
	"github.com/lexhound/lexhound/pkg/audio"
	sttprovider "github.com/lexhound/lexhound/pkg/provider/stt"
)

// SampleRate is the fixed capture rate of the loop.
const SampleRate = 16000

// trailingFlushThreshold is the minimum unprocessed tail after streaming
// that justifies one full-utterance transcription at flush time.
const trailingFlushThreshold = 500 * time.Millisecond

// State is the VAD state machine position.
type State int

const (
	// StateIdle means no speech is being captured.
	StateIdle State = iota

	// StateSpeaking means an utterance is being buffered.
	StateSpeaking

	// StateFlushing means silence ended the utterance and the final
	// transcription is being produced.
	StateFlushing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Sender delivers envelopes to the gateway. Implemented by [Client]; tests
// substitute a recorder.
type Sender interface {
	Send(ctx context.Context, env *bus.Envelope) error
	Connected() bool
}

// Loop is the VAD state machine. Feed it frames via [Loop.ProcessFrame] or
// let [Loop.Run] drain a frame channel. Not safe for concurrent ProcessFrame
// calls; one capture source owns the loop.
type Loop struct {
	profile     Profile
	transcriber sttprovider.Transcriber
	sender      Sender
	clientID    string

	state     State
	ring      *audio.Ring
	utterance []float32

	// silenceElapsed accumulates consecutive sub-threshold audio while
	// speaking.
	silenceElapsed time.Duration

	// chunkMark is the utterance offset (in samples) already covered by
	// interim transcription, minus overlap.
	chunkMark int

	// interim transcriptions run off the frame path; flush waits for them.
	interimWG sync.WaitGroup
	partialMu sync.Mutex
	partials  []string

	// emitMu guards lastEmit: emit runs on interim goroutines while the Run
	// goroutine reads it for heartbeat pacing.
	emitMu   sync.Mutex
	lastEmit time.Time

	metrics *observe.Metrics
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopMetrics overrides the metrics instance used for transcription
// latency recording.
func WithLoopMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates a Loop using the given profile.
func NewLoop(profile Profile, transcriber sttprovider.Transcriber, sender Sender, clientID string, opts ...LoopOption) *Loop {
	l := &Loop{
		profile:     profile,
		transcriber: transcriber,
		sender:      sender,
		clientID:    clientID,
		ring:        audio.NewRing(int(profile.VADBufferDuration.Seconds() * SampleRate)),
		lastEmit:    time.Now(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// State returns the current machine state.
func (l *Loop) State() State { return l.state }

// Run announces the client, then drains frames until the channel closes or
// ctx is cancelled, emitting heartbeats during quiet periods.
func (l *Loop) Run(ctx context.Context, frames <-chan audio.Frame) error {
	l.sendInit(ctx)

	ticker := time.NewTicker(l.profile.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				l.interimWG.Wait()
				return nil
			}
			l.ProcessFrame(ctx, frame)

		case <-ticker.C:
			l.maybeHeartbeat(ctx)

		case <-ctx.Done():
			l.interimWG.Wait()
			return nil
		}
	}
}

// ProcessFrame advances the state machine by one frame.
func (l *Loop) ProcessFrame(ctx context.Context, frame audio.Frame) {
	energy := audio.RMS(frame.Samples)

	switch l.state {
	case StateIdle:
		l.ring.Write(frame.Samples)
		if energy > l.profile.VADEnergyThreshold {
			// Seed the utterance with the pre-roll so the first word is
			// not clipped.
			l.utterance = append(l.ring.Snapshot(), frame.Samples...)
			l.ring.Reset()
			l.silenceElapsed = 0
			l.chunkMark = 0
			l.state = StateSpeaking
			slog.Debug("speech onset", "energy", energy)
		}

	case StateSpeaking:
		l.utterance = append(l.utterance, frame.Samples...)

		if energy < l.profile.VADEnergyThreshold {
			l.silenceElapsed += frame.Duration()
			if l.silenceElapsed >= l.profile.VADSilenceDuration {
				l.state = StateFlushing
				l.flush(ctx)
				return
			}
		} else {
			l.silenceElapsed = 0
		}

		l.maybeStreamChunk(ctx)
	}
}

// maybeStreamChunk starts a background interim transcription when enough new
// audio has accumulated since the last chunk.
func (l *Loop) maybeStreamChunk(ctx context.Context) {
	if samplesToDuration(len(l.utterance)) < l.profile.StreamingMinBuffer {
		return
	}
	newSamples := len(l.utterance) - l.chunkMark
	if samplesToDuration(newSamples) < l.profile.StreamingChunkDuration {
		return
	}

	start := l.chunkMark - durationToSamples(l.profile.StreamingOverlap)
	if start < 0 {
		start = 0
	}
	chunk := make([]float32, len(l.utterance)-start)
	copy(chunk, l.utterance[start:])
	l.chunkMark = len(l.utterance)

	l.interimWG.Add(1)
	go func() {
		defer l.interimWG.Done()
		text, err := l.transcribe(ctx, chunk)
		if err != nil {
			slog.Warn("interim transcription failed", "error", err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}

		l.partialMu.Lock()
		l.partials = append(l.partials, text)
		l.partialMu.Unlock()

		l.emit(ctx, bus.TypeTranscriptionInterim, text)
	}()
}

// flush finalises the utterance: wait for in-flight interims, consolidate or
// re-transcribe, filter, emit, and return to idle.
func (l *Loop) flush(ctx context.Context) {
	l.interimWG.Wait()

	l.partialMu.Lock()
	partials := l.partials
	l.partials = nil
	l.partialMu.Unlock()

	var text string
	trailing := samplesToDuration(len(l.utterance) - l.chunkMark)
	switch {
	case len(partials) == 0 || trailing > trailingFlushThreshold:
		// No streaming happened, or a meaningful tail was never covered;
		// one pass over the whole utterance beats stitching.
		full, err := l.transcribe(ctx, l.utterance)
		if err != nil {
			slog.Warn("final transcription failed", "error", err)
			text = strings.Join(partials, " ")
		} else {
			text = strings.TrimSpace(full)
		}
	default:
		text = strings.Join(partials, " ")
	}

	l.utterance = nil
	l.chunkMark = 0
	l.silenceElapsed = 0
	l.state = StateIdle

	if text == "" {
		return
	}
	if res := transcript.Check(text); res.Blocked {
		slog.Info("hallucinated transcription suppressed", "reason", res.Reason)
		return
	}
	if wordCount(text) < l.profile.MinWordsPerSentence {
		slog.Debug("final transcription below word minimum", "text", text)
		return
	}
	l.emit(ctx, bus.TypeTranscription, text)
}

// transcribe runs one model call, recording its latency.
func (l *Loop) transcribe(ctx context.Context, samples []float32) (string, error) {
	start := time.Now()
	text, err := l.transcriber.Transcribe(ctx, samples, SampleRate)
	l.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	return text, err
}

// emit sends one transcription envelope through the sender.
func (l *Loop) emit(ctx context.Context, msgType, text string) {
	env := bus.New(msgType, map[string]any{"text": text})
	env.Origin = bus.OriginSTT
	env.ClientID = l.clientID

	if err := l.sender.Send(ctx, env); err != nil {
		slog.Warn("transcription send failed", "type", msgType, "error", err)
		return
	}
	l.touchEmit()
}

func (l *Loop) touchEmit() {
	l.emitMu.Lock()
	l.lastEmit = time.Now()
	l.emitMu.Unlock()
}

func (l *Loop) sinceEmit() time.Duration {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	return time.Since(l.lastEmit)
}

// sendInit announces the client and its profile to the router.
func (l *Loop) sendInit(ctx context.Context) {
	env := bus.New(bus.TypeSTTInit, map[string]any{
		"profile":     l.profile.Name,
		"model_size":  l.profile.ModelSize,
		"sample_rate": SampleRate,
	})
	env.Origin = bus.OriginSTT
	env.ClientID = l.clientID
	if err := l.sender.Send(ctx, env); err != nil {
		slog.Warn("stt init send failed", "error", err)
	}
}

// maybeHeartbeat emits a heartbeat when the loop has been quiet for a full
// interval. Skipped silently while disconnected; the reconnecting client
// buffers nothing for liveness messages.
func (l *Loop) maybeHeartbeat(ctx context.Context) {
	if l.sinceEmit() < l.profile.HeartbeatInterval {
		return
	}
	if !l.sender.Connected() {
		return
	}
	env := bus.New(bus.TypeHeartbeat, map[string]any{"timestamp": bus.Now()})
	env.Origin = bus.OriginSTT
	env.ClientID = l.clientID
	if err := l.sender.Send(ctx, env); err != nil {
		slog.Debug("heartbeat send failed", "error", err)
		return
	}
	l.touchEmit()
}

func samplesToDuration(n int) time.Duration {
	return time.Duration(float64(n) / SampleRate * float64(time.Second))
}

func durationToSamples(d time.Duration) int {
	return int(d.Seconds() * SampleRate)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

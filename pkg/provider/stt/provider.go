// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The streaming transcription loop segments audio itself (energy-based VAD),
// so the backend contract is batch-shaped: one utterance of PCM samples in,
// one text result out. Implementations must be safe for concurrent use and
// must honour context cancellation.
package stt

import "context"

// Transcriber converts one utterance of audio into text.
type Transcriber interface {
	// Transcribe submits the samples (mono float32 in [-1, 1] at sampleRate
	// Hz) and returns the recognised text, which may be empty when the
	// audio contains no speech.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

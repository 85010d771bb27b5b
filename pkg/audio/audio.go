// Package audio provides the frame type and sample-level helpers used by the
// streaming transcription loop: energy measurement for voice activity
// detection and a pre-roll ring buffer that preserves the audio immediately
// before speech onset.
package audio

import (
	"math"
	"time"
)

// Frame represents a single chunk of captured audio flowing through the
// transcription loop. Frames are the atomic unit of transport between the
// capture source and the VAD state machine.
type Frame struct {
	// Samples holds mono PCM in [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for speech recognition).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / float64(f.SampleRate) * float64(time.Second))
}

// RMS computes the root-mean-square energy of the samples. Silence is near
// zero; typical speech at normal microphone gain lands around 0.01 to 0.1.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

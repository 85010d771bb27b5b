// Package stt implements the streaming transcription loop: a voice-activity
// state machine over 16 kHz mono audio frames that emits interim and final
// transcription envelopes plus liveness heartbeats through a reconnecting
// gateway client.
package stt

import (
	"log/slog"
	"os"
	"time"
)

// EnvProfile selects the transcription profile at startup.
const EnvProfile = "LEXHOUND_STT_PROFILE"

// DefaultProfileName is used when the environment names no (or an unknown)
// profile.
const DefaultProfileName = "current_default"

// Profile bundles the VAD and streaming parameters plus the model size used
// by one tuning preset.
type Profile struct {
	Name string

	// VADEnergyThreshold is the RMS level separating speech from silence.
	VADEnergyThreshold float64

	// VADSilenceDuration is how long energy must stay below the threshold
	// before an utterance is considered finished.
	VADSilenceDuration time.Duration

	// VADBufferDuration is the pre-roll of silence kept while idle and
	// prepended to the utterance at speech onset.
	VADBufferDuration time.Duration

	// MinWordsPerSentence gates final emissions.
	MinWordsPerSentence int

	// StreamingChunkDuration is the cadence of interim transcriptions while
	// speech continues.
	StreamingChunkDuration time.Duration

	// StreamingOverlap is re-transcribed at each chunk boundary so words
	// split across chunks are not lost.
	StreamingOverlap time.Duration

	// StreamingMinBuffer is the minimum buffered speech before interim
	// transcription starts.
	StreamingMinBuffer time.Duration

	// HeartbeatInterval bounds the quiet period before an stt.heartbeat is
	// emitted.
	HeartbeatInterval time.Duration

	// ModelSize names the whisper model preset for this profile.
	ModelSize string
}

var profiles = map[string]Profile{
	"ultra_responsive": {
		Name:                   "ultra_responsive",
		VADEnergyThreshold:     0.003,
		VADSilenceDuration:     600 * time.Millisecond,
		VADBufferDuration:      300 * time.Millisecond,
		MinWordsPerSentence:    1,
		StreamingChunkDuration: 1500 * time.Millisecond,
		StreamingOverlap:       300 * time.Millisecond,
		StreamingMinBuffer:     time.Second,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "tiny",
	},
	"balanced_fast": {
		Name:                   "balanced_fast",
		VADEnergyThreshold:     0.004,
		VADSilenceDuration:     800 * time.Millisecond,
		VADBufferDuration:      400 * time.Millisecond,
		MinWordsPerSentence:    1,
		StreamingChunkDuration: 2 * time.Second,
		StreamingOverlap:       400 * time.Millisecond,
		StreamingMinBuffer:     1500 * time.Millisecond,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "base",
	},
	"optimized_default": {
		Name:                   "optimized_default",
		VADEnergyThreshold:     0.004,
		VADSilenceDuration:     time.Second,
		VADBufferDuration:      500 * time.Millisecond,
		MinWordsPerSentence:    1,
		StreamingChunkDuration: 2500 * time.Millisecond,
		StreamingOverlap:       500 * time.Millisecond,
		StreamingMinBuffer:     2 * time.Second,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "base",
	},
	DefaultProfileName: {
		Name:                   DefaultProfileName,
		VADEnergyThreshold:     0.004,
		VADSilenceDuration:     time.Second,
		VADBufferDuration:      500 * time.Millisecond,
		MinWordsPerSentence:    1,
		StreamingChunkDuration: 3 * time.Second,
		StreamingOverlap:       500 * time.Millisecond,
		StreamingMinBuffer:     2 * time.Second,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "small",
	},
	"high_accuracy": {
		Name:                   "high_accuracy",
		VADEnergyThreshold:     0.005,
		VADSilenceDuration:     1500 * time.Millisecond,
		VADBufferDuration:      700 * time.Millisecond,
		MinWordsPerSentence:    2,
		StreamingChunkDuration: 4 * time.Second,
		StreamingOverlap:       700 * time.Millisecond,
		StreamingMinBuffer:     3 * time.Second,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "medium",
	},
	"streaming_optimized": {
		Name:                   "streaming_optimized",
		VADEnergyThreshold:     0.004,
		VADSilenceDuration:     900 * time.Millisecond,
		VADBufferDuration:      500 * time.Millisecond,
		MinWordsPerSentence:    1,
		StreamingChunkDuration: 2 * time.Second,
		StreamingOverlap:       600 * time.Millisecond,
		StreamingMinBuffer:     1500 * time.Millisecond,
		HeartbeatInterval:      5 * time.Second,
		ModelSize:              "base",
	},
}

// ProfileByName returns the named profile.
func ProfileByName(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames returns every known profile name.
func ProfileNames() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	return out
}

// LoadProfile resolves the active profile from the environment, falling back
// to current_default when the variable is unset or names an unknown profile.
func LoadProfile() Profile {
	name := os.Getenv(EnvProfile)
	if name == "" {
		return profiles[DefaultProfileName]
	}
	p, ok := profiles[name]
	if !ok {
		slog.Warn("unknown transcription profile, using default",
			"requested", name, "default", DefaultProfileName)
		return profiles[DefaultProfileName]
	}
	return p
}

package audio

import "sync"

// Ring is a fixed-capacity sample buffer that keeps the most recent samples
// written to it. The transcription loop feeds every captured frame through a
// Ring so that when speech onset is detected, the audio from just before the
// energy threshold was crossed can be prepended to the utterance instead of
// being lost.
//
// Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []float32
	start int // index of the oldest sample
	size  int // number of valid samples
}

// NewRing creates a Ring holding at most capacity samples. A capacity of
// seconds*sampleRate keeps that much pre-roll audio.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Write appends samples, evicting the oldest when the ring is full.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the tail fits anyway; skip everything older.
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.start = 0
		r.size = len(r.buf)
		return
	}

	for _, s := range samples {
		idx := (r.start + r.size) % len(r.buf)
		r.buf[idx] = s
		if r.size < len(r.buf) {
			r.size++
		} else {
			r.start = (r.start + 1) % len(r.buf)
		}
	}
}

// Snapshot returns the buffered samples in capture order, oldest first.
func (r *Ring) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.size)
	for i := range r.size {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Reset discards all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.size = 0
}

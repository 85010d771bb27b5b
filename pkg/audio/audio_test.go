package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/lexhound/lexhound/pkg/audio"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(make([]float32, 160)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// A constant signal of amplitude a has RMS a.
	constant := make([]float32, 160)
	for i := range constant {
		constant[i] = 0.5
	}
	if got := audio.RMS(constant); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RMS(constant 0.5) = %v, want 0.5", got)
	}

	// A full-scale sine has RMS 1/sqrt(2).
	sine := make([]float32, 16000)
	for i := range sine {
		sine[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}
	if got := audio.RMS(sine); math.Abs(got-1/math.Sqrt2) > 1e-3 {
		t.Errorf("RMS(sine) = %v, want %v", got, 1/math.Sqrt2)
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: make([]float32, 8000), SampleRate: 16000}
	if got := f.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", got)
	}
	if got := (audio.Frame{}).Duration(); got != 0 {
		t.Errorf("zero frame Duration() = %v, want 0", got)
	}
}

func TestRingKeepsMostRecent(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(4)
	r.Write([]float32{1, 2})
	if got := r.Snapshot(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Snapshot() = %v, want [1 2]", got)
	}

	r.Write([]float32{3, 4, 5})
	got := r.Snapshot()
	want := []float32{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}

func TestRingWriteLargerThanCapacity(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(3)
	r.Write([]float32{1, 2, 3, 4, 5, 6, 7})
	got := r.Snapshot()
	want := []float32{5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}

func TestRingReset(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	r.Write([]float32{1, 2, 3})
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", r.Len())
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() after Reset = %v, want empty", got)
	}
}

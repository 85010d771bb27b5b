package bus

import (
	"context"
	"time"
)

// Signal is a one-bit level-triggered event used to wake a worker loop.
// Setting an already-set signal is a no-op, so a burst of triggers collapses
// into a single wake-up. This keeps producer/consumer ownership acyclic:
// upstream workers set the bit instead of calling downstream code.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Set raises the signal. Never blocks.
func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is set, the timeout elapses, or ctx is
// cancelled. It reports true when woken by Set and clears the bit.
// A timeout <= 0 waits on the signal and context alone.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case <-s.ch:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

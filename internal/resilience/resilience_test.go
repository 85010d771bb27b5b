package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexhound/lexhound/internal/resilience"
	"github.com/lexhound/lexhound/pkg/provider/llm"
	llmmock "github.com/lexhound/lexhound/pkg/provider/llm/mock"
	sttmock "github.com/lexhound/lexhound/pkg/provider/stt/mock"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	for range 3 {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Execute() = %v, want errBoom", err)
		}
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn was called while the breaker was open")
	}
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	if cb.State() != resilience.StateClosed {
		t.Errorf("State() = %v, want closed (counter should reset on success)", cb.State())
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})

	cb.Execute(func() error { return errBoom })
	if cb.State() != resilience.StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("State() = %v, want half-open after reset timeout", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("State() = %v, want closed after successful probe", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})

	cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)
	cb.Execute(func() error { return errBoom })
	if cb.State() != resilience.StateOpen {
		t.Errorf("State() = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	cb.Execute(func() error { return errBoom })
	cb.Reset()
	if cb.State() != resilience.StateClosed {
		t.Errorf("State() after Reset = %v, want closed", cb.State())
	}
}

func TestLLMFallbackUsesSecondaryWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errBoom}
	secondary := &llmmock.Provider{Response: "from secondary"}

	f := resilience.NewLLMFallback(primary, "primary", resilience.FallbackConfig{})
	f.AddFallback("secondary", secondary)

	got, err := f.Complete(context.Background(), []llm.Message{llm.User("hi")})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "from secondary" {
		t.Errorf("Complete() = %q, want %q", got, "from secondary")
	}
	if len(primary.Calls()) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.Calls()))
	}
}

func TestLLMFallbackAllFailed(t *testing.T) {
	t.Parallel()

	f := resilience.NewLLMFallback(&llmmock.Provider{Err: errBoom}, "only", resilience.FallbackConfig{})
	_, err := f.Complete(context.Background(), []llm.Message{llm.User("hi")})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("Complete() = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallbackSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errBoom}
	secondary := &llmmock.Provider{Response: "ok"}

	f := resilience.NewLLMFallback(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
		},
	})
	f.AddFallback("secondary", secondary)

	for range 3 {
		if _, err := f.Complete(context.Background(), []llm.Message{llm.User("hi")}); err != nil {
			t.Fatalf("Complete() error: %v", err)
		}
	}
	// First call trips the primary's breaker; later calls must skip it.
	if got := len(primary.Calls()); got != 1 {
		t.Errorf("primary calls = %d, want 1 (breaker should skip it)", got)
	}
	if got := len(secondary.Calls()); got != 3 {
		t.Errorf("secondary calls = %d, want 3", got)
	}
}

func TestSTTFallback(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: errBoom}
	secondary := &sttmock.Transcriber{Text: "hello"}

	f := resilience.NewSTTFallback(primary, "primary", resilience.FallbackConfig{})
	f.AddFallback("secondary", secondary)

	got, err := f.Transcribe(context.Background(), []float32{0.1}, 16000)
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if got != "hello" {
		t.Errorf("Transcribe() = %q, want %q", got, "hello")
	}
}

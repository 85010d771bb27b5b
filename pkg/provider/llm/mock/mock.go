// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lexhound/lexhound/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Call records one Complete invocation.
type Call struct {
	Messages []llm.Message
}

// Provider is a scriptable llm.Provider. Set either Response/Err for a
// fixed answer or CompleteFunc for per-call behaviour. Zero value returns
// an empty string.
type Provider struct {
	// Response is returned by Complete when CompleteFunc is nil.
	Response string

	// Err is returned by Complete when CompleteFunc is nil.
	Err error

	// CompleteFunc overrides the fixed Response/Err pair when set.
	CompleteFunc func(ctx context.Context, messages []llm.Message) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Messages: messages})
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, messages)
	}
	return p.Response, p.Err
}

// Calls returns a copy of every recorded invocation.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

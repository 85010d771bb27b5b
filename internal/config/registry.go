package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lexhound/lexhound/pkg/provider/llm"
	"github.com/lexhound/lexhound/pkg/provider/llm/anyllm"
	"github.com/lexhound/lexhound/pkg/provider/llm/ollamachat"
	"github.com/lexhound/lexhound/pkg/provider/stt"
	"github.com/lexhound/lexhound/pkg/provider/stt/whisper"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds an [llm.Provider] from one config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// STTFactory builds an [stt.Transcriber] from the transcription settings.
type STTFactory func(STTConfig) (stt.Transcriber, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]LLMFactory
	stt map[string]STTFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]LLMFactory),
		stt: make(map[string]STTFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateLLM builds an LLM provider from entry using the registered factory.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Provider)
	}
	return factory(entry)
}

// CreateSTT builds a transcriber from cfg using the factory registered under
// name.
func (r *Registry) CreateSTT(name string, cfg STTConfig) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// DefaultRegistry returns a [Registry] with every built-in provider
// registered. The "ollama" name uses the native /api/chat client; the
// remaining names go through the any-llm-go bridge.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("ollama", func(entry ProviderEntry) (llm.Provider, error) {
		return ollamachat.New(entry.BaseURL, entry.Model)
	})

	for _, name := range []string{"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		r.RegisterLLM(name, anyLLMFactory(name))
	}

	r.RegisterSTT("whisper", func(cfg STTConfig) (stt.Transcriber, error) {
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(cfg.BaseURL, opts...)
	})

	return r
}

// anyLLMFactory adapts one any-llm-go backend to the [LLMFactory] signature.
func anyLLMFactory(name string) LLMFactory {
	return func(entry ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(name, entry.Model, opts...)
	}
}

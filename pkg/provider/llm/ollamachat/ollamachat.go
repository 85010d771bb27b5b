// Package ollamachat implements llm.Provider against an Ollama-style local
// chat endpoint.
//
// The request is POST {base_url} with body
//
//	{"model": ..., "messages": [{"role": ..., "content": ...}], "stream": false}
//
// and the expected response is {"message": {"content": "..."}}. Some server
// builds ignore stream=false and answer with NDJSON; the parser falls back
// to scanning the body line by line and concatenating each object's
// "response" or "message.content" field, so either shape yields the full
// reply text.
//
// Usage:
//
//	p, err := ollamachat.New("http://localhost:11434/api/chat", "llama3.2",
//	    ollamachat.WithTimeout(30*time.Second),
//	)
//	reply, err := p.Complete(ctx, []llm.Message{llm.User("...")})
package ollamachat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexhound/lexhound/pkg/provider/llm"
)

const (
	defaultTimeout = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read. A local
	// model that loops can otherwise produce unbounded output.
	maxResponseBytes = 4 << 20
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider is an llm.Provider backed by an Ollama-style chat endpoint.
type Provider struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// New creates a Provider for the chat endpoint URL and model name.
func New(endpoint, model string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ollamachat: endpoint must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("ollamachat: model must not be empty")
	}
	p := &Provider{
		endpoint: endpoint,
		model:    model,
		timeout:  defaultTimeout,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// chatRequest is the wire request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse covers both the single-object and the NDJSON-chunk shapes.
type chatResponse struct {
	Message  *chatMessage `json:"message"`
	Response string       `json:"response"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("ollamachat: no messages")
	}

	body := chatRequest{
		Model:  p.model,
		Stream: false,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ollamachat: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollamachat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollamachat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("ollamachat: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollamachat: endpoint returned %d: %s", resp.StatusCode, firstLine(raw))
	}

	text, err := parseBody(raw)
	if err != nil {
		return "", err
	}
	return text, nil
}

// parseBody extracts the reply text from either response shape.
func parseBody(raw []byte) (string, error) {
	// Fast path: a single JSON object with message.content.
	var single chatResponse
	if err := json.Unmarshal(raw, &single); err == nil {
		if single.Message != nil && single.Message.Content != "" {
			return single.Message.Content, nil
		}
		if single.Response != "" {
			return single.Response, nil
		}
	}

	// NDJSON fallback: concatenate per-line fragments.
	var sb strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message != nil {
			sb.WriteString(chunk.Message.Content)
		}
		sb.WriteString(chunk.Response)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("ollamachat: no usable content in response: %s", firstLine(raw))
	}
	return sb.String(), nil
}

// firstLine truncates raw to its first line for error messages.
func firstLine(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

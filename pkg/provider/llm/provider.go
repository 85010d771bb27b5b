// Package llm defines the Provider interface for the language-model backends
// used by the detection and explanation workers.
//
// Both workers need exactly one operation (send a short chat, get the full
// reply text back), so the interface is deliberately narrow. Streaming, tool
// calling, and token accounting are out of scope for this pipeline.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation and deadlines on every call.
package llm

import "context"

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a single chat message.
type Message struct {
	// Role is one of "system" or "user".
	Role string

	// Content is the message text.
	Content string
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends the messages to the model and returns the full reply
	// text. Returns an error when the request fails, the response is
	// unusable, or ctx is cancelled first.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// System is a convenience constructor for a system-role message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User is a convenience constructor for a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Package provider defines the boundary between agents and language model
// backends. Agents that call a model depend on Completer, never on a
// concrete SDK, so backends stay swappable and tests can substitute a fake.
package provider

import "context"

// Role identifies who authored a message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a model conversation.
type Message struct {
	Role    Role
	Content string
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Result is the outcome of a completion request.
type Result struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer produces a single completion for a conversation. Implementations
// must honor ctx cancellation.
type Completer interface {
	Create(ctx context.Context, messages []Message) (Result, error)
}

// Func adapts a plain function to a Completer.
type Func func(ctx context.Context, messages []Message) (Result, error)

func (f Func) Create(ctx context.Context, messages []Message) (Result, error) {
	return f(ctx, messages)
}

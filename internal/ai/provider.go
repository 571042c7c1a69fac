package ai

import "context"

type Message struct {
	Role    string
	Content string
}

// Provider produces a complete reply in one call.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (*Run, error)
}

// Event is one item from an upstream generation. The set is closed: Delta and
// Other are the only implementations.
type Event interface {
	isEvent()
}

// Delta carries incremental assistant text.
type Delta struct {
	Text string
}

// Other is any upstream event that carries no assistant text (role markers,
// tool calls, finish reasons). Kind is informational.
type Other struct {
	Kind string
}

func (Delta) isEvent() {}
func (Other) isEvent() {}

// LastUserContent returns the newest user message, or "".
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

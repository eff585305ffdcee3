// Package chat provides a unified interface for language-model
// completion providers.
//
// A provider receives the full conversation history, oldest first, and
// returns the assistant's reply. The fixed system preamble is injected
// by the provider when the history carries no system message of its own.
//
// Example usage:
//
//	provider, _ := chat.NewOpenAI(
//	    chat.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    chat.WithModel("gpt-4o"),
//	)
//	defer provider.Close()
//
//	reply, _ := provider.Complete(ctx, []chat.Message{
//	    {Role: chat.RoleUser, Content: "Hoe laat is het?"},
//	})
package chat

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider defines the completion provider interface.
type Provider interface {
	// Complete sends the history to the model and returns the
	// assistant's reply text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// PrependSystem returns the messages with the system prompt prepended,
// unless the history already carries a system message.
func PrependSystem(messages []Message, prompt string) []Message {
	if prompt == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == RoleSystem {
			return messages
		}
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	return append(out, messages...)
}

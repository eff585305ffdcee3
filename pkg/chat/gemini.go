package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	providerGemini     = "gemini"
	defaultGeminiModel = "gemini-2.0-flash"
)

// Gemini implements Provider for the Google Gemini API.
type Gemini struct {
	config *Config
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates a new Gemini completion provider.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.ModelID = defaultGeminiModel
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("create client: %w", err))
	}

	return &Gemini{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "chat.gemini"),
	}, nil
}

// Complete sends the history to the Gemini API.
func (g *Gemini) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	start := time.Now()

	contents, system := convertMessages(messages)
	if system == "" {
		system = g.config.SystemPrompt
	}

	temp := float32(g.config.Temperature)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.config.MaxTokens),
		Temperature:     &temp,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.ModelID, contents, config)
	if err != nil {
		return "", WrapError(providerGemini, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", WrapError(providerGemini, ErrEmptyResponse)
	}

	g.logger.Debug("completion received",
		"model", g.config.ModelID,
		"messages", len(messages),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return text, nil
}

// Health verifies the client can reach the API.
func (g *Gemini) Health(ctx context.Context) error {
	_, err := g.client.Models.Get(ctx, g.config.ModelID, nil)
	if err != nil {
		return WrapError(providerGemini, err)
	}
	return nil
}

// Close releases resources. The genai client holds no persistent
// connection, so this is a no-op.
func (g *Gemini) Close() error {
	return nil
}

// convertMessages maps chat messages to genai contents. A system
// message is lifted out: Gemini takes it as a separate instruction,
// not a conversation turn.
func convertMessages(messages []Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system string

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system == "" {
				system = m.Content
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, system
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)

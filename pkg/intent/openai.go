package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coliblanco/voicebridge/internal/httpc"
)

const (
	openAIChatURL  = "https://api.openai.com/v1/chat/completions"
	providerOpenAI = "openai"

	classifierModel = "gpt-3.5-turbo"
)

// classifierPrompt instructs the model to return a strict JSON verdict.
const classifierPrompt = `You classify short user utterances from a voice assistant.
Return JSON with two fields:
  "category": one of "question", "command", "information", "greeting", "farewell", "thanks", "other"
  "is_interruption": true when the utterance is a short barge-in that
  interrupts the assistant mid-response, such as "stop", "wacht", "pauze".
Answer with JSON only.`

// OpenAI implements Classifier using a small chat model in JSON mode.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// OpenAIOption configures the classifier.
type OpenAIOption func(*OpenAI)

// WithModel overrides the classifier model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAI) { o.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = url }
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) OpenAIOption {
	return func(o *OpenAI) { o.client.Timeout = timeout }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAI) { o.logger = logger.With("component", "intent.openai") }
}

// NewOpenAI creates a new classifier.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	o := &OpenAI{
		apiKey:  apiKey,
		model:   classifierModel,
		baseURL: openAIChatURL,
		client:  httpc.NewClient(10 * time.Second),
		logger:  slog.Default().With("component", "intent.openai"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Classify asks the model for a category and interruption verdict.
func (o *OpenAI) Classify(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	payload := map[string]interface{}{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": classifierPrompt},
			{"role": "user", "content": text},
		},
		"temperature":     0.3,
		"max_tokens":      100,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("intent [%s]: marshal payload: %w", providerOpenAI, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("intent [%s]: create request: %w", providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("intent [%s]: %w", providerOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("intent [%s]: API error %d: %s", providerOpenAI, resp.StatusCode, msg)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("intent [%s]: decode response: %w", providerOpenAI, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("intent [%s]: empty response", providerOpenAI)
	}

	var result Result
	if err := json.Unmarshal([]byte(out.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("intent [%s]: parse verdict: %w", providerOpenAI, err)
	}
	if result.Category == "" {
		result.Category = CategoryOther
	}

	o.logger.Debug("classified utterance",
		"category", result.Category,
		"is_interruption", result.IsInterruption,
	)

	return &result, nil
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// Verify OpenAI implements Classifier at compile time.
var _ Classifier = (*OpenAI)(nil)

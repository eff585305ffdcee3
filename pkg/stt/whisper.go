package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/coliblanco/voicebridge/internal/httpc"
)

const (
	whisperURL      = "https://api.openai.com/v1/audio/transcriptions"
	providerWhisper = "whisper"
)

// Whisper implements Provider for OpenAI's Whisper transcription API.
type Whisper struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewWhisper creates a new Whisper STT provider.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = whisperURL
	}

	return &Whisper{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.whisper"),
		baseURL: baseURL,
	}, nil
}

// Transcribe sends the utterance to the Whisper API as a multipart
// upload and returns the transcript.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if language == "" {
		language = w.config.Language
	}

	start := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio.webm")
	if err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(audio); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("write audio: %w", err))
	}
	if err := mw.WriteField("model", w.config.ModelID); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("write model field: %w", err))
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, WrapError(providerWhisper, fmt.Errorf("write language field: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("close multipart: %w", err))
	}

	body := buf.Bytes()
	req, err := http.NewRequestWithContext(ctx, "POST", w.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.doWithRetry(ctx, req, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, w.parseError(resp)
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("decode response: %w", err))
	}

	w.logger.Debug("transcribed audio",
		"bytes", len(audio),
		"chars", len(out.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	detected := out.Language
	if detected == "" {
		detected = language
	}

	return &Result{
		Text:     strings.TrimSpace(out.Text),
		Language: detected,
	}, nil
}

// Health checks API connectivity.
func (w *Whisper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.openai.com/v1/models", nil)
	if err != nil {
		return WrapError(providerWhisper, err)
	}
	req.Header.Set("Authorization", "Bearer "+w.config.APIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return WrapError(providerWhisper, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return w.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (w *Whisper) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// doWithRetry performs the request with retry logic.
func (w *Whisper) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = WrapError(providerWhisper, err)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = w.parseError(resp)
			resp.Body.Close()
			w.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (w *Whisper) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerWhisper,
	}
}

// Verify Whisper implements Provider at compile time.
var _ Provider = (*Whisper)(nil)

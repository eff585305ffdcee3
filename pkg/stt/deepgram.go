package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramURL      = "wss://api.deepgram.com/v1/listen"
	deepgramModel    = "nova-2"
	providerDeepgram = "deepgram"

	// keepAlivePeriod must be under Deepgram's 10s idle cutoff.
	keepAlivePeriod = 5 * time.Second
)

// TranscriptEvent is one live transcription update.
type TranscriptEvent struct {
	// Text is the transcript for the processed segment.
	Text string

	// IsFinal means the segment will not be revised further. Multiple
	// final segments can occur within a single user turn.
	IsFinal bool

	// SpeechFinal means the provider detected end-of-speech. This is
	// the signal to finalize a user turn.
	SpeechFinal bool
}

// Live is a streaming transcription connection to Deepgram.
//
// A Live connection belongs to exactly one session. It satisfies
// io.Closer so it can be attached to the session and released when the
// session is removed.
type Live struct {
	config *Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	results chan TranscriptEvent
	errs    chan error
	done    chan struct{}
}

// NewLive creates a live transcription client. Call Start to connect.
func NewLive(opts ...Option) (*Live, error) {
	cfg := DefaultConfig()
	cfg.ModelID = deepgramModel
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Live{
		config:  cfg,
		logger:  cfg.Logger.With("component", "stt.deepgram"),
		results: make(chan TranscriptEvent, 32),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}, nil
}

// Start dials the streaming endpoint and begins reading results.
func (l *Live) Start(ctx context.Context, language string) error {
	if language == "" {
		language = l.config.Language
	}

	base := l.config.BaseURL
	if base == "" {
		base = deepgramURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return WrapError(providerDeepgram, fmt.Errorf("parse url: %w", err))
	}
	q := u.Query()
	q.Set("model", l.config.ModelID)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()

	header := map[string][]string{
		"Authorization": {"Token " + l.config.APIKey},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    resp.Status,
				Provider:   providerDeepgram,
			}
		}
		return WrapError(providerDeepgram, fmt.Errorf("dial: %w", err))
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	go l.readLoop()
	go l.keepAliveLoop()

	l.logger.Info("live transcription started", "language", language)
	return nil
}

// SendAudio streams raw audio bytes to the provider.
func (l *Live) SendAudio(audio []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.conn == nil {
		return ErrClosed
	}
	if err := l.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return WrapError(providerDeepgram, fmt.Errorf("send audio: %w", err))
	}
	return nil
}

// Results returns the channel of transcription updates.
// The channel is closed when the connection shuts down.
func (l *Live) Results() <-chan TranscriptEvent {
	return l.results
}

// Errors returns the channel of asynchronous read errors.
func (l *Live) Errors() <-chan error {
	return l.errs
}

// Close tells the provider the stream is done and tears the connection
// down. Safe to call more than once.
func (l *Live) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.mu.Unlock()

	close(l.done)

	if conn != nil {
		// Best effort: let the provider flush pending results.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		return conn.Close()
	}
	return nil
}

// readLoop parses server messages until the connection dies. It is the
// only sender on both channels, so it closes them on exit.
func (l *Live) readLoop() {
	defer close(l.results)
	defer close(l.errs)

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				select {
				case l.errs <- WrapError(providerDeepgram, err):
				default:
				}
			}
			return
		}

		var msg struct {
			Type    string `json:"type"`
			IsFinal bool   `json:"is_final"`
			Speech  bool   `json:"speech_final"`
			Channel struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channel"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("unparseable message", "error", err)
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}

		select {
		case l.results <- TranscriptEvent{Text: text, IsFinal: msg.IsFinal, SpeechFinal: msg.Speech}:
		case <-l.done:
			return
		}
	}
}

// Verify Live implements LiveStream at compile time.
var _ LiveStream = (*Live)(nil)

// keepAliveLoop pings the provider so silent periods don't drop the
// connection.
func (l *Live) keepAliveLoop() {
	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.closed || l.conn == nil {
				l.mu.Unlock()
				return
			}
			err := l.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			l.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

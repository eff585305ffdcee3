// Package gateway is the websocket voice protocol surface. Each
// connection gets a session; inbound JSON frames are routed through a
// dispatch table and completed pipeline runs stream back over the
// client's buffered send channel.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/vad"
	"github.com/coliblanco/voicebridge/pkg/voice"
)

// Inbound event names.
const (
	eventStartListening = "start_listening"
	eventAudioChunk     = "audio_chunk"
	eventStopListening  = "stop_listening"
	eventProcessCommand = "process_command"
	eventInterrupt      = "interrupt"
	eventPing           = "ping"
	eventPong           = "pong"
)

// defaultRunTimeout bounds one pipeline run end to end.
const defaultRunTimeout = 60 * time.Second

// envelope is the inbound frame shape. Unused fields are zero for
// events that do not carry them.
type envelope struct {
	Event      string `json:"event"`
	Data       string `json:"data,omitempty"`
	Text       string `json:"text,omitempty"`
	ManualStop bool   `json:"manual_stop,omitempty"`
}

// handlerFunc processes one inbound event for a client.
type handlerFunc func(c *client, env envelope)

// LiveFactory dials and starts a streaming transcription session.
// When set on the gateway, recognition runs provider-side while the
// user speaks instead of buffering for a single Transcribe call.
type LiveFactory func(ctx context.Context) (stt.LiveStream, error)

// Gateway routes websocket voice traffic into the pipeline.
type Gateway struct {
	registry    *session.Registry
	pipeline    *voice.Pipeline
	runner      *voice.Runner
	flush       vad.Config
	liveFactory LiveFactory
	runTimeout  time.Duration
	logger      *slog.Logger
	handlers    map[string]handlerFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFlushPolicy overrides the buffered-flush policy.
func WithFlushPolicy(cfg vad.Config) Option {
	return func(g *Gateway) { g.flush = cfg }
}

// WithLiveSTT switches sessions to streaming transcription.
func WithLiveSTT(factory LiveFactory) Option {
	return func(g *Gateway) { g.liveFactory = factory }
}

// WithRunTimeout bounds a single pipeline run.
func WithRunTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.runTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger.With("component", "gateway") }
}

// New creates a gateway over the registry, pipeline and runner.
func New(registry *session.Registry, pipeline *voice.Pipeline, runner *voice.Runner, opts ...Option) *Gateway {
	g := &Gateway{
		registry:   registry,
		pipeline:   pipeline,
		runner:     runner,
		flush:      vad.DefaultConfig(),
		runTimeout: defaultRunTimeout,
		logger:     slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.handlers = map[string]handlerFunc{
		eventStartListening: g.handleStartListening,
		eventAudioChunk:     g.handleAudioChunk,
		eventStopListening:  g.handleStopListening,
		eventProcessCommand: g.handleProcessCommand,
		eventInterrupt:      g.handleInterrupt,
		eventPing:           g.handlePing,
		eventPong:           func(*client, envelope) {},
	}
	return g
}

// Handle serves one websocket connection. Intended for
// websocket.New(gw.Handle) on the /ws/voice route.
func (g *Gateway) Handle(conn *websocket.Conn) {
	sess, err := g.registry.Create()
	if err != nil {
		g.reject(conn, err)
		return
	}

	c := newClient(conn, sess, vad.NewDetector(g.flush), g.logger)
	go c.writePump()

	defer func() {
		g.registry.Remove(sess.ID)
		c.close()
	}()

	c.logger.Info("client connected", "sessions", g.registry.Len())
	g.emit(c, voice.NewConnected(sess.ID))

	g.readLoop(c)
	c.logger.Info("client disconnected")
}

// readLoop reads frames until the connection drops. Malformed frames
// and unknown events produce an error event; the connection stays up.
func (g *Gateway) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		g.registry.Touch(c.sess.ID)
		g.dispatch(c, data)
	}
}

// dispatch parses one frame and routes it through the handler table.
func (g *Gateway) dispatch(c *client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "panic", r)
			g.emit(c, voice.NewError("internal error"))
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.emit(c, voice.NewError("malformed message"))
		return
	}

	handler, ok := g.handlers[env.Event]
	if !ok {
		g.emit(c, voice.NewError("unknown event: "+env.Event))
		return
	}
	handler(c, env)
}

func (g *Gateway) handleStartListening(c *client, _ envelope) {
	c.sess.StartListening()
	c.detector.Reset()
	c.chunks = 0

	if g.liveFactory != nil && c.live == nil {
		stream, err := g.liveFactory(context.Background())
		if err != nil {
			// Fall back to the buffered flow for this utterance.
			c.logger.Warn("live transcription unavailable", "error", err)
		} else {
			c.live = stream
			c.sess.AttachCloser(stream)
			go g.collectTranscripts(c, stream)
			go g.drainStreamErrors(c, stream)
		}
	}

	g.emit(c, voice.NewListeningStarted())
}

func (g *Gateway) handleAudioChunk(c *client, env envelope) {
	chunk, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		g.emit(c, voice.NewError("invalid audio encoding"))
		return
	}
	if len(chunk) == 0 {
		g.emit(c, voice.NewError("empty audio chunk"))
		return
	}
	// Chunks sent outside a listening window are dropped silently; the
	// client may still be flushing after stop_listening.
	if !c.sess.Listening() {
		return
	}

	if c.live != nil {
		if err := c.live.SendAudio(chunk); err != nil {
			c.logger.Warn("live audio forward failed", "error", err)
			g.emit(c, voice.NewError("transcription stream error"))
			return
		}
		c.chunks++
		g.emit(c, voice.NewChunkReceived(c.chunks))
		return
	}

	c.sess.AppendChunk(chunk)
	c.chunks++
	g.emit(c, voice.NewChunkReceived(c.chunks))
	switch c.detector.Feed(chunk, time.Now()) {
	case vad.EventEndOfUtterance, vad.EventMaxDuration:
		g.endUtterance(c, false)
	case vad.EventNoSpeech:
		c.sess.StopListening(false)
		c.sess.Flush()
		g.emit(c, voice.NewListeningStopped())
		g.emit(c, voice.NewProcessingComplete(voice.StatusNoSpeech))
	}
}

func (g *Gateway) handleStopListening(c *client, env envelope) {
	g.endUtterance(c, env.ManualStop)
}

// endUtterance closes the listening window and hands the utterance to
// the pipeline. Reached from an explicit stop_listening or from the
// endpointing detector.
func (g *Gateway) endUtterance(c *client, manual bool) {
	c.sess.StopListening(manual)
	g.emit(c, voice.NewListeningStopped())

	if c.live != nil {
		// Closing flushes the provider's final segments; the collector
		// goroutine dispatches the run when they arrive.
		if err := c.live.Close(); err != nil {
			c.logger.Warn("live stream close failed", "error", err)
		}
		c.live = nil
		return
	}

	utterance, chunks := c.sess.Flush()
	switch g.flush.FlushDecision(chunks, manual) {
	case vad.NoAudio:
		g.emit(c, voice.NewProcessingError("no audio received"))
		return
	case vad.TooLittleAudio:
		c.logger.Debug("discarding short recording", "chunks", chunks)
		g.emit(c, voice.NewProcessingComplete(voice.StatusTooLittleAudio))
		return
	}

	opts := voice.RunOptions{MarkInterruption: c.takeInterrupt()}
	g.submit(c, func(ctx context.Context) error {
		return g.pipeline.Process(ctx, c.sess, c, utterance, opts)
	})
}

// collectTranscripts accumulates final segments from a live stream and
// dispatches the pipeline once the stream has drained.
func (g *Gateway) collectTranscripts(c *client, stream stt.LiveStream) {
	var parts []string
	for ev := range stream.Results() {
		if !ev.IsFinal {
			continue
		}
		if t := strings.TrimSpace(ev.Text); t != "" {
			parts = append(parts, t)
		}
	}

	text := strings.Join(parts, " ")
	opts := voice.RunOptions{MarkInterruption: c.takeInterrupt()}
	g.submit(c, func(ctx context.Context) error {
		return g.pipeline.ProcessTranscript(ctx, c.sess, c, text, opts)
	})
}

// drainStreamErrors surfaces asynchronous stream errors to the client.
func (g *Gateway) drainStreamErrors(c *client, stream stt.LiveStream) {
	for err := range stream.Errors() {
		c.logger.Warn("live transcription error", "error", err)
		g.emit(c, voice.NewError("transcription stream error"))
	}
}

func (g *Gateway) handleProcessCommand(c *client, env envelope) {
	if env.Text == "" {
		g.emit(c, voice.NewError("empty command"))
		return
	}
	g.submit(c, func(ctx context.Context) error {
		return g.pipeline.ProcessText(ctx, c.sess, c, env.Text)
	})
}

func (g *Gateway) handleInterrupt(c *client, _ envelope) {
	c.interruptPending.Store(true)
	g.emit(c, voice.NewInterrupted())
}

func (g *Gateway) handlePing(c *client, _ envelope) {
	g.emit(c, voice.NewPong())
}

// submit hands a pipeline run to the bounded runner. A full queue or a
// busy session is reported as an error event, never blocking the read
// loop.
func (g *Gateway) submit(c *client, run func(ctx context.Context) error) {
	ok := g.runner.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.runTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			switch {
			case errors.Is(err, voice.ErrBusy):
				g.emit(c, voice.NewError("already processing"))
			case errors.Is(err, voice.ErrNoAudio):
				g.emit(c, voice.NewProcessingError("no audio received"))
			default:
				c.logger.Error("pipeline run failed", "error", err)
			}
		}
	})
	if !ok {
		g.emit(c, voice.NewError("server busy"))
	}
}

// emit delivers an event to the client, logging drops.
func (g *Gateway) emit(c *client, event any) {
	if err := c.Emit(event); err != nil {
		c.logger.Warn("dropping event", "error", err)
	}
}

// reject closes a connection that could not get a session.
func (g *Gateway) reject(conn *websocket.Conn, err error) {
	msg := "internal error"
	if errors.Is(err, session.ErrCapacity) {
		msg = "server busy"
	}
	g.logger.Warn("rejecting connection", "error", err)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if data, merr := json.Marshal(voice.NewError(msg)); merr == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
	conn.Close()
}

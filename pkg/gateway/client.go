package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/vad"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Audio chunks arrive
	// base64-encoded, so this covers roughly 192KB of raw PCM.
	maxMessageSize = 256 * 1024

	// sendBuffer is the per-client outbound queue depth.
	sendBuffer = 64
)

// errSendFull is returned when a client's outbound queue overflows.
// The event is dropped; a client that cannot drain its queue is about
// to be disconnected by the ping deadline anyway.
var errSendFull = errors.New("gateway: client send buffer full")

// errClientClosed is returned when emitting to a disconnected client.
// Pipeline runs can outlive the connection that started them.
var errClientClosed = errors.New("gateway: client closed")

// client pairs one websocket connection with its session. Only the
// writePump goroutine writes to the connection.
type client struct {
	conn *websocket.Conn
	sess *session.Session
	send chan []byte

	// detector does server-side endpointing for the buffered flow.
	// Accessed only from the read loop.
	detector *vad.Detector

	// live is the active streaming transcription, nil in buffered mode.
	// Accessed only from the read loop.
	live stt.LiveStream

	// interruptPending marks the next pipeline run as an interruption.
	// Set by the interrupt event, consumed when a run is dispatched.
	interruptPending atomic.Bool

	// chunks counts accepted audio chunks in the current listening
	// window. Accessed only from the read loop.
	chunks int

	// mu orders Emit against close: runner workers and stream
	// collectors may still emit after the connection handler returns,
	// and a send must never race the channel close.
	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

func newClient(conn *websocket.Conn, sess *session.Session, detector *vad.Detector, logger *slog.Logger) *client {
	return &client{
		conn:     conn,
		sess:     sess,
		send:     make(chan []byte, sendBuffer),
		detector: detector,
		logger:   logger.With("session_id", sess.ID),
	}
}

// Emit marshals the event and enqueues it for the write pump. It never
// blocks; overflow drops the event, and emitting after close reports
// errClientClosed instead of sending on a closed channel.
func (c *client) Emit(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendFull
	}
}

// takeInterrupt consumes the pending interrupt flag.
func (c *client) takeInterrupt() bool {
	return c.interruptPending.Swap(false)
}

// close marks the client closed and shuts the send channel, which
// makes the write pump send a close frame and exit. Idempotent, and
// safe against concurrent Emit calls.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump owns all writes to the connection: queued events and
// keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

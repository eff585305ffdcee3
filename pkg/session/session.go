// Package session owns per-connection voice session state.
//
// The Registry is the single source of truth for session existence:
// handlers look a session up for the duration of one invocation and
// never retain it beyond that, because the registry (not the handler)
// arbitrates whether the session is still alive.
package session

import (
	"io"
	"sync"
	"time"
)

// Session holds the state for one active connection.
//
// All mutation goes through methods that take the session's own lock,
// so the connection loop, the pipeline worker, and the idle reaper can
// touch the same session without lost updates.
type Session struct {
	ID string

	mu         sync.Mutex
	listening  bool
	manualStop bool
	chunks     [][]byte
	history    *History
	lastActive time.Time
	processing bool
	closer     io.Closer
}

func newSession(id string) *Session {
	return &Session{
		ID:         id,
		history:    NewHistory(),
		lastActive: time.Now(),
	}
}

// StartListening clears the audio buffer and begins accepting chunks.
// The buffer is always reset here so a new listening phase never sees
// leftovers from a previous one.
func (s *Session) StartListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = true
	s.manualStop = false
	s.chunks = nil
}

// StopListening stops accepting chunks and records whether the client
// explicitly signalled end-of-utterance.
func (s *Session) StopListening(manual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = false
	s.manualStop = manual
}

// Listening reports whether audio chunks are currently accepted.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// ManualStop reports whether the last stop was client-initiated.
func (s *Session) ManualStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manualStop
}

// AppendChunk buffers a raw audio chunk. Chunks arriving while the
// session is not listening are dropped; returns whether it was kept.
func (s *Session) AppendChunk(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return false
	}
	s.chunks = append(s.chunks, chunk)
	return true
}

// ChunkCount returns the number of buffered chunks.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Flush concatenates and clears the audio buffer, returning the
// utterance bytes and the chunk count that produced them. The buffer is
// cleared regardless of what the caller does with the result.
func (s *Session) Flush() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.chunks)
	var total int
	for _, c := range s.chunks {
		total += len(c)
	}
	utterance := make([]byte, 0, total)
	for _, c := range s.chunks {
		utterance = append(utterance, c...)
	}
	s.chunks = nil
	return utterance, count
}

// BeginProcessing attempts to claim the single pipeline slot for this
// session. Returns false if a run is already in flight.
func (s *Session) BeginProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	return true
}

// EndProcessing releases the pipeline slot.
func (s *Session) EndProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

// Processing reports whether a pipeline run is in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// History returns the session's conversation memory.
func (s *Session) History() *History {
	return s.history
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the last-activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// IdleFor returns how long the session has been inactive as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// AttachCloser registers a long-lived resource (for example an open
// streaming transcription connection) to be released when the session
// is removed. A previously attached resource is closed first.
func (s *Session) AttachCloser(c io.Closer) {
	s.mu.Lock()
	prev := s.closer
	s.closer = c
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Close releases any attached resource. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	c := s.closer
	s.closer = nil
	s.mu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

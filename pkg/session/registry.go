package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrCapacity is returned when the registry is full.
	ErrCapacity = errors.New("session: registry at capacity")

	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session: not found")
)

// Registry owns all active sessions. It is the only structure shared
// between the connection loops, the pipeline workers, and the idle
// reaper.
type Registry struct {
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry that holds at most maxSessions entries.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create inserts a fresh session under a newly generated id.
// Fails with ErrCapacity when the registry is full; a rejected create
// leaves the registry untouched.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return nil, ErrCapacity
	}

	s := newSession(uuid.NewString())
	r.sessions[s.ID] = s
	return s, nil
}

// Get returns the session for the id, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes the session and releases any attached resources.
// Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Touch updates the session's last-activity timestamp.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if ok {
		s.Touch()
	}
}

// Capacity returns the maximum number of sessions.
func (r *Registry) Capacity() int {
	return r.maxSessions
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap removes every session idle longer than maxIdle and returns the
// removed ids. Attached resources are released before deletion.
func (r *Registry) Reap(maxIdle time.Duration) []string {
	now := time.Now()

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.IdleFor(now) > maxIdle {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Remove(id)
	}
	return stale
}

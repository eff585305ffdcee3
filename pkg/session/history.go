package session

import "sync"

// MaxTurns caps conversation memory at 5 user/assistant pairs.
// Oldest turns are dropped first.
const MaxTurns = 10

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of conversation memory.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a bounded FIFO of conversation turns. Append is the only
// mutation path; reads always return the full current sequence, oldest
// first.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append inserts a turn at the tail, then trims from the head until the
// length is within MaxTurns.
func (h *History) Append(turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
	if n := len(h.turns); n > MaxTurns {
		h.turns = h.turns[n-MaxTurns:]
	}
}

// Turns returns a copy of the current sequence, oldest first.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

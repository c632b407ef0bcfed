package conversation

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
	At      time.Time
}

// History keeps the most recent messages of one session, evicting the
// oldest first once capacity is reached.
type History struct {
	mu    sync.Mutex
	buf   []Message
	start int
	size  int
}

// NewHistory returns a history holding at most capacity messages (minimum 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Message, capacity)}
}

func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// Messages returns the retained messages, oldest first.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *History) Cap() int { return len(h.buf) }

// Sessions hands out one History per session id.
type Sessions struct {
	mu       sync.Mutex
	capacity int
	byID     map[string]*History
}

func NewSessions(capacity int) *Sessions {
	return &Sessions{capacity: capacity, byID: make(map[string]*History)}
}

// Get returns the session's history, creating it on first use.
func (s *Sessions) Get(id string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byID[id]
	if !ok {
		h = NewHistory(s.capacity)
		s.byID[id] = h
	}
	return h
}

// End drops a session's history.
func (s *Sessions) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

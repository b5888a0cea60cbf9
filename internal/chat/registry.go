package chat

import (
	"sync"
	"sync/atomic"

	"nevexpert/internal/models"
)

// Registry tracks the sessions currently hosted by the view layer. Closing a
// session discards it entirely; there is no persistence behind it.
type Registry struct {
	mu        sync.Mutex
	sessions  map[int64]*Session
	responder Responder
}

var sessionSeq int64

func NewRegistry(responder Responder) *Registry {
	return &Registry{
		sessions:  make(map[int64]*Session),
		responder: responder,
	}
}

// Create opens a new session seeded for the given tier and returns its id.
func (r *Registry) Create(tier models.Tier) (int64, *Session) {
	id := atomic.AddInt64(&sessionSeq, 1)
	session := NewSession(tier, r.responder)
	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()
	return id, session
}

// Get looks up a live session by id.
func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close discards the session. The transcript is gone once this returns.
func (r *Registry) Close(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

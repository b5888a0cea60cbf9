package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"nevexpert/internal/models"
)

// Responder is the boundary to the external model service. It receives the
// full ordered turn history, newest user turn last, and resolves to the
// assistant's text or an error. Timeout policy belongs to the implementation.
type Responder interface {
	Respond(ctx context.Context, turns []*models.Turn) (string, error)
}

// Session owns one conversation: an append-only turn sequence seeded with a
// tier-selected greeting, at most one pending attachment, and a single
// in-flight flag that doubles as the mutual-exclusion gate for submissions.
// Sessions live only as long as the hosting view; nothing here is persisted.
type Session struct {
	mu        sync.Mutex
	turns     []*models.Turn
	pending   *models.Attachment
	inFlight  bool
	tier      models.Tier
	responder Responder
}

// NewSession creates a session holding only the seed greeting turn.
func NewSession(tier models.Tier, responder Responder) *Session {
	return &Session{
		tier:      tier,
		responder: responder,
		turns: []*models.Turn{{
			Role:      models.RoleAssistant,
			Content:   greetingFor(tier),
			CreatedAt: time.Now(),
		}},
	}
}

// Submit appends a user turn built from content plus any pending attachment,
// dispatches the whole history to the responder, and appends exactly one
// assistant turn whatever the outcome. Calls made while a request is in
// flight, or with neither content nor a pending attachment, are rejected as
// no-ops with ok=false: no turn is appended and no state changes.
func (s *Session) Submit(ctx context.Context, content string) (user, reply *models.Turn, ok bool) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, nil, false
	}
	user = &models.Turn{
		Role:       models.RoleUser,
		Content:    content,
		Attachment: s.pending,
		CreatedAt:  time.Now(),
	}
	if !user.Valid() {
		s.mu.Unlock()
		return nil, nil, false
	}
	s.turns = append(s.turns, user)
	s.pending = nil
	s.inFlight = true
	history := s.snapshotLocked()
	s.mu.Unlock()

	reply = &models.Turn{Role: models.RoleAssistant}
	defer func() {
		// Runs on every path, including a responder panic: the session always
		// ends the exchange with a non-empty assistant turn and a clear gate.
		if reply.Content == "" {
			reply.Content = FallbackServiceError
		}
		reply.CreatedAt = time.Now()
		s.mu.Lock()
		s.turns = append(s.turns, reply)
		s.inFlight = false
		s.mu.Unlock()
	}()

	text, err := s.responder.Respond(ctx, history)
	switch {
	case err != nil:
		reply.Content = FallbackServiceError
	case strings.TrimSpace(text) == "":
		reply.Content = FallbackEmptyReply
	default:
		reply.Content = text
	}
	return user, reply, true
}

// SetPendingAttachment stages an attachment for the next submission,
// replacing any previously staged one.
func (s *Session) SetPendingAttachment(att *models.Attachment) {
	s.mu.Lock()
	s.pending = att
	s.mu.Unlock()
}

// ClearPendingAttachment drops the staged attachment without sending.
func (s *Session) ClearPendingAttachment() {
	s.SetPendingAttachment(nil)
}

// PendingAttachment returns the currently staged attachment, if any.
func (s *Session) PendingAttachment() *models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// InFlight reports whether a model request is awaiting resolution.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Tier returns the access tier the session was created with.
func (s *Session) Tier() models.Tier {
	return s.tier
}

// Turns returns the transcript in chronological order.
func (s *Session) Turns() []*models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []*models.Turn {
	out := make([]*models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aranyaone/relay/internal/domain"
)

// Session binds one live connection to one authenticated identity. The
// registry owns the session; everything else refers to it by id.
type Session struct {
	ID       string
	Identity domain.Identity

	mu         sync.RWMutex
	send       chan []byte
	lastActive time.Time
}

// SendMessage queues a message for delivery to the session's connection.
// The send is non-blocking: a full buffer means the client is lagging or
// gone, and the message is dropped for this recipient only.
func (s *Session) SendMessage(msg []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// A nil channel means the session is already closed.
	if s.send == nil {
		return false
	}

	select {
	case s.send <- msg:
		return true
	default:
		slog.Warn("Session send buffer full, dropping message", "sessionID", s.ID)
		return false
	}
}

// Messages returns the channel the connection's write loop drains. It is
// closed when the session is removed.
func (s *Session) Messages() <-chan []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.send
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the last inbound frame.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// close shuts the send channel exactly once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send != nil {
		close(s.send)
		s.send = nil
	}
}

// SessionRegistry owns the set of live sessions. All mutating operations are
// serialized behind one mutex; none of them touch I/O.
type SessionRegistry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	sendBuffer int
}

// NewSessionRegistry creates an empty registry. sendBuffer sizes each
// session's outbound queue.
func NewSessionRegistry(sendBuffer int) *SessionRegistry {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &SessionRegistry{
		sessions:   make(map[string]*Session),
		sendBuffer: sendBuffer,
	}
}

// Register allocates a fresh session for the identity and stores it.
func (r *SessionRegistry) Register(identity domain.Identity) *Session {
	session := &Session{
		ID:         uuid.NewString(),
		Identity:   identity,
		send:       make(chan []byte, r.sendBuffer),
		lastActive: time.Now(),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	slog.Info("Session registered", "sessionID", session.ID, "userID", identity.ID, "role", identity.Role)
	return session
}

// Lookup returns the session for the id, if it exists.
func (r *SessionRegistry) Lookup(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Touch updates the session's last-activity timestamp. Unknown ids are ignored.
func (r *SessionRegistry) Touch(sessionID string) {
	if s, ok := r.Lookup(sessionID); ok {
		s.Touch()
	}
}

// Remove deletes the session and closes its send channel. Removing an id that
// is not registered is a no-op, not an error.
func (r *SessionRegistry) Remove(sessionID string) *Session {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	session.close()
	slog.Info("Session removed", "sessionID", sessionID, "userID", session.Identity.ID)
	return session
}

// ListIdle returns the ids of sessions whose last activity is older than the
// given duration.
func (r *SessionRegistry) ListIdle(olderThan time.Duration) []string {
	cutoff := time.Now().Add(-olderThan)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []string
	for id, session := range r.sessions {
		if session.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

package memory

import (
	"context"
	"sync"
	"time"

	"quiz-server/internal/domain"
)

// TrackedSession is what the tracker knows about one live connection.
type TrackedSession struct {
	ID       string
	OpenedAt time.Time
	UserID   int64
	Role     domain.Role
}

// SessionTracker is an in-memory implementation of app.SessionTracker.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]TrackedSession
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]TrackedSession),
	}
}

func (t *SessionTracker) Opened(_ context.Context, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = TrackedSession{ID: sessionID, OpenedAt: time.Now()}
}

func (t *SessionTracker) Authenticated(_ context.Context, sessionID string, user domain.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = TrackedSession{ID: sessionID, OpenedAt: time.Now()}
	}
	s.UserID = user.ID
	s.Role = user.Role
	t.sessions[sessionID] = s
}

func (t *SessionTracker) Closed(_ context.Context, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *SessionTracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Get returns the tracked state of one session.
func (t *SessionTracker) Get(sessionID string) (TrackedSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	return s, ok
}

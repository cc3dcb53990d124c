package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"quiz-server/internal/domain"
)

// SessionTracker marks live connections in Redis so operators can see who is
// connected. Keys expire after ttl in case the process dies without cleanup:
//
//	quiz:session:{sessionID} -> "anonymous" | "{userID}:{role}"
//
// The active count is kept locally; sessions are never shared between servers.
type SessionTracker struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]struct{}
}

func NewSessionTracker(client *redis.Client, ttl time.Duration) *SessionTracker {
	return &SessionTracker{
		client: client,
		ttl:    ttl,
		local:  make(map[string]struct{}),
	}
}

func (t *SessionTracker) Opened(ctx context.Context, sessionID string) {
	t.mu.Lock()
	t.local[sessionID] = struct{}{}
	t.mu.Unlock()
	// best-effort liveness marker
	_ = t.client.Set(ctx, t.key(sessionID), "anonymous", t.ttl).Err()
}

func (t *SessionTracker) Authenticated(ctx context.Context, sessionID string, user domain.User) {
	value := strconv.FormatInt(user.ID, 10) + ":" + string(user.Role)
	_ = t.client.Set(ctx, t.key(sessionID), value, t.ttl).Err()
}

func (t *SessionTracker) Closed(ctx context.Context, sessionID string) {
	t.mu.Lock()
	delete(t.local, sessionID)
	t.mu.Unlock()
	_ = t.client.Del(ctx, t.key(sessionID)).Err()
}

func (t *SessionTracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.local)
}

func (t *SessionTracker) key(sessionID string) string {
	return "quiz:session:" + sessionID
}

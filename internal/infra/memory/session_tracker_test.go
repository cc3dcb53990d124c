package memory

import (
	"context"
	"testing"

	"quiz-server/internal/domain"
)

func TestSessionTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewSessionTracker()

	tracker.Opened(ctx, "c1")
	tracker.Opened(ctx, "c2")
	if tracker.Active() != 2 {
		t.Fatalf("expected 2 active, got %d", tracker.Active())
	}

	tracker.Authenticated(ctx, "c1", domain.User{ID: 7, Role: domain.RoleTeacher})
	s, ok := tracker.Get("c1")
	if !ok || s.UserID != 7 || s.Role != domain.RoleTeacher {
		t.Fatalf("expected authenticated session, got %+v", s)
	}

	tracker.Closed(ctx, "c1")
	if _, ok := tracker.Get("c1"); ok {
		t.Fatalf("expected session removed")
	}
	if tracker.Active() != 1 {
		t.Fatalf("expected 1 active, got %d", tracker.Active())
	}
}

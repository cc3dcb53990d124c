package app

import (
	"log/slog"

	"quiz-server/internal/domain"
)

// Session is the per-connection identity. It is owned by the connection's
// worker and is not safe for concurrent use.
type Session struct {
	id     string
	user   *domain.User
	base   *slog.Logger
	logger *slog.Logger
}

func NewSession(id string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{id: id, base: logger, logger: logger}
}

func (s *Session) ID() string { return s.id }

// User returns the authenticated identity, if any.
func (s *Session) User() (domain.User, bool) {
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *Session) Logger() *slog.Logger { return s.logger }

func (s *Session) login(user domain.User) {
	user.Password = ""
	s.user = &user
	s.logger = s.base.With("user", user.Username)
}

// Clear drops the identity. Connections call it on close; a failed LOGIN
// calls it so the session falls back to anonymous.
func (s *Session) Clear() {
	s.user = nil
	s.logger = s.base
}

func (s *Session) requireUser() (domain.User, error) {
	user, ok := s.User()
	if !ok {
		return domain.User{}, domain.Unauthorized(domain.ErrNotLoggedIn)
	}
	return user, nil
}

func (s *Session) requireTeacher() (domain.User, error) {
	user, ok := s.User()
	if !ok || !user.IsTeacher() {
		return domain.User{}, domain.Unauthorized(domain.ErrNotTeacher)
	}
	return user, nil
}

func (s *Session) requireStudent() (domain.User, error) {
	user, err := s.requireUser()
	if err != nil {
		return domain.User{}, err
	}
	if !user.IsStudent() {
		return domain.User{}, domain.Unauthorized(domain.ErrNotStudent)
	}
	return user, nil
}

package app

import (
	"context"

	"quiz-server/internal/domain"
)

// Store is the persistence boundary. Every method is atomic on its own; the
// dispatcher never holds locks across calls.
type Store interface {
	// AuthenticateUser returns domain.ErrInvalidCredentials when no account matches exactly.
	AuthenticateUser(ctx context.Context, username, password string) (domain.User, error)
	// RegisterUser returns domain.ErrUsernameTaken when the username is in use.
	RegisterUser(ctx context.Context, user domain.User) (int64, error)
	ListActiveQuizzes(ctx context.Context) ([]domain.QuizSummary, error)
	// CreateQuizWithQuestions stores the quiz and all its questions as one unit.
	// An adapter that cannot guarantee that returns the quiz id together with
	// the error when the quiz row was written but a question was not; the
	// caller then removes the partial quiz.
	CreateQuizWithQuestions(ctx context.Context, quiz domain.Quiz) (int64, error)
	// GetQuizWithQuestions returns questions ordered by Order, or domain.ErrQuizNotFound.
	GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error)
	// DeleteQuizCascading removes the quiz, its questions and its attempts, or returns domain.ErrQuizNotFound.
	DeleteQuizCascading(ctx context.Context, quizID int64) error
	// SaveAttempt returns domain.ErrQuizNotFound when the quiz no longer exists.
	SaveAttempt(ctx context.Context, attempt domain.Attempt) (int64, error)
	// ListBestAttemptsPerStudent returns at least each student's best attempt on the quiz, with StudentName set.
	ListBestAttemptsPerStudent(ctx context.Context, quizID int64) ([]domain.Attempt, error)
	// ListAttemptsForStudent returns the student's attempts newest first, with QuizName set.
	ListAttemptsForStudent(ctx context.Context, studentID int64) ([]domain.Attempt, error)
}

// SessionTracker records which connections are live and who they belong to.
type SessionTracker interface {
	Opened(ctx context.Context, sessionID string)
	Authenticated(ctx context.Context, sessionID string, user domain.User)
	Closed(ctx context.Context, sessionID string)
	Active() int
}

// NoopTracker discards session events.
type NoopTracker struct{}

func (NoopTracker) Opened(context.Context, string)                     {}
func (NoopTracker) Authenticated(context.Context, string, domain.User) {}
func (NoopTracker) Closed(context.Context, string)                     {}
func (NoopTracker) Active() int                                        { return 0 }

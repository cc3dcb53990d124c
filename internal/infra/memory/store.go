package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-server/internal/domain"
)

// Store is an in-process app.Store. Each method runs under one lock, so a quiz
// and its questions appear together and a delete removes its attempts in the
// same critical section.
type Store struct {
	clock func() time.Time

	mu         sync.RWMutex
	lastUser   int64
	lastQuiz   int64
	lastQ      int64
	lastTry    int64
	users      map[int64]domain.User
	byUsername map[string]int64
	quizzes    map[int64]domain.Quiz
	attempts   map[int64]domain.Attempt
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		clock:      now,
		users:      make(map[int64]domain.User),
		byUsername: make(map[string]int64),
		quizzes:    make(map[int64]domain.Quiz),
		attempts:   make(map[int64]domain.Attempt),
	}
}

func (s *Store) AuthenticateUser(_ context.Context, username, password string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	user := s.users[id]
	if user.Password != password {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Store) RegisterUser(_ context.Context, user domain.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[user.Username]; ok {
		return 0, domain.ErrUsernameTaken
	}
	s.lastUser++
	user.ID = s.lastUser
	s.users[user.ID] = user
	s.byUsername[user.Username] = user.ID
	return user.ID, nil
}

func (s *Store) ListActiveQuizzes(_ context.Context) ([]domain.QuizSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		if q.Active {
			active = append(active, q)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})
	out := make([]domain.QuizSummary, 0, len(active))
	for _, q := range active {
		out = append(out, domain.QuizSummary{
			ID:             q.ID,
			Name:           q.Name,
			TeacherName:    s.users[q.TeacherID].FullName,
			TotalQuestions: q.TotalQuestions(),
			TimeLimit:      q.TimeLimit,
		})
	}
	return out, nil
}

func (s *Store) CreateQuizWithQuestions(_ context.Context, quiz domain.Quiz) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[quiz.TeacherID]; !ok {
		return 0, domain.ErrUserNotFound
	}
	s.lastQuiz++
	quiz.ID = s.lastQuiz
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = s.clock()
	}
	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		s.lastQ++
		q.ID = s.lastQ
		q.QuizID = quiz.ID
		q.Order = i + 1
		questions[i] = q
	}
	quiz.Questions = questions
	s.quizzes[quiz.ID] = quiz
	return quiz.ID, nil
}

func (s *Store) GetQuizWithQuestions(_ context.Context, quizID int64) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz.TeacherName = s.users[quiz.TeacherID].FullName
	quiz.Questions = append([]domain.Question(nil), quiz.Questions...)
	return quiz, nil
}

func (s *Store) DeleteQuizCascading(_ context.Context, quizID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return domain.ErrQuizNotFound
	}
	delete(s.quizzes, quizID)
	for id, a := range s.attempts {
		if a.QuizID == quizID {
			delete(s.attempts, id)
		}
	}
	return nil
}

func (s *Store) SaveAttempt(_ context.Context, attempt domain.Attempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[attempt.QuizID]; !ok {
		return 0, domain.ErrQuizNotFound
	}
	if _, ok := s.users[attempt.StudentID]; !ok {
		return 0, domain.ErrUserNotFound
	}
	s.lastTry++
	attempt.ID = s.lastTry
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.clock()
	}
	s.attempts[attempt.ID] = attempt
	return attempt.ID, nil
}

func (s *Store) ListBestAttemptsPerStudent(_ context.Context, quizID int64) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := make(map[int64]domain.Attempt)
	for _, a := range s.attempts {
		if a.QuizID != quizID {
			continue
		}
		cur, ok := best[a.StudentID]
		if !ok || a.Score > cur.Score || (a.Score == cur.Score && a.TimeTaken < cur.TimeTaken) ||
			(a.Score == cur.Score && a.TimeTaken == cur.TimeTaken && a.ID < cur.ID) {
			best[a.StudentID] = a
		}
	}
	out := make([]domain.Attempt, 0, len(best))
	for _, a := range best {
		out = append(out, s.withNamesLocked(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListAttemptsForStudent(_ context.Context, studentID int64) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			out = append(out, s.withNamesLocked(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) withNamesLocked(a domain.Attempt) domain.Attempt {
	if u, ok := s.users[a.StudentID]; ok {
		a.StudentName = u.FullName
	}
	if q, ok := s.quizzes[a.QuizID]; ok {
		a.QuizName = q.Name
	}
	return a
}

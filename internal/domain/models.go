package domain

import (
	"strings"
	"time"
)

// Role is the account type fixed at registration.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
)

// ParseRole accepts a role token in any case.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleTeacher:
		return RoleTeacher, nil
	}
	return "", NewValidationError("role", "must be STUDENT or TEACHER")
}

// User is a registered account. Password is an opaque credential compared by exact match.
type User struct {
	ID       int64
	Username string
	Password string
	FullName string
	Role     Role
}

func (u User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u User) IsStudent() bool { return u.Role == RoleStudent }

// Question is one multiple choice question. Order is 1-based and dense within a quiz.
type Question struct {
	ID      int64     `json:"id"`
	QuizID  int64     `json:"quizId"`
	Text    string    `json:"text"`
	Options [4]string `json:"options"`
	Correct string    `json:"correct"` // A, B, C or D
	Order   int       `json:"order"`
}

// Quiz is a teacher-owned set of questions.
type Quiz struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	TeacherID   int64      `json:"teacherId"`
	TeacherName string     `json:"teacherName"`
	TimeLimit   int        `json:"timeLimit"` // seconds per question
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	Questions   []Question `json:"questions"`
}

// TotalQuestions is always derived from the question list.
func (q Quiz) TotalQuestions() int { return len(q.Questions) }

// QuizSummary is the list view of an active quiz. TotalQuestions is counted by the store.
type QuizSummary struct {
	ID             int64
	Name           string
	TeacherName    string
	TotalQuestions int
	TimeLimit      int
}

// Attempt is one scored submission. It is never mutated after it is saved.
type Attempt struct {
	ID             int64
	QuizID         int64
	QuizName       string
	StudentID      int64
	StudentName    string
	Score          int
	TotalQuestions int
	Percentage     float64
	TimeTaken      int
	CreatedAt      time.Time
}

// LeaderboardEntry is one ranked row of a quiz leaderboard.
type LeaderboardEntry struct {
	StudentName    string
	Score          int
	TotalQuestions int
	Percentage     float64
	TimeTaken      int
}

// StudentResult is one row of a student's attempt history.
type StudentResult struct {
	QuizName       string
	Score          int
	TotalQuestions int
	Percentage     float64
	TimeTaken      int
	Date           time.Time
}

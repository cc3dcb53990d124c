package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-server/internal/app"
	"quiz-server/internal/domain"
)

const foreignKeyViolation = "23503"

// Store is the Postgres-backed app.Store. Multi-row operations run in a
// single transaction; cascades are enforced by foreign keys.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and wraps it in a Store.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (domain.User, error) {
	query := `
	SELECT user_id, username, full_name, role FROM users WHERE username = $1 AND password = $2
	`

	var (
		user domain.User
		role string
	)
	err := s.pool.QueryRow(ctx, query, username, password).Scan(&user.ID, &user.Username, &user.FullName, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("authenticate user: %w", err)
	}
	user.Role = domain.Role(role)
	return user, nil
}

func (s *Store) RegisterUser(ctx context.Context, user domain.User) (int64, error) {
	query := `
	INSERT INTO users (username, password, full_name, role) VALUES ($1, $2, $3, $4)
	ON CONFLICT (username) DO NOTHING
	RETURNING user_id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query, user.Username, user.Password, user.FullName, string(user.Role)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUsernameTaken
	}
	if err != nil {
		return 0, fmt.Errorf("register user: %w", err)
	}
	return id, nil
}

func (s *Store) ListActiveQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	query := `
	SELECT q.quiz_id, q.quiz_name, u.full_name,
	       (SELECT count(*) FROM questions qs WHERE qs.quiz_id = q.quiz_id)::int,
	       q.time_limit
	FROM quizzes q
	JOIN users u ON u.user_id = q.teacher_id
	WHERE q.is_active
	ORDER BY q.created_at DESC, q.quiz_id DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QuizSummary, 0)
	for rows.Next() {
		var q domain.QuizSummary
		if err := rows.Scan(&q.ID, &q.Name, &q.TeacherName, &q.TotalQuestions, &q.TimeLimit); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return out, nil
}

// CreateQuizWithQuestions inserts the quiz row and every question in one
// transaction, so readers never see a quiz with a partial question set.
func (s *Store) CreateQuizWithQuestions(ctx context.Context, quiz domain.Quiz) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var quizID int64
	err = tx.QueryRow(ctx, `
	INSERT INTO quizzes (quiz_name, teacher_id, time_limit, is_active, created_at)
	VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	RETURNING quiz_id
	`, quiz.Name, quiz.TeacherID, quiz.TimeLimit, quiz.Active, nullTime(quiz)).Scan(&quizID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("insert quiz: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range quiz.Questions {
		batch.Queue(`
		INSERT INTO questions (quiz_id, question_text, option_a, option_b, option_c, option_d, correct_answer, question_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, quizID, q.Text, q.Options[0], q.Options[1], q.Options[2], q.Options[3], q.Correct, i+1)
	}
	results := tx.SendBatch(ctx, batch)
	for range quiz.Questions {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert question: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("insert questions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit quiz: %w", err)
	}
	return quizID, nil
}

func (s *Store) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var quiz domain.Quiz
	err = tx.QueryRow(ctx, `
	SELECT q.quiz_id, q.quiz_name, q.teacher_id, u.full_name, q.time_limit, q.is_active, q.created_at
	FROM quizzes q
	JOIN users u ON u.user_id = q.teacher_id
	WHERE q.quiz_id = $1
	`, quizID).Scan(&quiz.ID, &quiz.Name, &quiz.TeacherID, &quiz.TeacherName, &quiz.TimeLimit, &quiz.Active, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := tx.Query(ctx, `
	SELECT question_id, quiz_id, question_text, option_a, option_b, option_c, option_d, correct_answer, question_order
	FROM questions
	WHERE quiz_id = $1
	ORDER BY question_order
	`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Text, &q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &q.Correct, &q.Order); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	return quiz, nil
}

// DeleteQuizCascading relies on ON DELETE CASCADE for questions and attempts.
func (s *Store) DeleteQuizCascading(ctx context.Context, quizID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE quiz_id = $1`, quizID)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) SaveAttempt(ctx context.Context, attempt domain.Attempt) (int64, error) {
	query := `
	INSERT INTO quiz_attempts (quiz_id, student_id, score, total_questions, percentage, time_taken, attempt_date)
	VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	RETURNING attempt_id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		attempt.QuizID,
		attempt.StudentID,
		attempt.Score,
		attempt.TotalQuestions,
		attempt.Percentage,
		attempt.TimeTaken,
		nullAttemptTime(attempt),
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			// The quiz was deleted between grading and saving.
			return 0, domain.ErrQuizNotFound
		}
		return 0, fmt.Errorf("save attempt: %w", err)
	}
	return id, nil
}

func (s *Store) ListBestAttemptsPerStudent(ctx context.Context, quizID int64) ([]domain.Attempt, error) {
	query := `
	SELECT qa.attempt_id, qa.quiz_id, q.quiz_name, qa.student_id, u.full_name,
	       qa.score, qa.total_questions, qa.percentage, qa.time_taken, qa.attempt_date
	FROM (
		SELECT *, ROW_NUMBER() OVER (
			PARTITION BY student_id
			ORDER BY score DESC, time_taken ASC, attempt_id ASC
		) AS rn
		FROM quiz_attempts
		WHERE quiz_id = $1
	) qa
	JOIN users u ON u.user_id = qa.student_id
	JOIN quizzes q ON q.quiz_id = qa.quiz_id
	WHERE qa.rn = 1
	ORDER BY qa.score DESC, qa.time_taken ASC, u.full_name ASC, qa.student_id ASC
	LIMIT $2
	`

	return s.queryAttempts(ctx, query, quizID, app.LeaderboardSize)
}

func (s *Store) ListAttemptsForStudent(ctx context.Context, studentID int64) ([]domain.Attempt, error) {
	query := `
	SELECT qa.attempt_id, qa.quiz_id, q.quiz_name, qa.student_id, u.full_name,
	       qa.score, qa.total_questions, qa.percentage, qa.time_taken, qa.attempt_date
	FROM quiz_attempts qa
	JOIN quizzes q ON q.quiz_id = qa.quiz_id
	JOIN users u ON u.user_id = qa.student_id
	WHERE qa.student_id = $1
	ORDER BY qa.attempt_date DESC, qa.attempt_id DESC
	`

	return s.queryAttempts(ctx, query, studentID)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Attempt, 0)
	for rows.Next() {
		var a domain.Attempt
		err := rows.Scan(&a.ID, &a.QuizID, &a.QuizName, &a.StudentID, &a.StudentName,
			&a.Score, &a.TotalQuestions, &a.Percentage, &a.TimeTaken, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return out, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func nullTime(quiz domain.Quiz) interface{} {
	if quiz.CreatedAt.IsZero() {
		return nil
	}
	return quiz.CreatedAt
}

func nullAttemptTime(attempt domain.Attempt) interface{} {
	if attempt.CreatedAt.IsZero() {
		return nil
	}
	return attempt.CreatedAt
}

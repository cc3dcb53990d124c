package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"quiz-server/internal/app"
	"quiz-server/internal/config"
	"quiz-server/internal/domain"
	"quiz-server/internal/infra/memory"
	"quiz-server/internal/infra/postgres"
)

// NewSeedCmd registers demo accounts and a sample quiz for local smoke tests.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo teacher, student and quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			var store app.Store
			if cfg.Postgres.URL != "" {
				if err := runMigrations(ctx, cfg, logger); err != nil {
					return err
				}
				pg, err := postgres.Connect(ctx, cfg.Postgres.URL)
				if err != nil {
					return err
				}
				defer pg.Close()
				store = pg
			} else {
				logger.Warn("no postgres url configured, seeding a throwaway in-memory store")
				store = memory.NewStore()
			}
			_, err = seedDemo(ctx, store, logger)
			return err
		},
	}
}

var demoTeacher = domain.User{Username: "teacher", Password: "teacher123", FullName: "Demo Teacher", Role: domain.RoleTeacher}

var demoStudent = domain.User{Username: "student", Password: "student123", FullName: "Demo Student", Role: domain.RoleStudent}

func demoQuiz(teacher domain.User) domain.Quiz {
	return domain.Quiz{
		Name:      "Go Basics",
		TeacherID: teacher.ID,
		TimeLimit: 30,
		Active:    true,
		Questions: []domain.Question{
			{Text: "Which keyword starts a goroutine?", Options: [4]string{"go", "async", "spawn", "thread"}, Correct: "A", Order: 1},
			{Text: "What does len return for a nil slice?", Options: [4]string{"-1", "panic", "0", "nil"}, Correct: "C", Order: 2},
			{Text: "Which package formats strings?", Options: [4]string{"strings", "fmt", "bytes", "text"}, Correct: "B", Order: 3},
		},
	}
}

// seedDemo is safe to run repeatedly: existing accounts are reused, and the
// sample quiz is only created once per teacher.
func seedDemo(ctx context.Context, store app.Store, logger *slog.Logger) (int64, error) {
	teacher, err := ensureUser(ctx, store, demoTeacher)
	if err != nil {
		return 0, err
	}
	if _, err := ensureUser(ctx, store, demoStudent); err != nil {
		return 0, err
	}

	sample := demoQuiz(teacher)
	quizzes, err := store.ListActiveQuizzes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list quizzes: %w", err)
	}
	for _, q := range quizzes {
		if q.Name == sample.Name && q.TeacherName == teacher.FullName {
			logger.Info("demo quiz already present", "quizId", q.ID)
			return q.ID, nil
		}
	}

	quizID, err := store.CreateQuizWithQuestions(ctx, sample)
	if err != nil {
		return 0, fmt.Errorf("create demo quiz: %w", err)
	}
	logger.Info("demo data seeded", "quizId", quizID, "teacher", teacher.Username, "student", demoStudent.Username)
	return quizID, nil
}

func ensureUser(ctx context.Context, store app.Store, user domain.User) (domain.User, error) {
	_, err := store.RegisterUser(ctx, user)
	if err != nil && !errors.Is(err, domain.ErrUsernameTaken) {
		return domain.User{}, fmt.Errorf("register %s: %w", user.Username, err)
	}
	got, err := store.AuthenticateUser(ctx, user.Username, user.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("username %s is taken by another account: %w", user.Username, err)
	}
	return got, nil
}

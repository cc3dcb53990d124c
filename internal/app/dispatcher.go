package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"quiz-server/internal/domain"
	"quiz-server/internal/protocol"
)

const serverErrorText = "Server error while processing request"

// Dispatcher executes one request per call against the shared Store and
// produces exactly one response.
type Dispatcher struct {
	store   Store
	tracker SessionTracker
	now     func() time.Time
}

func NewDispatcher(store Store, tracker SessionTracker) *Dispatcher {
	return NewDispatcherWithClock(store, tracker, time.Now)
}

// NewDispatcherWithClock is used by tests for deterministic attempt timestamps.
func NewDispatcherWithClock(store Store, tracker SessionTracker, now func() time.Time) *Dispatcher {
	if tracker == nil {
		tracker = NoopTracker{}
	}
	return &Dispatcher{store: store, tracker: tracker, now: now}
}

// HandleLine decodes one wire line and dispatches it. The returned response
// is nil only when the connection must close without replying.
func (d *Dispatcher) HandleLine(ctx context.Context, s *Session, line string) (protocol.Response, bool) {
	msg, err := protocol.Decode(line)
	if err != nil {
		s.Logger().Warn("undecodable line", "err", err)
		return protocol.ErrorResponse{Text: "Unknown command"}, false
	}
	return d.HandleMessage(ctx, s, msg)
}

// HandleMessage parses and dispatches an already decoded message.
func (d *Dispatcher) HandleMessage(ctx context.Context, s *Session, msg protocol.Message) (protocol.Response, bool) {
	req, err := protocol.ParseRequest(msg)
	if err != nil {
		s.Logger().Warn("rejected request", "cmd", msg.Command, "err", err)
		return parseFailure(msg.Command, err), false
	}
	return d.Dispatch(ctx, s, req)
}

// Dispatch runs the handler for req. Handler failures, including panics, are
// logged and turned into ERROR responses; they never end the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, req protocol.Request) (resp protocol.Response, closeConn bool) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger().Error("handler panic", "cmd", req.Command(), "panic", r)
			resp, closeConn = protocol.ErrorResponse{Text: serverErrorText}, false
		}
	}()

	var err error
	switch r := req.(type) {
	case protocol.LoginRequest:
		resp, err = d.login(ctx, s, r)
	case protocol.RegisterRequest:
		resp, err = d.register(ctx, r)
	case protocol.ActiveQuizzesRequest:
		resp, err = d.activeQuizzes(ctx)
	case protocol.CreateQuizRequest:
		resp, err = d.createQuiz(ctx, s, r)
	case protocol.StartQuizRequest:
		resp, err = d.startQuiz(ctx, r)
	case protocol.FinishQuizRequest:
		resp, err = d.finishQuiz(ctx, s, r)
	case protocol.LeaderboardRequest:
		resp, err = d.leaderboard(ctx, r)
	case protocol.MyResultsRequest:
		resp, err = d.myResults(ctx, s)
	case protocol.DeleteQuizRequest:
		resp, err = d.deleteQuiz(ctx, s, r)
	case protocol.DisconnectRequest:
		s.Logger().Info("client requested disconnect")
		return nil, true
	default:
		s.Logger().Warn("unknown command", "cmd", req.Command())
		return protocol.ErrorResponse{Text: "Unknown command"}, false
	}
	if err != nil {
		logFailure(s.Logger(), req.Command(), err)
		return errorResponse(err), false
	}
	return resp, false
}

func (d *Dispatcher) login(ctx context.Context, s *Session, req protocol.LoginRequest) (protocol.Response, error) {
	// A LOGIN replaces the current identity; until it succeeds the session is anonymous.
	if _, ok := s.User(); ok {
		s.Clear()
		d.tracker.Opened(ctx, s.ID())
	}
	if req.Username == "" || req.Password == "" {
		return protocol.LoginFailed{Reason: "Invalid login format"}, nil
	}
	s.Logger().Info("login attempt", "username", req.Username)

	user, err := d.store.AuthenticateUser(ctx, req.Username, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		s.Logger().Info("login failed", "username", req.Username)
		return protocol.LoginFailed{Reason: "Invalid credentials"}, nil
	}
	if err != nil {
		return nil, domain.WrapStore("log in", err)
	}

	if req.Role != "" {
		claimed, err := domain.ParseRole(req.Role)
		if err != nil {
			return protocol.LoginFailed{Reason: "Invalid role"}, nil
		}
		if claimed != user.Role {
			s.Logger().Info("login failed", "username", req.Username, "err", domain.ErrRoleMismatch,
				"claimed", claimed, "actual", user.Role)
			return protocol.LoginFailed{
				Reason: fmt.Sprintf("Role mismatch: account is registered as %s", user.Role),
			}, nil
		}
	}

	s.login(user)
	d.tracker.Authenticated(ctx, s.ID(), user)
	s.Logger().Info("login successful", "userId", user.ID, "role", user.Role)
	return protocol.LoginSuccess{UserID: user.ID, FullName: user.FullName, Role: user.Role}, nil
}

func (d *Dispatcher) register(ctx context.Context, req protocol.RegisterRequest) (protocol.Response, error) {
	username := strings.TrimSpace(req.Username)
	fullName := strings.TrimSpace(req.FullName)
	if username == "" || req.Password == "" || fullName == "" {
		return protocol.RegisterFailed{Reason: "Username, password and full name are required"}, nil
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return protocol.RegisterFailed{Reason: "Invalid role"}, nil
	}

	_, err = d.store.RegisterUser(ctx, domain.User{
		Username: username,
		Password: req.Password,
		FullName: fullName,
		Role:     role,
	})
	if errors.Is(err, domain.ErrUsernameTaken) {
		return protocol.RegisterFailed{Reason: "Username already exists"}, nil
	}
	if err != nil {
		return nil, domain.WrapStore("register", err)
	}
	return protocol.RegisterSuccess{Text: "Registration successful"}, nil
}

func (d *Dispatcher) activeQuizzes(ctx context.Context) (protocol.Response, error) {
	quizzes, err := d.store.ListActiveQuizzes(ctx)
	if err != nil {
		return nil, domain.WrapStore("list quizzes", err)
	}
	return protocol.QuizList{Quizzes: quizzes}, nil
}

func (d *Dispatcher) createQuiz(ctx context.Context, s *Session, req protocol.CreateQuizRequest) (protocol.Response, error) {
	teacher, err := s.requireTeacher()
	if err != nil {
		return nil, err
	}
	quiz, err := buildQuiz(teacher, req, d.now())
	if err != nil {
		return nil, err
	}

	quizID, err := d.store.CreateQuizWithQuestions(ctx, quiz)
	if err != nil {
		if quizID > 0 {
			// The adapter left a quiz without its full question set.
			if derr := d.store.DeleteQuizCascading(ctx, quizID); derr != nil {
				s.Logger().Error("remove partial quiz", "quizId", quizID, "err", derr)
			}
		}
		return nil, domain.WrapStore("create quiz", err)
	}
	s.Logger().Info("quiz created", "quizId", quizID, "questions", quiz.TotalQuestions())
	return protocol.QuizCreated{QuizID: quizID}, nil
}

func buildQuiz(teacher domain.User, req protocol.CreateQuizRequest, now time.Time) (domain.Quiz, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Quiz{}, domain.NewValidationError("name", "must not be empty")
	}
	if req.TimeLimit <= 0 {
		return domain.Quiz{}, domain.NewValidationError("timeLimit", "must be positive")
	}
	if req.QuestionCount != len(req.Questions) {
		return domain.Quiz{}, domain.NewValidationError("questionCount",
			fmt.Sprintf("declared %d but %d questions were sent", req.QuestionCount, len(req.Questions)))
	}
	if len(req.Questions) == 0 {
		return domain.Quiz{}, domain.NewValidationError("questionCount", "need at least one question")
	}

	quiz := domain.Quiz{
		Name:        name,
		TeacherID:   teacher.ID,
		TeacherName: teacher.FullName,
		TimeLimit:   req.TimeLimit,
		Active:      true,
		CreatedAt:   now,
		Questions:   make([]domain.Question, 0, len(req.Questions)),
	}
	for i, in := range req.Questions {
		q, err := buildQuestion(i+1, in)
		if err != nil {
			return domain.Quiz{}, err
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, nil
}

func buildQuestion(order int, in protocol.QuestionInput) (domain.Question, error) {
	field := fmt.Sprintf("question %d", order)
	if strings.TrimSpace(in.Text) == "" {
		return domain.Question{}, domain.NewValidationError(field, "text must not be empty")
	}
	for _, opt := range in.Options {
		if strings.TrimSpace(opt) == "" {
			return domain.Question{}, domain.NewValidationError(field, "options must not be empty")
		}
	}
	correct := strings.ToUpper(strings.TrimSpace(in.Correct))
	if len(correct) != 1 || correct[0] < 'A' || correct[0] > 'D' {
		return domain.Question{}, domain.NewValidationError(field, "correct answer must be A, B, C or D")
	}
	return domain.Question{
		Text:    in.Text,
		Options: in.Options,
		Correct: correct,
		Order:   order,
	}, nil
}

func (d *Dispatcher) startQuiz(ctx context.Context, req protocol.StartQuizRequest) (protocol.Response, error) {
	quiz, err := d.loadQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}
	questions := orderedQuestions(quiz.Questions)
	views := make([]protocol.QuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, protocol.QuestionView{ID: q.ID, Text: q.Text, Options: q.Options})
	}
	return protocol.QuizData{
		QuizID:         quiz.ID,
		Name:           quiz.Name,
		TotalQuestions: len(questions),
		TimeLimit:      quiz.TimeLimit,
		Questions:      views,
	}, nil
}

func (d *Dispatcher) finishQuiz(ctx context.Context, s *Session, req protocol.FinishQuizRequest) (protocol.Response, error) {
	student, err := s.requireStudent()
	if err != nil {
		return nil, err
	}
	if req.TimeTaken < 0 {
		return nil, domain.NewValidationError("timeTaken", "must not be negative")
	}

	// Always grade against the stored answer key.
	quiz, err := d.loadQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}
	result := ScoreAnswers(orderedQuestions(quiz.Questions), req.Answers)

	attempt := domain.Attempt{
		QuizID:         quiz.ID,
		QuizName:       quiz.Name,
		StudentID:      student.ID,
		StudentName:    student.FullName,
		Score:          result.Score,
		TotalQuestions: result.Total,
		Percentage:     result.Percentage,
		TimeTaken:      req.TimeTaken,
		CreatedAt:      d.now(),
	}
	attemptID, err := d.store.SaveAttempt(ctx, attempt)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return nil, domain.NotFound(domain.ErrQuizNotFound, req.QuizID)
	}
	if err != nil {
		return nil, domain.WrapStore("save quiz result", err)
	}
	s.Logger().Info("quiz submitted", "quizId", quiz.ID, "attemptId", attemptID,
		"score", result.Score, "total", result.Total)
	return protocol.QuizResult{Score: result.Score, Total: result.Total, Percentage: result.Percentage}, nil
}

func (d *Dispatcher) leaderboard(ctx context.Context, req protocol.LeaderboardRequest) (protocol.Response, error) {
	attempts, err := d.store.ListBestAttemptsPerStudent(ctx, req.QuizID)
	if err != nil {
		return nil, domain.WrapStore("load leaderboard", err)
	}
	return protocol.LeaderboardData{Entries: RankLeaderboard(attempts)}, nil
}

func (d *Dispatcher) myResults(ctx context.Context, s *Session) (protocol.Response, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	attempts, err := d.store.ListAttemptsForStudent(ctx, user.ID)
	if err != nil {
		return nil, domain.WrapStore("load results", err)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		if !attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
		}
		return attempts[i].ID > attempts[j].ID
	})
	results := make([]domain.StudentResult, 0, len(attempts))
	for _, a := range attempts {
		results = append(results, domain.StudentResult{
			QuizName:       a.QuizName,
			Score:          a.Score,
			TotalQuestions: a.TotalQuestions,
			Percentage:     a.Percentage,
			TimeTaken:      a.TimeTaken,
			Date:           a.CreatedAt,
		})
	}
	return protocol.ResultsData{Results: results}, nil
}

func (d *Dispatcher) deleteQuiz(ctx context.Context, s *Session, req protocol.DeleteQuizRequest) (protocol.Response, error) {
	teacher, err := s.requireTeacher()
	if err != nil {
		return nil, err
	}
	quiz, err := d.loadQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}
	if quiz.TeacherID != teacher.ID {
		return nil, domain.Unauthorized(domain.ErrNotQuizOwner)
	}

	err = d.store.DeleteQuizCascading(ctx, req.QuizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return nil, domain.NotFound(domain.ErrQuizNotFound, req.QuizID)
	}
	if err != nil {
		return nil, domain.WrapStore("delete quiz", err)
	}
	s.Logger().Info("quiz deleted", "quizId", req.QuizID)
	return protocol.QuizDeleted{QuizID: req.QuizID}, nil
}

func (d *Dispatcher) loadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	quiz, err := d.store.GetQuizWithQuestions(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return domain.Quiz{}, domain.NotFound(domain.ErrQuizNotFound, quizID)
	}
	if err != nil {
		return domain.Quiz{}, domain.WrapStore("load quiz", err)
	}
	return quiz, nil
}

// parseFailure keeps the command-specific failure replies for LOGIN and REGISTER.
func parseFailure(command string, err error) protocol.Response {
	var ferr *protocol.FormatError
	switch {
	case command == protocol.CmdLogin && errors.As(err, &ferr):
		return protocol.LoginFailed{Reason: "Invalid login format"}
	case command == protocol.CmdRegister && errors.As(err, &ferr):
		return protocol.RegisterFailed{Reason: "Invalid registration format"}
	}
	return errorResponse(err)
}

func errorResponse(err error) protocol.Response {
	var (
		ferr *protocol.FormatError
		verr *domain.ValidationError
		aerr *domain.AuthorizationError
		nerr *domain.NotFoundError
		serr *domain.StoreError
	)
	switch {
	case errors.As(err, &ferr):
		return protocol.ErrorResponse{Text: "Invalid message format"}
	case errors.As(err, &verr):
		return protocol.ErrorResponse{Text: capitalize(verr.Error())}
	case errors.As(err, &aerr):
		return protocol.ErrorResponse{Text: capitalize(aerr.Error())}
	case errors.As(err, &nerr):
		return protocol.ErrorResponse{Text: capitalize(nerr.Error())}
	case errors.As(err, &serr):
		return protocol.ErrorResponse{Text: "Failed to " + serr.Op}
	}
	return protocol.ErrorResponse{Text: serverErrorText}
}

func logFailure(logger *slog.Logger, cmd string, err error) {
	var (
		aerr *domain.AuthorizationError
		verr *domain.ValidationError
		nerr *domain.NotFoundError
	)
	switch {
	case errors.As(err, &aerr):
		logger.Warn("request denied", "cmd", cmd, "err", err)
	case errors.As(err, &verr), errors.As(err, &nerr):
		logger.Info("request rejected", "cmd", cmd, "err", err)
	default:
		logger.Error("request failed", "cmd", cmd, "err", err)
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

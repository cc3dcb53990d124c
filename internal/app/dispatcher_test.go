package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quiz-server/internal/app"
	"quiz-server/internal/domain"
	"quiz-server/internal/infra/memory"
	"quiz-server/internal/protocol"
)

const mathQuiz = "CREATE_QUIZ|||Math|||30|||2|||2+2?:::3:::4:::5:::6:::B|||3*3?:::6:::9:::12:::15:::b"

type harness struct {
	t          *testing.T
	store      app.Store
	dispatcher *app.Dispatcher
	tracker    *memory.SessionTracker
}

func newHarness(t *testing.T, store app.Store) *harness {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	tracker := memory.NewSessionTracker()
	return &harness{
		t:          t,
		store:      store,
		dispatcher: app.NewDispatcherWithClock(store, tracker, clock),
		tracker:    tracker,
	}
}

func (h *harness) session(id string) *app.Session {
	return app.NewSession(id, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (h *harness) send(s *app.Session, line string) string {
	h.t.Helper()
	resp, closeConn := h.dispatcher.HandleLine(context.Background(), s, line)
	require.False(h.t, closeConn, "unexpected close for %q", line)
	require.NotNil(h.t, resp, "nil response for %q", line)
	return resp.Message().Encode()
}

func (h *harness) login(id, username, fullName string, role domain.Role) *app.Session {
	h.t.Helper()
	s := h.session(id)
	require.Equal(h.t, "REGISTER_SUCCESS|||Registration successful",
		h.send(s, "REGISTER|||"+username+"|||pw|||"+fullName+"|||"+string(role)))
	require.True(h.t, strings.HasPrefix(h.send(s, "LOGIN|||"+username+"|||pw"), "LOGIN_SUCCESS|||"))
	return s
}

func (h *harness) createQuiz(s *app.Session, line string) string {
	h.t.Helper()
	got := h.send(s, line)
	require.True(h.t, strings.HasPrefix(got, "QUIZ_CREATED|||"), got)
	return strings.TrimPrefix(got, "QUIZ_CREATED|||")
}

func TestLoginAndRegister(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session("c1")

	assert.Equal(t, "REGISTER_SUCCESS|||Registration successful", h.send(s, "REGISTER|||alice|||pw|||Alice A|||student"))
	assert.Equal(t, "REGISTER_FAILED|||Username already exists", h.send(s, "REGISTER|||alice|||x|||Other|||STUDENT"))
	assert.Equal(t, "REGISTER_FAILED|||Invalid role", h.send(s, "REGISTER|||bob|||pw|||Bob|||ADMIN"))
	assert.Equal(t, "REGISTER_FAILED|||Invalid registration format", h.send(s, "REGISTER|||bob|||pw"))

	assert.Equal(t, "LOGIN_FAILED|||Invalid credentials", h.send(s, "LOGIN|||alice|||wrong"))
	assert.Equal(t, "LOGIN_FAILED|||Invalid login format", h.send(s, "LOGIN|||alice"))

	got := h.send(s, "LOGIN|||alice|||pw")
	assert.Regexp(t, `^LOGIN_SUCCESS\|\|\|\d+\|\|\|Alice A\|\|\|STUDENT$`, got)
	user, ok := s.User()
	require.True(t, ok)
	assert.Empty(t, user.Password)

	tracked, ok := h.tracker.Get("c1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleStudent, tracked.Role)
}

func TestLoginRoleMismatchKeepsSessionAnonymous(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session("c1")
	h.send(s, "REGISTER|||tina|||pw|||Tina T|||TEACHER")

	assert.Equal(t, "LOGIN_FAILED|||Role mismatch: account is registered as TEACHER", h.send(s, "LOGIN|||tina|||pw|||STUDENT"))
	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, "ERROR|||Only teachers can manage quizzes", h.send(s, mathQuiz))

	assert.True(t, strings.HasPrefix(h.send(s, "LOGIN|||tina|||pw|||teacher"), "LOGIN_SUCCESS|||"))
}

func TestFailedReloginDropsIdentity(t *testing.T) {
	h := newHarness(t, nil)
	s := h.login("c1", "tina", "Tina T", domain.RoleTeacher)
	h.send(h.session("c2"), "REGISTER|||sam|||pw|||Sam S|||STUDENT")

	assert.Equal(t, "LOGIN_FAILED|||Invalid credentials", h.send(s, "LOGIN|||sam|||wrong"))
	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, "ERROR|||Not logged in", h.send(s, "GET_MY_RESULTS"))

	tracked, ok := h.tracker.Get("c1")
	require.True(t, ok)
	assert.Empty(t, tracked.Role)

	require.True(t, strings.HasPrefix(h.send(s, "LOGIN|||tina|||pw"), "LOGIN_SUCCESS|||"))
	assert.Equal(t, "LOGIN_FAILED|||Role mismatch: account is registered as STUDENT", h.send(s, "LOGIN|||sam|||pw|||TEACHER"))
	_, ok = s.User()
	assert.False(t, ok)
}

func TestCreateQuizValidation(t *testing.T) {
	h := newHarness(t, nil)
	student := h.login("s", "sam", "Sam S", domain.RoleStudent)
	teacher := h.login("t", "tina", "Tina T", domain.RoleTeacher)

	assert.Equal(t, "ERROR|||Only teachers can manage quizzes", h.send(student, mathQuiz))
	assert.Equal(t, "ERROR|||Only teachers can manage quizzes", h.send(h.session("anon"), mathQuiz))

	cases := map[string]string{
		"CREATE_QUIZ|||Math|||30|||2|||2+2?:::3:::4:::5:::6:::B":  "ERROR|||Invalid questionCount: declared 2 but 1 questions were sent",
		"CREATE_QUIZ|||Math|||0|||1|||2+2?:::3:::4:::5:::6:::B":   "ERROR|||Invalid timeLimit: must be positive",
		"CREATE_QUIZ|||   |||30|||1|||2+2?:::3:::4:::5:::6:::B":   "ERROR|||Invalid name: must not be empty",
		"CREATE_QUIZ|||Math|||30|||1|||2+2?:::3:::4:::5:::6:::E":  "ERROR|||Invalid question 1: correct answer must be A, B, C or D",
		"CREATE_QUIZ|||Math|||30|||1|||2+2?:::3:::4:::5:::6":      "ERROR|||Invalid message format",
		"CREATE_QUIZ|||Math|||soon|||1|||2+2?:::3:::4:::5:::6:::B": `ERROR|||Invalid timeLimit: not a number: "soon"`,
		"CREATE_QUIZ|||Math|||30|||0":                             "ERROR|||Invalid questionCount: need at least one question",
	}
	for line, want := range cases {
		assert.Equal(t, want, h.send(teacher, line), line)
	}

	quizzes, err := h.store.ListActiveQuizzes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quizzes)
}

func TestActiveQuizCountMatchesStartQuiz(t *testing.T) {
	h := newHarness(t, nil)
	teacher := h.login("t", "tina", "Tina T", domain.RoleTeacher)
	first := h.createQuiz(teacher, mathQuiz)
	second := h.createQuiz(teacher, "CREATE_QUIZ|||Tiny|||10|||1|||Yes?:::y:::n:::m:::x:::A")

	anon := h.session("anon")
	assert.Equal(t, "QUIZ_LIST|||"+second+":::Tiny:::Tina T:::1:::10|||"+first+":::Math:::Tina T:::2:::30",
		h.send(anon, "GET_ACTIVE_QUIZZES"))

	msg, err := protocol.Decode(h.send(anon, "START_QUIZ|||"+first))
	require.NoError(t, err)
	resp, err := protocol.ParseResponse(msg)
	require.NoError(t, err)
	data := resp.(protocol.QuizData)
	assert.Equal(t, 2, data.TotalQuestions)
	require.Len(t, data.Questions, 2)
	assert.Equal(t, "2+2?", data.Questions[0].Text)
	assert.Equal(t, "3*3?", data.Questions[1].Text)

	assert.Equal(t, "ERROR|||Quiz not found", h.send(anon, "START_QUIZ|||999"))
	assert.Equal(t, `ERROR|||Invalid quizId: not a number: "x"`, h.send(anon, "START_QUIZ|||x"))
}

func TestFinishQuizScoresAndRecords(t *testing.T) {
	h := newHarness(t, nil)
	teacher := h.login("t", "tina", "Tina T", domain.RoleTeacher)
	quizID := h.createQuiz(teacher, mathQuiz)
	student := h.login("s", "sam", "Sam S", domain.RoleStudent)

	assert.Equal(t, "ERROR|||Not logged in", h.send(h.session("anon"), "FINISH_QUIZ|||"+quizID+"|||10|||B|||B"))
	assert.Equal(t, "ERROR|||Only students can submit quizzes", h.send(teacher, "FINISH_QUIZ|||"+quizID+"|||10|||B|||B"))
	assert.Equal(t, "ERROR|||Invalid timeTaken: must not be negative", h.send(student, "FINISH_QUIZ|||"+quizID+"|||-1|||B|||B"))
	assert.Equal(t, "ERROR|||Quiz not found", h.send(student, "FINISH_QUIZ|||999|||10|||B"))

	assert.Equal(t, "QUIZ_RESULT|||1|||2|||50.00", h.send(student, "FINISH_QUIZ|||"+quizID+"|||50|||b|||A"))
	assert.Equal(t, "QUIZ_RESULT|||2|||2|||100.00", h.send(student, "FINISH_QUIZ|||"+quizID+"|||70|||B|||b"))
	assert.Equal(t, "QUIZ_RESULT|||0|||2|||0.00", h.send(student, "FINISH_QUIZ|||"+quizID+"|||5"))

	results := h.send(student, "GET_MY_RESULTS")
	rows := strings.Split(strings.TrimPrefix(results, "RESULTS_DATA|||"), "|||")
	require.Len(t, rows, 3)
	assert.True(t, strings.HasPrefix(rows[0], "Math:::0:::2:::0.00:::5:::"), rows[0])
	assert.True(t, strings.HasPrefix(rows[2], "Math:::1:::2:::50.00:::50:::2024-05-01 "), rows[2])

	assert.Equal(t, "LEADERBOARD_DATA|||Sam S:::2:::2:::100.00:::70", h.send(teacher, "GET_LEADERBOARD|||"+quizID))
	assert.Equal(t, "RESULTS_DATA", h.send(teacher, "GET_MY_RESULTS"))
	assert.Equal(t, "ERROR|||Not logged in", h.send(h.session("anon"), "GET_MY_RESULTS"))
}

func TestDeleteQuizCascades(t *testing.T) {
	h := newHarness(t, nil)
	teacher := h.login("t", "tina", "Tina T", domain.RoleTeacher)
	other := h.login("o", "otto", "Otto O", domain.RoleTeacher)
	student := h.login("s", "sam", "Sam S", domain.RoleStudent)
	quizID := h.createQuiz(teacher, mathQuiz)
	h.send(student, "FINISH_QUIZ|||"+quizID+"|||30|||B|||B")

	assert.Equal(t, "ERROR|||Only teachers can manage quizzes", h.send(student, "DELETE_QUIZ|||"+quizID))
	assert.Equal(t, "ERROR|||Quiz belongs to another teacher", h.send(other, "DELETE_QUIZ|||"+quizID))
	assert.Equal(t, "QUIZ_DELETED|||"+quizID, h.send(teacher, "DELETE_QUIZ|||"+quizID))

	assert.Equal(t, "QUIZ_LIST", h.send(student, "GET_ACTIVE_QUIZZES"))
	assert.Equal(t, "LEADERBOARD_DATA", h.send(student, "GET_LEADERBOARD|||"+quizID))
	assert.Equal(t, "RESULTS_DATA", h.send(student, "GET_MY_RESULTS"))
	assert.Equal(t, "ERROR|||Quiz not found", h.send(teacher, "DELETE_QUIZ|||"+quizID))
}

func TestUnknownAndDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session("c1")

	assert.Equal(t, "ERROR|||Unknown command", h.send(s, "DANCE|||now"))
	assert.Equal(t, "ERROR|||Unknown command", h.send(s, ""))

	resp, closeConn := h.dispatcher.HandleLine(context.Background(), s, "DISCONNECT")
	assert.Nil(t, resp)
	assert.True(t, closeConn)
}

type failingStore struct {
	*memory.Store
	listErr    error
	createID   int64
	createErr  error
	deleted    []int64
	panicOnGet bool
}

func (f *failingStore) ListActiveQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListActiveQuizzes(ctx)
}

func (f *failingStore) CreateQuizWithQuestions(ctx context.Context, quiz domain.Quiz) (int64, error) {
	if f.createErr != nil {
		return f.createID, f.createErr
	}
	return f.Store.CreateQuizWithQuestions(ctx, quiz)
}

func (f *failingStore) DeleteQuizCascading(ctx context.Context, quizID int64) error {
	f.deleted = append(f.deleted, quizID)
	return f.Store.DeleteQuizCascading(ctx, quizID)
}

func (f *failingStore) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	if f.panicOnGet {
		panic("boom")
	}
	return f.Store.GetQuizWithQuestions(ctx, quizID)
}

func TestStoreFailuresBecomeErrors(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), listErr: errors.New("connection refused")}
	h := newHarness(t, store)
	assert.Equal(t, "ERROR|||Failed to list quizzes", h.send(h.session("c"), "GET_ACTIVE_QUIZZES"))
}

func TestPartialCreateIsRemoved(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), createID: 7, createErr: errors.New("question insert failed")}
	h := newHarness(t, store)
	teacher := h.login("t", "tina", "Tina T", domain.RoleTeacher)

	assert.Equal(t, "ERROR|||Failed to create quiz", h.send(teacher, mathQuiz))
	assert.Equal(t, []int64{7}, store.deleted)
}

func TestHandlerPanicIsContained(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), panicOnGet: true}
	h := newHarness(t, store)
	s := h.session("c")

	assert.Equal(t, "ERROR|||Server error while processing request", h.send(s, "START_QUIZ|||1"))
	assert.Equal(t, "QUIZ_LIST", h.send(s, "GET_ACTIVE_QUIZZES"))
}

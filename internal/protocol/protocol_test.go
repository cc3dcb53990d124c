package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quiz-server/internal/domain"
)

func TestDecodeSplitsCommandAndFields(t *testing.T) {
	msg, err := Decode("LOGIN|||alice|||secret\r\n")
	require.NoError(t, err)
	assert.Equal(t, CmdLogin, msg.Command)
	assert.Equal(t, []string{"alice", "secret"}, msg.Fields)
}

func TestDecodeKeepsEmptyFields(t *testing.T) {
	msg, err := Decode("FINISH_QUIZ|||3|||10||||||B")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "10", "", "B"}, msg.Fields)
}

func TestDecodeRejectsBlankLine(t *testing.T) {
	_, err := Decode("  \r\n")
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestEncodeFlattensLineBreaks(t *testing.T) {
	line := ErrorResponse{Text: "first\nsecond\r\nthird"}.Message().Encode()
	assert.Equal(t, "ERROR|||first second third", line)
}

func TestSplitRecordChecksArity(t *testing.T) {
	parts, err := SplitRecord(CmdCreateQuiz, JoinRecord("q", "a", "b", "c", "d", "A"), 6)
	require.NoError(t, err)
	assert.Len(t, parts, 6)

	_, err = SplitRecord(CmdCreateQuiz, "q:::a:::b", 6)
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, CmdCreateQuiz, ferr.Command)
}

func TestParseRequestLogin(t *testing.T) {
	req, err := ParseRequest(Message{Command: CmdLogin, Fields: []string{"alice", "pw"}})
	require.NoError(t, err)
	assert.Equal(t, LoginRequest{Username: "alice", Password: "pw"}, req)

	req, err = ParseRequest(Message{Command: CmdLogin, Fields: []string{"alice", "pw", " teacher "}})
	require.NoError(t, err)
	assert.Equal(t, "teacher", req.(LoginRequest).Role)

	_, err = ParseRequest(Message{Command: CmdLogin, Fields: []string{"alice"}})
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestParseRequestCreateQuiz(t *testing.T) {
	msg, err := Decode("CREATE_QUIZ|||Math|||30|||2|||2+2?:::3:::4:::5:::6:::B|||1+1?:::2:::3:::4:::5:::a")
	require.NoError(t, err)
	req, err := ParseRequest(msg)
	require.NoError(t, err)

	create := req.(CreateQuizRequest)
	assert.Equal(t, "Math", create.Name)
	assert.Equal(t, 30, create.TimeLimit)
	assert.Equal(t, 2, create.QuestionCount)
	require.Len(t, create.Questions, 2)
	assert.Equal(t, QuestionInput{Text: "2+2?", Options: [4]string{"3", "4", "5", "6"}, Correct: "B"}, create.Questions[0])
	assert.Equal(t, "a", create.Questions[1].Correct)
}

func TestParseRequestCreateQuizBadRecord(t *testing.T) {
	msg, err := Decode("CREATE_QUIZ|||Math|||30|||1|||2+2?:::3:::4:::B")
	require.NoError(t, err)
	_, err = ParseRequest(msg)
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestParseRequestNonNumericID(t *testing.T) {
	_, err := ParseRequest(Message{Command: CmdStartQuiz, Fields: []string{"abc"}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quizId", verr.Field)

	_, err = ParseRequest(Message{Command: CmdStartQuiz})
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestParseRequestFinishQuizKeepsBlankAnswers(t *testing.T) {
	msg, err := Decode("FINISH_QUIZ|||7|||95|||A||||||C")
	require.NoError(t, err)
	req, err := ParseRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, FinishQuizRequest{QuizID: 7, TimeTaken: 95, Answers: []string{"A", "", "C"}}, req)
}

func TestParseRequestUnknown(t *testing.T) {
	req, err := ParseRequest(Message{Command: "DANCE", Fields: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, UnknownRequest{Name: "DANCE", Fields: []string{"x"}}, req)
}

func TestRequestsSurviveTheWire(t *testing.T) {
	reqs := []Request{
		LoginRequest{Username: "a", Password: "b", Role: "STUDENT"},
		RegisterRequest{Username: "a", Password: "b", FullName: "A B", Role: "TEACHER"},
		ActiveQuizzesRequest{},
		CreateQuizRequest{Name: "Q", TimeLimit: 20, QuestionCount: 1, Questions: []QuestionInput{
			{Text: "t", Options: [4]string{"1", "2", "3", "4"}, Correct: "D"},
		}},
		StartQuizRequest{QuizID: 4},
		FinishQuizRequest{QuizID: 4, TimeTaken: 12, Answers: []string{"A", "B"}},
		LeaderboardRequest{QuizID: 4},
		MyResultsRequest{},
		DeleteQuizRequest{QuizID: 4},
		DisconnectRequest{},
	}
	for _, want := range reqs {
		msg, err := Decode(want.Message().Encode())
		require.NoError(t, err, want.Command())
		got, err := ParseRequest(msg)
		require.NoError(t, err, want.Command())
		assert.Equal(t, want, got, want.Command())
	}
}

func TestResponseEncoding(t *testing.T) {
	cases := []struct {
		resp Response
		want string
	}{
		{LoginSuccess{UserID: 5, FullName: "Alice A", Role: domain.RoleStudent}, "LOGIN_SUCCESS|||5|||Alice A|||STUDENT"},
		{QuizList{}, "QUIZ_LIST"},
		{QuizList{Quizzes: []domain.QuizSummary{{ID: 1, Name: "Math", TeacherName: "T", TotalQuestions: 2, TimeLimit: 30}}}, "QUIZ_LIST|||1:::Math:::T:::2:::30"},
		{QuizResult{Score: 2, Total: 3, Percentage: 200.0 / 3}, "QUIZ_RESULT|||2|||3|||66.67"},
		{LeaderboardData{Entries: []domain.LeaderboardEntry{{StudentName: "Sam", Score: 1, TotalQuestions: 2, Percentage: 50, TimeTaken: 40}}}, "LEADERBOARD_DATA|||Sam:::1:::2:::50.00:::40"},
		{QuizDeleted{QuizID: 9}, "QUIZ_DELETED|||9"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.resp.Message().Encode())
	}
}

func TestResultsDataDateLayout(t *testing.T) {
	when := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	resp := ResultsData{Results: []domain.StudentResult{
		{QuizName: "Math", Score: 1, TotalQuestions: 2, Percentage: 50, TimeTaken: 30, Date: when},
	}}
	line := resp.Message().Encode()
	assert.Equal(t, "RESULTS_DATA|||Math:::1:::2:::50.00:::30:::2024-03-09 14:05:06", line)

	msg, err := Decode(line)
	require.NoError(t, err)
	parsed, err := ParseResponse(msg)
	require.NoError(t, err)
	assert.True(t, parsed.(ResultsData).Results[0].Date.Equal(when))
}

func TestParseResponseQuizData(t *testing.T) {
	want := QuizData{
		QuizID:         3,
		Name:           "Math",
		TotalQuestions: 1,
		TimeLimit:      30,
		Questions:      []QuestionView{{ID: 11, Text: "2+2?", Options: [4]string{"3", "4", "5", "6"}}},
	}
	msg, err := Decode(want.Message().Encode())
	require.NoError(t, err)
	got, err := ParseResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NotContains(t, want.Message().Encode(), ":::B")
}

func TestParseResponseRejoinsFreeText(t *testing.T) {
	got, err := ParseResponse(Message{Command: CmdError, Fields: []string{"bad", "thing"}})
	require.NoError(t, err)
	assert.Equal(t, ErrorResponse{Text: "bad|||thing"}, got)

	_, err = ParseResponse(Message{Command: "NOPE"})
	assert.Error(t, err)
}

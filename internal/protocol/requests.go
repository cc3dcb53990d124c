package protocol

import (
	"strconv"
	"strings"

	"quiz-server/internal/domain"
)

// Request is a typed client command.
type Request interface {
	Command() string
	Message() Message
}

type LoginRequest struct {
	Username string
	Password string
	// Role is the role the client claims. Empty means no claim was sent.
	Role string
}

type RegisterRequest struct {
	Username string
	Password string
	FullName string
	Role     string
}

type ActiveQuizzesRequest struct{}

// QuestionInput is one question record of CREATE_QUIZ.
type QuestionInput struct {
	Text    string
	Options [4]string
	Correct string
}

type CreateQuizRequest struct {
	Name      string
	TimeLimit int
	// QuestionCount is the count the client declared; it is checked against Questions by the server.
	QuestionCount int
	Questions     []QuestionInput
}

type StartQuizRequest struct {
	QuizID int64
}

type FinishQuizRequest struct {
	QuizID    int64
	TimeTaken int
	Answers   []string
}

type LeaderboardRequest struct {
	QuizID int64
}

type MyResultsRequest struct{}

type DeleteQuizRequest struct {
	QuizID int64
}

type DisconnectRequest struct{}

// UnknownRequest carries a command token the server does not recognise.
type UnknownRequest struct {
	Name   string
	Fields []string
}

func (LoginRequest) Command() string         { return CmdLogin }
func (RegisterRequest) Command() string      { return CmdRegister }
func (ActiveQuizzesRequest) Command() string { return CmdGetActiveQuizzes }
func (CreateQuizRequest) Command() string    { return CmdCreateQuiz }
func (StartQuizRequest) Command() string     { return CmdStartQuiz }
func (FinishQuizRequest) Command() string    { return CmdFinishQuiz }
func (LeaderboardRequest) Command() string   { return CmdGetLeaderboard }
func (MyResultsRequest) Command() string     { return CmdGetMyResults }
func (DeleteQuizRequest) Command() string    { return CmdDeleteQuiz }
func (DisconnectRequest) Command() string    { return CmdDisconnect }
func (r UnknownRequest) Command() string     { return r.Name }

func (r LoginRequest) Message() Message {
	fields := []string{r.Username, r.Password}
	if r.Role != "" {
		fields = append(fields, r.Role)
	}
	return Message{Command: CmdLogin, Fields: fields}
}

func (r RegisterRequest) Message() Message {
	return Message{Command: CmdRegister, Fields: []string{r.Username, r.Password, r.FullName, r.Role}}
}

func (ActiveQuizzesRequest) Message() Message { return Message{Command: CmdGetActiveQuizzes} }

func (r CreateQuizRequest) Message() Message {
	fields := make([]string, 0, 3+len(r.Questions))
	fields = append(fields, r.Name, formatInt(r.TimeLimit), formatInt(r.QuestionCount))
	for _, q := range r.Questions {
		fields = append(fields, JoinRecord(q.Text, q.Options[0], q.Options[1], q.Options[2], q.Options[3], q.Correct))
	}
	return Message{Command: CmdCreateQuiz, Fields: fields}
}

func (r StartQuizRequest) Message() Message {
	return Message{Command: CmdStartQuiz, Fields: []string{formatID(r.QuizID)}}
}

func (r FinishQuizRequest) Message() Message {
	fields := make([]string, 0, 2+len(r.Answers))
	fields = append(fields, formatID(r.QuizID), formatInt(r.TimeTaken))
	fields = append(fields, r.Answers...)
	return Message{Command: CmdFinishQuiz, Fields: fields}
}

func (r LeaderboardRequest) Message() Message {
	return Message{Command: CmdGetLeaderboard, Fields: []string{formatID(r.QuizID)}}
}

func (MyResultsRequest) Message() Message { return Message{Command: CmdGetMyResults} }

func (r DeleteQuizRequest) Message() Message {
	return Message{Command: CmdDeleteQuiz, Fields: []string{formatID(r.QuizID)}}
}

func (DisconnectRequest) Message() Message { return Message{Command: CmdDisconnect} }

func (r UnknownRequest) Message() Message { return Message{Command: r.Name, Fields: r.Fields} }

// ParseRequest turns a decoded message into a typed request. Missing fields
// yield a *FormatError; non-numeric ids and counts yield a *domain.ValidationError.
// Unrecognised commands are returned as UnknownRequest without error.
func ParseRequest(m Message) (Request, error) {
	switch m.Command {
	case CmdLogin:
		return parseLogin(m)
	case CmdRegister:
		return parseRegister(m)
	case CmdGetActiveQuizzes:
		return ActiveQuizzesRequest{}, nil
	case CmdCreateQuiz:
		return parseCreateQuiz(m)
	case CmdStartQuiz:
		id, err := quizIDField(m)
		if err != nil {
			return nil, err
		}
		return StartQuizRequest{QuizID: id}, nil
	case CmdFinishQuiz:
		return parseFinishQuiz(m)
	case CmdGetLeaderboard:
		id, err := quizIDField(m)
		if err != nil {
			return nil, err
		}
		return LeaderboardRequest{QuizID: id}, nil
	case CmdGetMyResults:
		return MyResultsRequest{}, nil
	case CmdDeleteQuiz:
		id, err := quizIDField(m)
		if err != nil {
			return nil, err
		}
		return DeleteQuizRequest{QuizID: id}, nil
	case CmdDisconnect:
		return DisconnectRequest{}, nil
	}
	return UnknownRequest{Name: m.Command, Fields: m.Fields}, nil
}

func parseLogin(m Message) (Request, error) {
	if len(m.Fields) < 2 {
		return nil, formatErrorf(m.Command, "want username and password")
	}
	req := LoginRequest{Username: m.Fields[0], Password: m.Fields[1]}
	if len(m.Fields) > 2 {
		req.Role = strings.TrimSpace(m.Fields[2])
	}
	return req, nil
}

func parseRegister(m Message) (Request, error) {
	if len(m.Fields) < 4 {
		return nil, formatErrorf(m.Command, "want username, password, full name and role")
	}
	return RegisterRequest{
		Username: m.Fields[0],
		Password: m.Fields[1],
		FullName: m.Fields[2],
		Role:     m.Fields[3],
	}, nil
}

func parseCreateQuiz(m Message) (Request, error) {
	if len(m.Fields) < 3 {
		return nil, formatErrorf(m.Command, "want name, time limit and question count")
	}
	timeLimit, err := parseInt("timeLimit", m.Fields[1])
	if err != nil {
		return nil, err
	}
	count, err := parseInt("questionCount", m.Fields[2])
	if err != nil {
		return nil, err
	}
	req := CreateQuizRequest{
		Name:          m.Fields[0],
		TimeLimit:     timeLimit,
		QuestionCount: count,
		Questions:     make([]QuestionInput, 0, len(m.Fields)-3),
	}
	for _, raw := range m.Fields[3:] {
		parts, err := SplitRecord(m.Command, raw, 6)
		if err != nil {
			return nil, err
		}
		req.Questions = append(req.Questions, QuestionInput{
			Text:    parts[0],
			Options: [4]string{parts[1], parts[2], parts[3], parts[4]},
			Correct: parts[5],
		})
	}
	return req, nil
}

func parseFinishQuiz(m Message) (Request, error) {
	if len(m.Fields) < 2 {
		return nil, formatErrorf(m.Command, "want quiz id and time taken")
	}
	quizID, err := parseID("quizId", m.Fields[0])
	if err != nil {
		return nil, err
	}
	timeTaken, err := parseInt("timeTaken", m.Fields[1])
	if err != nil {
		return nil, err
	}
	answers := make([]string, len(m.Fields)-2)
	copy(answers, m.Fields[2:])
	return FinishQuizRequest{QuizID: quizID, TimeTaken: timeTaken, Answers: answers}, nil
}

func quizIDField(m Message) (int64, error) {
	raw, err := m.Field(0, "quiz id")
	if err != nil {
		return 0, err
	}
	return parseID("quizId", raw)
}

func parseID(field, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, domain.NewValidationError(field, "not a number: "+strconv.Quote(raw))
	}
	return v, nil
}

func parseInt(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.NewValidationError(field, "not a number: "+strconv.Quote(raw))
	}
	return v, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, domain.NewValidationError(field, "not a number: "+strconv.Quote(raw))
	}
	return v, nil
}

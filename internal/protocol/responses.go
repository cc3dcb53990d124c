package protocol

import (
	"strings"
	"time"

	"quiz-server/internal/domain"
)

// Response is a typed server reply.
type Response interface {
	Command() string
	Message() Message
}

type LoginSuccess struct {
	UserID   int64
	FullName string
	Role     domain.Role
}

type LoginFailed struct {
	Reason string
}

type RegisterSuccess struct {
	Text string
}

type RegisterFailed struct {
	Reason string
}

type QuizList struct {
	Quizzes []domain.QuizSummary
}

type QuizCreated struct {
	QuizID int64
}

// QuestionView is a question as shown to a student: no correct answer.
type QuestionView struct {
	ID      int64
	Text    string
	Options [4]string
}

type QuizData struct {
	QuizID         int64
	Name           string
	TotalQuestions int
	TimeLimit      int
	Questions      []QuestionView
}

type QuizResult struct {
	Score      int
	Total      int
	Percentage float64
}

type LeaderboardData struct {
	Entries []domain.LeaderboardEntry
}

type ResultsData struct {
	Results []domain.StudentResult
}

type QuizDeleted struct {
	QuizID int64
}

type ErrorResponse struct {
	Text string
}

func (LoginSuccess) Command() string    { return CmdLoginSuccess }
func (LoginFailed) Command() string     { return CmdLoginFailed }
func (RegisterSuccess) Command() string { return CmdRegisterSuccess }
func (RegisterFailed) Command() string  { return CmdRegisterFailed }
func (QuizList) Command() string        { return CmdQuizList }
func (QuizCreated) Command() string     { return CmdQuizCreated }
func (QuizData) Command() string        { return CmdQuizData }
func (QuizResult) Command() string      { return CmdQuizResult }
func (LeaderboardData) Command() string { return CmdLeaderboardData }
func (ResultsData) Command() string     { return CmdResultsData }
func (QuizDeleted) Command() string     { return CmdQuizDeleted }
func (ErrorResponse) Command() string   { return CmdError }

func (r LoginSuccess) Message() Message {
	return Message{Command: CmdLoginSuccess, Fields: []string{formatID(r.UserID), r.FullName, string(r.Role)}}
}

func (r LoginFailed) Message() Message {
	return Message{Command: CmdLoginFailed, Fields: []string{r.Reason}}
}

func (r RegisterSuccess) Message() Message {
	return Message{Command: CmdRegisterSuccess, Fields: []string{r.Text}}
}

func (r RegisterFailed) Message() Message {
	return Message{Command: CmdRegisterFailed, Fields: []string{r.Reason}}
}

func (r QuizList) Message() Message {
	fields := make([]string, 0, len(r.Quizzes))
	for _, q := range r.Quizzes {
		fields = append(fields, JoinRecord(formatID(q.ID), q.Name, q.TeacherName, formatInt(q.TotalQuestions), formatInt(q.TimeLimit)))
	}
	return Message{Command: CmdQuizList, Fields: fields}
}

func (r QuizCreated) Message() Message {
	return Message{Command: CmdQuizCreated, Fields: []string{formatID(r.QuizID)}}
}

func (r QuizData) Message() Message {
	fields := make([]string, 0, 4+len(r.Questions))
	fields = append(fields, formatID(r.QuizID), r.Name, formatInt(r.TotalQuestions), formatInt(r.TimeLimit))
	for _, q := range r.Questions {
		fields = append(fields, JoinRecord(formatID(q.ID), q.Text, q.Options[0], q.Options[1], q.Options[2], q.Options[3]))
	}
	return Message{Command: CmdQuizData, Fields: fields}
}

func (r QuizResult) Message() Message {
	return Message{Command: CmdQuizResult, Fields: []string{formatInt(r.Score), formatInt(r.Total), formatPercent(r.Percentage)}}
}

func (r LeaderboardData) Message() Message {
	fields := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		fields = append(fields, JoinRecord(e.StudentName, formatInt(e.Score), formatInt(e.TotalQuestions), formatPercent(e.Percentage), formatInt(e.TimeTaken)))
	}
	return Message{Command: CmdLeaderboardData, Fields: fields}
}

func (r ResultsData) Message() Message {
	fields := make([]string, 0, len(r.Results))
	for _, e := range r.Results {
		fields = append(fields, JoinRecord(
			e.QuizName,
			formatInt(e.Score),
			formatInt(e.TotalQuestions),
			formatPercent(e.Percentage),
			formatInt(e.TimeTaken),
			e.Date.UTC().Format(DateLayout),
		))
	}
	return Message{Command: CmdResultsData, Fields: fields}
}

func (r QuizDeleted) Message() Message {
	return Message{Command: CmdQuizDeleted, Fields: []string{formatID(r.QuizID)}}
}

func (r ErrorResponse) Message() Message {
	return Message{Command: CmdError, Fields: []string{r.Text}}
}

// ParseResponse is the client-side counterpart of ParseRequest.
func ParseResponse(m Message) (Response, error) {
	switch m.Command {
	case CmdLoginSuccess:
		if len(m.Fields) < 3 {
			return nil, formatErrorf(m.Command, "want user id, full name and role")
		}
		id, err := parseID("userId", m.Fields[0])
		if err != nil {
			return nil, err
		}
		return LoginSuccess{UserID: id, FullName: m.Fields[1], Role: domain.Role(m.Fields[2])}, nil
	case CmdLoginFailed:
		return LoginFailed{Reason: joinedText(m)}, nil
	case CmdRegisterSuccess:
		return RegisterSuccess{Text: joinedText(m)}, nil
	case CmdRegisterFailed:
		return RegisterFailed{Reason: joinedText(m)}, nil
	case CmdQuizList:
		return parseQuizList(m)
	case CmdQuizCreated:
		id, err := quizIDField(m)
		if err != nil {
			return nil, err
		}
		return QuizCreated{QuizID: id}, nil
	case CmdQuizData:
		return parseQuizData(m)
	case CmdQuizResult:
		return parseQuizResult(m)
	case CmdLeaderboardData:
		return parseLeaderboard(m)
	case CmdResultsData:
		return parseResults(m)
	case CmdQuizDeleted:
		id, err := quizIDField(m)
		if err != nil {
			return nil, err
		}
		return QuizDeleted{QuizID: id}, nil
	case CmdError:
		return ErrorResponse{Text: joinedText(m)}, nil
	}
	return nil, formatErrorf(m.Command, "unknown response command")
}

// joinedText restores a free-text field that happened to contain the delimiter.
func joinedText(m Message) string {
	return strings.Join(m.Fields, Delimiter)
}

func parseQuizList(m Message) (Response, error) {
	out := QuizList{Quizzes: make([]domain.QuizSummary, 0, len(m.Fields))}
	for _, raw := range m.Fields {
		parts, err := SplitRecord(m.Command, raw, 5)
		if err != nil {
			return nil, err
		}
		id, err := parseID("quizId", parts[0])
		if err != nil {
			return nil, err
		}
		total, err := parseInt("totalQuestions", parts[3])
		if err != nil {
			return nil, err
		}
		limit, err := parseInt("timeLimit", parts[4])
		if err != nil {
			return nil, err
		}
		out.Quizzes = append(out.Quizzes, domain.QuizSummary{
			ID:             id,
			Name:           parts[1],
			TeacherName:    parts[2],
			TotalQuestions: total,
			TimeLimit:      limit,
		})
	}
	return out, nil
}

func parseQuizData(m Message) (Response, error) {
	if len(m.Fields) < 4 {
		return nil, formatErrorf(m.Command, "want quiz id, name, total and time limit")
	}
	id, err := parseID("quizId", m.Fields[0])
	if err != nil {
		return nil, err
	}
	total, err := parseInt("totalQuestions", m.Fields[2])
	if err != nil {
		return nil, err
	}
	limit, err := parseInt("timeLimit", m.Fields[3])
	if err != nil {
		return nil, err
	}
	out := QuizData{
		QuizID:         id,
		Name:           m.Fields[1],
		TotalQuestions: total,
		TimeLimit:      limit,
		Questions:      make([]QuestionView, 0, len(m.Fields)-4),
	}
	for _, raw := range m.Fields[4:] {
		parts, err := SplitRecord(m.Command, raw, 6)
		if err != nil {
			return nil, err
		}
		qid, err := parseID("questionId", parts[0])
		if err != nil {
			return nil, err
		}
		out.Questions = append(out.Questions, QuestionView{
			ID:      qid,
			Text:    parts[1],
			Options: [4]string{parts[2], parts[3], parts[4], parts[5]},
		})
	}
	return out, nil
}

func parseQuizResult(m Message) (Response, error) {
	if len(m.Fields) < 3 {
		return nil, formatErrorf(m.Command, "want score, total and percentage")
	}
	score, err := parseInt("score", m.Fields[0])
	if err != nil {
		return nil, err
	}
	total, err := parseInt("total", m.Fields[1])
	if err != nil {
		return nil, err
	}
	pct, err := parseFloat("percentage", m.Fields[2])
	if err != nil {
		return nil, err
	}
	return QuizResult{Score: score, Total: total, Percentage: pct}, nil
}

func parseLeaderboard(m Message) (Response, error) {
	out := LeaderboardData{Entries: make([]domain.LeaderboardEntry, 0, len(m.Fields))}
	for _, raw := range m.Fields {
		parts, err := SplitRecord(m.Command, raw, 5)
		if err != nil {
			return nil, err
		}
		entry := domain.LeaderboardEntry{StudentName: parts[0]}
		if entry.Score, err = parseInt("score", parts[1]); err != nil {
			return nil, err
		}
		if entry.TotalQuestions, err = parseInt("total", parts[2]); err != nil {
			return nil, err
		}
		if entry.Percentage, err = parseFloat("percentage", parts[3]); err != nil {
			return nil, err
		}
		if entry.TimeTaken, err = parseInt("timeTaken", parts[4]); err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

func parseResults(m Message) (Response, error) {
	out := ResultsData{Results: make([]domain.StudentResult, 0, len(m.Fields))}
	for _, raw := range m.Fields {
		parts, err := SplitRecord(m.Command, raw, 6)
		if err != nil {
			return nil, err
		}
		entry := domain.StudentResult{QuizName: parts[0]}
		if entry.Score, err = parseInt("score", parts[1]); err != nil {
			return nil, err
		}
		if entry.TotalQuestions, err = parseInt("total", parts[2]); err != nil {
			return nil, err
		}
		if entry.Percentage, err = parseFloat("percentage", parts[3]); err != nil {
			return nil, err
		}
		if entry.TimeTaken, err = parseInt("timeTaken", parts[4]); err != nil {
			return nil, err
		}
		if entry.Date, err = time.Parse(DateLayout, parts[5]); err != nil {
			return nil, domain.NewValidationError("date", err.Error())
		}
		out.Results = append(out.Results, entry)
	}
	return out, nil
}

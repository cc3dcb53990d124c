// Package protocol implements the line-oriented wire codec shared by the quiz
// server and its clients.
//
// A line is a command token followed by fields joined with Delimiter. A field
// that carries a record (one question, one leaderboard row) joins its parts
// with SubDelimiter. Neither sequence is escaped: user-entered text that
// contains one of them will be split on the wrong boundary when decoded.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Delimiter    = "|||"
	SubDelimiter = ":::"
)

// Command tokens.
const (
	CmdLogin            = "LOGIN"
	CmdLoginSuccess     = "LOGIN_SUCCESS"
	CmdLoginFailed      = "LOGIN_FAILED"
	CmdRegister         = "REGISTER"
	CmdRegisterSuccess  = "REGISTER_SUCCESS"
	CmdRegisterFailed   = "REGISTER_FAILED"
	CmdGetActiveQuizzes = "GET_ACTIVE_QUIZZES"
	CmdQuizList         = "QUIZ_LIST"
	CmdCreateQuiz       = "CREATE_QUIZ"
	CmdQuizCreated      = "QUIZ_CREATED"
	CmdStartQuiz        = "START_QUIZ"
	CmdQuizData         = "QUIZ_DATA"
	CmdFinishQuiz       = "FINISH_QUIZ"
	CmdQuizResult       = "QUIZ_RESULT"
	CmdGetLeaderboard   = "GET_LEADERBOARD"
	CmdLeaderboardData  = "LEADERBOARD_DATA"
	CmdGetMyResults     = "GET_MY_RESULTS"
	CmdResultsData      = "RESULTS_DATA"
	CmdDeleteQuiz       = "DELETE_QUIZ"
	CmdQuizDeleted      = "QUIZ_DELETED"
	CmdError            = "ERROR"
	CmdDisconnect       = "DISCONNECT"
)

// DateLayout renders attempt timestamps in RESULTS_DATA.
const DateLayout = "2006-01-02 15:04:05"

// Message is one decoded line: a command token and its ordered top-level fields.
type Message struct {
	Command string
	Fields  []string
}

// FormatError reports a line or field that does not have the expected shape.
type FormatError struct {
	Command string
	Reason  string
}

func (e *FormatError) Error() string {
	if e.Command == "" {
		return "malformed message: " + e.Reason
	}
	return fmt.Sprintf("malformed %s message: %s", e.Command, e.Reason)
}

func formatErrorf(command, format string, args ...any) *FormatError {
	return &FormatError{Command: command, Reason: fmt.Sprintf(format, args...)}
}

// Decode splits a line into its command and fields. A trailing line
// terminator is tolerated.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Message{}, &FormatError{Reason: "empty line"}
	}
	parts := strings.Split(line, Delimiter)
	return Message{Command: strings.TrimSpace(parts[0]), Fields: parts[1:]}, nil
}

// Encode joins the message into a single line without its terminator.
// Embedded line breaks are flattened to spaces so one message is always one line.
func (m Message) Encode() string {
	var b strings.Builder
	b.WriteString(flatten(m.Command))
	for _, f := range m.Fields {
		b.WriteString(Delimiter)
		b.WriteString(flatten(f))
	}
	return b.String()
}

// Field returns the i-th field or a FormatError naming what was missing.
func (m Message) Field(i int, name string) (string, error) {
	if i < 0 || i >= len(m.Fields) {
		return "", formatErrorf(m.Command, "missing %s", name)
	}
	return m.Fields[i], nil
}

// JoinRecord builds a composite field.
func JoinRecord(parts ...string) string {
	return strings.Join(parts, SubDelimiter)
}

// SplitRecord splits a composite field and checks it has exactly n parts.
func SplitRecord(command, field string, n int) ([]string, error) {
	parts := strings.Split(field, SubDelimiter)
	if len(parts) != n {
		return nil, formatErrorf(command, "record has %d parts, want %d", len(parts), n)
	}
	return parts, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineBreaks.Replace(s)
}

func formatInt(v int) string { return strconv.Itoa(v) }

func formatID(v int64) string { return strconv.FormatInt(v, 10) }

func formatPercent(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

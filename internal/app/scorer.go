package app

import (
	"sort"
	"strings"

	"quiz-server/internal/domain"
)

// ScoreResult is the outcome of grading one submission.
type ScoreResult struct {
	Score      int
	Total      int
	Percentage float64
}

// ScoreAnswers grades answers positionally against questions, which must be in
// presentation order. Extra answers are ignored and missing ones count as wrong.
func ScoreAnswers(questions []domain.Question, answers []string) ScoreResult {
	score := 0
	for i := 0; i < len(questions) && i < len(answers); i++ {
		if isCorrect(questions[i].Correct, answers[i]) {
			score++
		}
	}
	return ScoreResult{
		Score:      score,
		Total:      len(questions),
		Percentage: Percentage(score, len(questions)),
	}
}

// Percentage is 100*score/total, and 0 when total is 0.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(score) / float64(total)
}

func isCorrect(key, answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" || key == "" {
		return false
	}
	return strings.EqualFold(key, answer)
}

// orderedQuestions returns a copy of the questions sorted by their order index.
func orderedQuestions(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

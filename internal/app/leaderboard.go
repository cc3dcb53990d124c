package app

import (
	"sort"

	"quiz-server/internal/domain"
)

// LeaderboardSize caps the number of ranked rows.
const LeaderboardSize = 10

// RankLeaderboard keeps each student's best attempt, orders the survivors by
// score (desc) then time taken (asc) and truncates to LeaderboardSize.
func RankLeaderboard(attempts []domain.Attempt) []domain.LeaderboardEntry {
	best := make(map[int64]domain.Attempt, len(attempts))
	for _, a := range attempts {
		cur, ok := best[a.StudentID]
		if !ok || better(a, cur) {
			best[a.StudentID] = a
		}
	}

	reduced := make([]domain.Attempt, 0, len(best))
	for _, a := range best {
		reduced = append(reduced, a)
	}
	sort.Slice(reduced, func(i, j int) bool {
		if better(reduced[i], reduced[j]) {
			return true
		}
		if better(reduced[j], reduced[i]) {
			return false
		}
		// Equal rank: keep output deterministic.
		if reduced[i].StudentName != reduced[j].StudentName {
			return reduced[i].StudentName < reduced[j].StudentName
		}
		return reduced[i].StudentID < reduced[j].StudentID
	})

	if len(reduced) > LeaderboardSize {
		reduced = reduced[:LeaderboardSize]
	}
	entries := make([]domain.LeaderboardEntry, 0, len(reduced))
	for _, a := range reduced {
		entries = append(entries, domain.LeaderboardEntry{
			StudentName:    a.StudentName,
			Score:          a.Score,
			TotalQuestions: a.TotalQuestions,
			Percentage:     a.Percentage,
			TimeTaken:      a.TimeTaken,
		})
	}
	return entries
}

func better(a, b domain.Attempt) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.TimeTaken < b.TimeTaken
}

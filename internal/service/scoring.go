package service

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Score grades s against its frozen answer key. Unanswered questions count
// as wrong. It is a pure function of the snapshot.
func Score(s *model.ExamSession, completedAt time.Time, auto bool) *model.ExamResult {
	total := len(s.Questions)
	correct := 0
	for _, q := range s.Questions {
		if idx, ok := s.Answers[q.ID]; ok && idx == q.CorrectIndex {
			correct++
		}
	}

	pct := Percentage(correct, total)
	return &model.ExamResult{
		SessionID:        s.ID,
		ExamID:           s.ExamID,
		UserID:           s.UserID,
		AttemptNumber:    s.AttemptNumber,
		TotalQuestions:   total,
		TotalScore:       correct,
		Percentage:       pct,
		Passed:           pct >= s.PassingScore,
		CompletedAt:      completedAt,
		AutoSubmitted:    auto,
		TimeSpentSeconds: TimeSpent(s, completedAt, auto),
	}
}

// Percentage rounds score/total*100 half up. An empty exam scores 0.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return (score*200 + total) / (2 * total)
}

// TimeSpent is the whole seconds between start and completion. Auto-submitted
// sessions are capped at the time limit so a late sweep does not inflate it.
func TimeSpent(s *model.ExamSession, completedAt time.Time, auto bool) int64 {
	spent := int64(completedAt.Sub(s.StartedAt) / time.Second)
	if spent < 0 {
		spent = 0
	}
	if auto && s.TimeLimitMinutes != nil {
		if limit := int64(*s.TimeLimitMinutes) * 60; spent > limit {
			spent = limit
		}
	}
	return spent
}

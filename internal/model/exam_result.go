package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamResult is the immutable outcome of a finalized session.
type ExamResult struct {
	SessionID        uuid.UUID `json:"session_id"`
	ExamID           uuid.UUID `json:"exam_id"`
	UserID           int       `json:"user_id"`
	AttemptNumber    int       `json:"attempt_number"`
	TotalQuestions   int       `json:"total_questions"`
	TotalScore       int       `json:"total_score"`
	Percentage       int       `json:"percentage"`
	Passed           bool      `json:"passed"`
	CompletedAt      time.Time `json:"completed_at"`
	AutoSubmitted    bool      `json:"auto_submitted"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
}

// FinalState returns the terminal state matching how the result was produced.
func (r *ExamResult) FinalState() SessionState {
	if r.AutoSubmitted {
		return SessionStateExpiredSubmitted
	}
	return SessionStateSubmitted
}

// ListResultsQuery holds the pagination query of the reporting endpoint.
type ListResultsQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1,max=100"`
}

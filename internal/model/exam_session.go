package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates exam session states.
type SessionState string

const (
	SessionStateInProgress       SessionState = "IN_PROGRESS"
	SessionStateSubmitted        SessionState = "SUBMITTED"
	SessionStateExpiredSubmitted SessionState = "EXPIRED_SUBMITTED"
)

// Terminal reports whether no further transition is possible from s.
func (s SessionState) Terminal() bool {
	return s == SessionStateSubmitted || s == SessionStateExpiredSubmitted
}

// ExamSession represents one attempt by one student at one exam.
// Questions, TimeLimitMinutes and PassingScore are frozen at start so later
// edits to the definition never reach an open attempt.
type ExamSession struct {
	ID               uuid.UUID         `json:"id"`
	ExamID           uuid.UUID         `json:"exam_id"`
	UserID           int               `json:"user_id"`
	AttemptNumber    int               `json:"attempt_number"`
	State            SessionState      `json:"state"`
	StartedAt        time.Time         `json:"started_at"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	PassingScore     int               `json:"passing_score"`
	Questions        []Question        `json:"-"`
	Answers          map[uuid.UUID]int `json:"answers"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// Timed reports whether the session has a deadline.
func (s *ExamSession) Timed() bool {
	return s.Deadline != nil
}

// DeadlineReached reports whether now is at or past the deadline.
// Untimed sessions never reach a deadline.
func (s *ExamSession) DeadlineReached(now time.Time) bool {
	return s.Timed() && !now.Before(*s.Deadline)
}

// SecondsRemaining is recomputed from the stored deadline on every call.
// It returns nil for untimed sessions and 0 once the session is terminal.
func (s *ExamSession) SecondsRemaining(now time.Time) *int64 {
	if !s.Timed() {
		return nil
	}
	var secs int64
	if s.State == SessionStateInProgress {
		if remaining := s.Deadline.Sub(now); remaining > 0 {
			secs = int64(remaining.Seconds())
		}
	}
	return &secs
}

// Question returns the frozen question with the given id.
func (s *ExamSession) Question(id uuid.UUID) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy safe to hand out of a store.
func (s *ExamSession) Clone() *ExamSession {
	c := *s
	if s.Deadline != nil {
		d := *s.Deadline
		c.Deadline = &d
	}
	if s.TimeLimitMinutes != nil {
		l := *s.TimeLimitMinutes
		c.TimeLimitMinutes = &l
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		c.Questions[i] = q.Clone()
	}
	c.Answers = make(map[uuid.UUID]int, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// SessionView is the client-facing snapshot of a session. It never carries
// the answer key.
type SessionView struct {
	SessionID        uuid.UUID            `json:"session_id"`
	ExamID           uuid.UUID            `json:"exam_id"`
	AttemptNumber    int                  `json:"attempt_number"`
	State            SessionState         `json:"state"`
	Questions        []QuestionForStudent `json:"questions"`
	Answers          map[string]int       `json:"answers"`
	StartedAt        time.Time            `json:"started_at"`
	Deadline         *time.Time           `json:"deadline,omitempty"`
	SecondsRemaining *int64               `json:"seconds_remaining"`
}

// NewSessionView builds the client snapshot of s as seen at now.
func NewSessionView(s *ExamSession, now time.Time) *SessionView {
	questions := make([]QuestionForStudent, len(s.Questions))
	for i, q := range s.Questions {
		questions[i] = q.ForStudent(i + 1)
	}
	answers := make(map[string]int, len(s.Answers))
	for qID, idx := range s.Answers {
		answers[qID.String()] = idx
	}
	return &SessionView{
		SessionID:        s.ID,
		ExamID:           s.ExamID,
		AttemptNumber:    s.AttemptNumber,
		State:            s.State,
		Questions:        questions,
		Answers:          answers,
		StartedAt:        s.StartedAt,
		Deadline:         s.Deadline,
		SecondsRemaining: s.SecondsRemaining(now),
	}
}

// SaveAnswerRequest is the payload for saving a single answer.
type SaveAnswerRequest struct {
	QuestionID    uuid.UUID `json:"question_id" binding:"required"`
	SelectedIndex *int      `json:"selected_index" binding:"required,min=0"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the read-only exam supplied by the definition provider.
type ExamDefinition struct {
	ID               uuid.UUID  `json:"id" yaml:"id"`
	Title            string     `json:"title" yaml:"title"`
	Questions        []Question `json:"questions" yaml:"questions"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty" yaml:"time_limit_minutes"`
	PassingScore     int        `json:"passing_score" yaml:"passing_score"`
	Active           bool       `json:"active" yaml:"active"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"-"`
}

// Deadline returns startedAt plus the time limit, or nil for untimed exams.
func (d *ExamDefinition) Deadline(startedAt time.Time) *time.Time {
	if d.TimeLimitMinutes == nil {
		return nil
	}
	deadline := startedAt.Add(time.Duration(*d.TimeLimitMinutes) * time.Minute)
	return &deadline
}

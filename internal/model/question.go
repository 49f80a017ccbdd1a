package model

import (
	"github.com/google/uuid"
)

// Question represents a single multiple-choice question of a definition.
type Question struct {
	ID           uuid.UUID `json:"id" yaml:"id"`
	Prompt       string    `json:"prompt" yaml:"prompt"`
	Alternatives []string  `json:"alternatives" yaml:"alternatives"`
	CorrectIndex int       `json:"correct_index" yaml:"correct_index"`
}

// Clone returns a copy that shares no slice with q.
func (q Question) Clone() Question {
	c := q
	c.Alternatives = append([]string(nil), q.Alternatives...)
	return c
}

// ForStudent strips the answer key.
func (q Question) ForStudent(orderNum int) QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		Prompt:       q.Prompt,
		Alternatives: append([]string(nil), q.Alternatives...),
		OrderNum:     orderNum,
	}
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID `json:"id"`
	Prompt       string    `json:"prompt"`
	Alternatives []string  `json:"alternatives"`
	OrderNum     int       `json:"order_num"`
}

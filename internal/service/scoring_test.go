package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		name         string
		score, total int
		want         int
	}{
		{"empty exam", 0, 0, 0},
		{"none correct", 0, 4, 0},
		{"half", 2, 4, 50},
		{"all correct", 4, 4, 100},
		{"one third rounds down", 1, 3, 33},
		{"two thirds rounds up", 2, 3, 67},
		{"exact half rounds up", 1, 8, 13},
		{"below half rounds down", 1, 9, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentage(tt.score, tt.total); got != tt.want {
				t.Errorf("Percentage(%d, %d) = %d, want %d", tt.score, tt.total, got, tt.want)
			}
		})
	}
}

func fourQuestionSession(limitMinutes *int) *model.ExamSession {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := &model.ExamSession{
		ID:               uuid.New(),
		ExamID:           uuid.New(),
		UserID:           7,
		AttemptNumber:    1,
		State:            model.SessionStateInProgress,
		StartedAt:        start,
		TimeLimitMinutes: limitMinutes,
		PassingScore:     50,
		Answers:          map[uuid.UUID]int{},
	}
	for _, correct := range []int{1, 0, 2, 1} {
		s.Questions = append(s.Questions, model.Question{
			ID:           uuid.New(),
			Alternatives: []string{"a", "b", "c", "d"},
			CorrectIndex: correct,
		})
	}
	if limitMinutes != nil {
		d := start.Add(time.Duration(*limitMinutes) * time.Minute)
		s.Deadline = &d
	}
	return s
}

func TestScore(t *testing.T) {
	s := fourQuestionSession(nil)
	s.Answers[s.Questions[0].ID] = 1
	s.Answers[s.Questions[1].ID] = 1
	s.Answers[s.Questions[2].ID] = 2

	completedAt := s.StartedAt.Add(90 * time.Second)
	r := Score(s, completedAt, false)

	if r.TotalQuestions != 4 {
		t.Errorf("TotalQuestions = %d, want 4", r.TotalQuestions)
	}
	if r.TotalScore != 2 {
		t.Errorf("TotalScore = %d, want 2", r.TotalScore)
	}
	if r.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", r.Percentage)
	}
	if !r.Passed {
		t.Error("expected 50% to pass a passing score of 50")
	}
	if r.TimeSpentSeconds != 90 {
		t.Errorf("TimeSpentSeconds = %d, want 90", r.TimeSpentSeconds)
	}
	if r.SessionID != s.ID || r.ExamID != s.ExamID || r.UserID != s.UserID {
		t.Error("result does not identify its session")
	}
	if r.FinalState() != model.SessionStateSubmitted {
		t.Errorf("FinalState = %s, want SUBMITTED", r.FinalState())
	}
}

func TestScoreIgnoresAnswersOutsideQuestionList(t *testing.T) {
	s := fourQuestionSession(nil)
	s.Answers[uuid.New()] = 1

	if r := Score(s, s.StartedAt, false); r.TotalScore != 0 {
		t.Errorf("TotalScore = %d, want 0", r.TotalScore)
	}
}

func TestTimeSpent(t *testing.T) {
	limit := 1
	tests := []struct {
		name    string
		limit   *int
		elapsed time.Duration
		auto    bool
		want    int64
	}{
		{"manual within limit", &limit, 30 * time.Second, false, 30},
		{"auto clamped to limit", &limit, 5 * time.Minute, true, 60},
		{"auto exactly at limit", &limit, time.Minute, true, 60},
		{"manual is not clamped", &limit, 61 * time.Second, false, 61},
		{"untimed auto is not clamped", nil, 5 * time.Minute, true, 300},
		{"clock skew never negative", nil, -time.Second, false, 0},
		{"fractions truncated", nil, 1500 * time.Millisecond, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fourQuestionSession(tt.limit)
			if got := TimeSpent(s, s.StartedAt.Add(tt.elapsed), tt.auto); got != tt.want {
				t.Errorf("TimeSpent = %d, want %d", got, tt.want)
			}
		})
	}
}

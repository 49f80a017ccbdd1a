package repository

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"gopkg.in/yaml.v3"
)

// definitionsFile is the on-disk layout read by FileExamRepository.
type definitionsFile struct {
	Exams []model.ExamDefinition `yaml:"exams"`
}

// FileExamRepository serves exam definitions loaded once from a YAML file.
// Used with the memory store backend.
type FileExamRepository struct {
	defs  map[uuid.UUID]model.ExamDefinition
	order []uuid.UUID
}

var _ DefinitionRepository = (*FileExamRepository)(nil)

// LoadFileExamRepository parses path and validates every definition.
func LoadFileExamRepository(path string) (*FileExamRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseExamDefinitions(data)
}

// ParseExamDefinitions builds a FileExamRepository from YAML bytes.
func ParseExamDefinitions(data []byte) (*FileExamRepository, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}

	repo := &FileExamRepository{defs: make(map[uuid.UUID]model.ExamDefinition, len(f.Exams))}
	for _, d := range f.Exams {
		if err := validateDefinition(&d); err != nil {
			return nil, err
		}
		if _, dup := repo.defs[d.ID]; dup {
			return nil, fmt.Errorf("exam %s defined twice", d.ID)
		}
		repo.defs[d.ID] = d
		repo.order = append(repo.order, d.ID)
	}
	return repo, nil
}

func validateDefinition(d *model.ExamDefinition) error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("exam %q has no id", d.Title)
	}
	if d.TimeLimitMinutes != nil && *d.TimeLimitMinutes <= 0 {
		return fmt.Errorf("exam %s: time_limit_minutes must be positive", d.ID)
	}
	if d.PassingScore < 0 || d.PassingScore > 100 {
		return fmt.Errorf("exam %s: passing_score must be within 0..100", d.ID)
	}
	seen := make(map[uuid.UUID]bool, len(d.Questions))
	for i, q := range d.Questions {
		if q.ID == uuid.Nil {
			return fmt.Errorf("exam %s: question %d has no id", d.ID, i+1)
		}
		if seen[q.ID] {
			return fmt.Errorf("exam %s: question %s listed twice", d.ID, q.ID)
		}
		seen[q.ID] = true
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Alternatives) {
			return fmt.Errorf("exam %s: question %s correct_index out of range", d.ID, q.ID)
		}
	}
	return nil
}

func (r *FileExamRepository) GetByID(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, model.ErrDefinitionNotFound
	}
	c := d
	c.Questions = make([]model.Question, len(d.Questions))
	for i, q := range d.Questions {
		c.Questions[i] = q.Clone()
	}
	return &c, nil
}

func (r *FileExamRepository) ListActive(_ context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, id := range r.order {
		if r.defs[id].Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// All returns every definition, active or not, in file order.
func (r *FileExamRepository) All() []*model.ExamDefinition {
	out := make([]*model.ExamDefinition, 0, len(r.order))
	for _, id := range r.order {
		d, _ := r.GetByID(context.Background(), id)
		out = append(out, d)
	}
	return out
}

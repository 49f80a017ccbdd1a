package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// DefinitionRepository is the read side of the exam definition provider.
type DefinitionRepository interface {
	// GetByID returns the definition with its ordered questions or model.ErrDefinitionNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	// ListActive returns the ids of all active definitions.
	ListActive(ctx context.Context) ([]uuid.UUID, error)
}

// DefinitionWriter replaces a stored definition. Implemented by ExamRepository.
type DefinitionWriter interface {
	Upsert(ctx context.Context, d *model.ExamDefinition) error
}

// ExamRepository reads exam definitions owned by the authoring service.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

var (
	_ DefinitionRepository = (*ExamRepository)(nil)
	_ DefinitionWriter     = (*ExamRepository)(nil)
)

// GetByID retrieves an exam definition and its questions ordered by order_num.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, time_limit_minutes, passing_score, active, updated_at
		 FROM exam_definitions WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.TimeLimitMinutes, &d.PassingScore, &d.Active, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("get definition: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, prompt, alternatives, correct_index
		 FROM definition_questions WHERE exam_id = $1
		 ORDER BY order_num`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var alternatives []byte
		if err := rows.Scan(&q.ID, &q.Prompt, &alternatives, &q.CorrectIndex); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(alternatives, &q.Alternatives); err != nil {
			return nil, fmt.Errorf("unmarshal alternatives of %s: %w", q.ID, err)
		}
		d.Questions = append(d.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// ListActive retrieves the ids of all active definitions.
func (r *ExamRepository) ListActive(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM exam_definitions WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upsert replaces a definition and its question list. Sessions already
// started keep their own snapshot.
func (r *ExamRepository) Upsert(ctx context.Context, d *model.ExamDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO exam_definitions (id, title, time_limit_minutes, passing_score, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, time_limit_minutes = EXCLUDED.time_limit_minutes,
		     passing_score = EXCLUDED.passing_score, active = EXCLUDED.active, updated_at = NOW()`,
		d.ID, d.Title, d.TimeLimitMinutes, d.PassingScore, d.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert definition: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM definition_questions WHERE exam_id = $1`, d.ID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range d.Questions {
		alternatives, err := json.Marshal(q.Alternatives)
		if err != nil {
			return fmt.Errorf("marshal alternatives of %s: %w", q.ID, err)
		}
		batch.Queue(
			`INSERT INTO definition_questions (id, exam_id, order_num, prompt, alternatives, correct_index)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			q.ID, d.ID, i+1, q.Prompt, alternatives, q.CorrectIndex,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

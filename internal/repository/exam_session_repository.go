package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

const selectSessionColumns = `SELECT id, exam_id, user_id, attempt_number, state, started_at, deadline,
	        time_limit_minutes, passing_score, question_snapshot, completed_at
	 FROM exam_sessions`

const selectResultColumns = `SELECT session_id, exam_id, user_id, attempt_number, total_questions, total_score,
	        percentage, passed, completed_at, auto_submitted, time_spent_seconds
	 FROM exam_results`

// ExamSessionRepository is the PostgreSQL SessionStore. Answer writes hold
// FOR SHARE on the session row and finalization holds FOR UPDATE, so the two
// never interleave on the same session.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

var _ SessionStore = (*ExamSessionRepository)(nil)

// FindActive retrieves the IN_PROGRESS session for a specific exam-user combination.
func (r *ExamSessionRepository) FindActive(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		selectSessionColumns+` WHERE exam_id = $1 AND user_id = $2 AND state = 'IN_PROGRESS'`,
		examID, userID,
	))
	if err != nil {
		return nil, err
	}
	if err := loadAnswers(ctx, r.pool, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new session. The partial unique index on (exam_id, user_id)
// WHERE state = 'IN_PROGRESS' turns a concurrent duplicate into a no-op; the
// loser then reads the winner's row, or inserts again if the winner has
// already been finalized.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) (*model.ExamSession, bool, error) {
	snapshot, err := json.Marshal(s.Questions)
	if err != nil {
		return nil, false, fmt.Errorf("marshal question snapshot: %w", err)
	}

	return createOrRecover(
		func() (bool, error) { return r.insertSession(ctx, s, snapshot) },
		func() (*model.ExamSession, error) { return r.FindActive(ctx, s.ExamID, s.UserID) },
		s,
	)
}

// insertSession reports false when another open session for the pair exists.
func (r *ExamSessionRepository) insertSession(ctx context.Context, s *model.ExamSession, snapshot []byte) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, user_id, attempt_number, state, started_at, deadline,
		                            time_limit_minutes, passing_score, question_snapshot)
		 VALUES ($1, $2,
		         (SELECT COUNT(*) + 1 FROM exam_sessions
		          WHERE exam_id = $1 AND user_id = $2 AND state <> 'IN_PROGRESS'),
		         'IN_PROGRESS', $3, $4, $5, $6, $7)
		 ON CONFLICT (exam_id, user_id) WHERE state = 'IN_PROGRESS' DO NOTHING
		 RETURNING id, attempt_number`,
		s.ExamID, s.UserID, s.StartedAt, s.Deadline, s.TimeLimitMinutes, s.PassingScore, snapshot,
	).Scan(&s.ID, &s.AttemptNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	s.State = model.SessionStateInProgress
	if s.Answers == nil {
		s.Answers = map[uuid.UUID]int{}
	}
	return true, nil
}

// GetByID retrieves a session and its answers.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, selectSessionColumns+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := loadAnswers(ctx, r.pool, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveAnswer upserts an answer while holding a share lock on the session row.
func (r *ExamSessionRepository) SaveAnswer(ctx context.Context, id, questionID uuid.UUID, selectedIndex int, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save answer tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s := &model.ExamSession{ID: id}
	err = tx.QueryRow(ctx,
		`SELECT state, deadline FROM exam_sessions WHERE id = $1 FOR SHARE`, id,
	).Scan(&s.State, &s.Deadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrSessionNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}

	if err := checkWritable(s, now); err != nil {
		return err
	}

	// UPSERT the answer, keyed by question id.
	_, err = tx.Exec(ctx,
		`INSERT INTO session_answers (session_id, question_id, selected_index, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET selected_index = EXCLUDED.selected_index, updated_at = EXCLUDED.updated_at`,
		id, questionID, selectedIndex, now,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save answer: %w", err)
	}
	return nil
}

// Finalize performs the terminal transition and the result insert in one
// transaction under FOR UPDATE. The UPDATE is conditional on IN_PROGRESS so
// the transition itself is a compare-and-swap.
func (r *ExamSessionRepository) Finalize(ctx context.Context, id uuid.UUID, fn FinalizeFunc) (*model.ExamResult, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := scanSession(tx.QueryRow(ctx, selectSessionColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}

	if s.State.Terminal() {
		result, err := scanResult(tx.QueryRow(ctx, selectResultColumns+` WHERE session_id = $1`, id))
		if err != nil {
			return nil, false, fmt.Errorf("load existing result: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit finalize existing: %w", err)
		}
		return result, false, nil
	}

	if err := loadAnswers(ctx, tx, s); err != nil {
		return nil, false, err
	}

	result := fn(s)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET state = $2, completed_at = $3
		 WHERE id = $1 AND state = 'IN_PROGRESS'`,
		id, result.FinalState(), result.CompletedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, false, fmt.Errorf("session %s left IN_PROGRESS while locked", id)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO exam_results (session_id, exam_id, user_id, attempt_number, total_questions, total_score,
		                           percentage, passed, completed_at, auto_submitted, time_spent_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		result.SessionID, result.ExamID, result.UserID, result.AttemptNumber, result.TotalQuestions,
		result.TotalScore, result.Percentage, result.Passed, result.CompletedAt, result.AutoSubmitted,
		result.TimeSpentSeconds,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit finalize: %w", err)
	}
	return result, true, nil
}

// GetResult retrieves the result of a finalized session.
func (r *ExamSessionRepository) GetResult(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	result, err := scanResult(r.pool.QueryRow(ctx, selectResultColumns+` WHERE session_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return result, nil
}

// ListExpired returns IN_PROGRESS sessions whose deadline has passed, oldest first.
func (r *ExamSessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE state = 'IN_PROGRESS' AND deadline IS NOT NULL AND deadline <= $1
		 ORDER BY deadline
		 LIMIT $2`, now, limit,
	)
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

// ListResultsByExam retrieves finalized results for an exam with pagination.
func (r *ExamSessionRepository) ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.ExamResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_results WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		selectResultColumns+`
		 WHERE exam_id = $1
		 ORDER BY completed_at ASC, session_id ASC
		 LIMIT $2 OFFSET $3`, examID, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.ExamResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, *res)
	}
	return results, total, rows.Err()
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var snapshot []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.AttemptNumber, &s.State, &s.StartedAt, &s.Deadline,
		&s.TimeLimitMinutes, &s.PassingScore, &snapshot, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(snapshot, &s.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal question snapshot: %w", err)
	}
	s.StartedAt = s.StartedAt.UTC()
	return s, nil
}

func scanResult(row pgx.Row) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	err := row.Scan(&res.SessionID, &res.ExamID, &res.UserID, &res.AttemptNumber, &res.TotalQuestions,
		&res.TotalScore, &res.Percentage, &res.Passed, &res.CompletedAt, &res.AutoSubmitted, &res.TimeSpentSeconds)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func loadAnswers(ctx context.Context, q dbtx, s *model.ExamSession) error {
	rows, err := q.Query(ctx,
		`SELECT question_id, selected_index FROM session_answers WHERE session_id = $1`, s.ID,
	)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	s.Answers = make(map[uuid.UUID]int)
	for rows.Next() {
		var qID uuid.UUID
		var idx int
		if err := rows.Scan(&qID, &idx); err != nil {
			return fmt.Errorf("scan answer: %w", err)
		}
		s.Answers[qID] = idx
	}
	return rows.Err()
}

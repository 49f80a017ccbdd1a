package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-session/internal/model"
)

// FinalizeFunc computes the result of a session from the snapshot handed to
// it by the store. It runs inside the store's per-session critical section
// and must not block.
type FinalizeFunc func(s *model.ExamSession) *model.ExamResult

// SessionStore persists exam sessions, their answers and their results.
// Every method is safe for concurrent use; operations on one session are
// serialized, operations on different sessions are not.
type SessionStore interface {
	// FindActive returns the IN_PROGRESS session of the pair or model.ErrSessionNotFound.
	FindActive(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error)

	// Create inserts s as IN_PROGRESS and assigns its ID and AttemptNumber
	// (finished sessions of the pair + 1). When another IN_PROGRESS session
	// of the pair already exists, that session is returned with created=false.
	Create(ctx context.Context, s *model.ExamSession) (sess *model.ExamSession, created bool, err error)

	// GetByID returns the session with its answers.
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)

	// SaveAnswer upserts one answer. The state and deadline are re-checked
	// against now under the session lock.
	SaveAnswer(ctx context.Context, id, questionID uuid.UUID, selectedIndex int, now time.Time) error

	// Finalize moves an IN_PROGRESS session to the terminal state of the
	// result produced by fn, exactly once. For an already terminal session
	// fn is not called and the stored result is returned with won=false.
	Finalize(ctx context.Context, id uuid.UUID, fn FinalizeFunc) (result *model.ExamResult, won bool, err error)

	// GetResult returns the result of a finalized session.
	GetResult(ctx context.Context, id uuid.UUID) (*model.ExamResult, error)

	// ListExpired returns up to limit IN_PROGRESS session ids whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ListResultsByExam pages through finalized results of an exam.
	ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.ExamResult, int64, error)
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// checkWritable reports why an answer may not be written to s at now.
func checkWritable(s *model.ExamSession, now time.Time) error {
	switch s.State {
	case model.SessionStateExpiredSubmitted:
		return model.ErrDeadlinePassed
	case model.SessionStateSubmitted:
		return model.ErrSessionClosed
	}
	if s.DeadlineReached(now) {
		return model.ErrDeadlinePassed
	}
	return nil
}

const createAttempts = 3

// createOrRecover runs insert until it either creates s or finds the open
// session that blocked it. The blocking session can be finalized between the
// two steps, in which case the insert is tried again.
func createOrRecover(
	insert func() (bool, error),
	findActive func() (*model.ExamSession, error),
	s *model.ExamSession,
) (*model.ExamSession, bool, error) {
	for attempt := 1; ; attempt++ {
		inserted, err := insert()
		if err != nil {
			return nil, false, err
		}
		if inserted {
			return s, true, nil
		}

		existing, err := findActive()
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, model.ErrSessionNotFound) || attempt == createAttempts {
			return nil, false, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
	}
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

const publishTimeout = 5 * time.Second

// Finalizer is the single path by which a session becomes terminal, whether
// triggered by the student, by lazy expiry or by the sweep.
type Finalizer struct {
	store     repository.SessionStore
	publisher events.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// NewFinalizer creates a new Finalizer. publisher may be nil.
func NewFinalizer(store repository.SessionStore, publisher events.Publisher, now func() time.Time, log zerolog.Logger) *Finalizer {
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		store:     store,
		publisher: publisher,
		now:       now,
		log:       log.With().Str("component", "finalizer").Logger(),
	}
}

// Finalize scores and closes the session. auto marks a deadline-triggered
// close; a student submit at or past the deadline is also recorded as auto.
// Losers of a concurrent race get the winner's result and publish nothing.
func (f *Finalizer) Finalize(ctx context.Context, sessionID uuid.UUID, auto bool) (*model.ExamResult, error) {
	result, won, err := f.store.Finalize(ctx, sessionID, func(s *model.ExamSession) *model.ExamResult {
		completedAt := f.now()
		return Score(s, completedAt, auto || s.DeadlineReached(completedAt))
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return result, nil
	}

	f.log.Info().
		Str("session_id", sessionID.String()).
		Int("user_id", result.UserID).
		Int("percentage", result.Percentage).
		Bool("auto_submitted", result.AutoSubmitted).
		Msg("Session finalized")

	if f.publisher != nil {
		// The caller may hang up right after the commit; the event must still go out.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := f.publisher.Publish(pubCtx, result); err != nil {
			// The result row is already durable; publication is best effort.
			f.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to publish result")
		}
	}
	return result, nil
}

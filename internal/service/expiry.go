package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/sync/errgroup"
)

const sweepParallelism = 4

// ExpiryController closes sessions whose deadline has passed. Enforce runs
// lazily on every session operation; Sweep catches sessions nobody touches.
type ExpiryController struct {
	store     repository.SessionStore
	finalizer *Finalizer
	now       func() time.Time
	batch     int
	log       zerolog.Logger
}

// NewExpiryController creates a new ExpiryController.
func NewExpiryController(store repository.SessionStore, finalizer *Finalizer, now func() time.Time, batch int, log zerolog.Logger) *ExpiryController {
	if now == nil {
		now = time.Now
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryController{
		store:     store,
		finalizer: finalizer,
		now:       now,
		batch:     batch,
		log:       log.With().Str("component", "expiry").Logger(),
	}
}

// Enforce auto-submits s if it is open and past its deadline, and returns
// the session as it is after enforcement.
func (c *ExpiryController) Enforce(ctx context.Context, s *model.ExamSession) (*model.ExamSession, error) {
	if s.State != model.SessionStateInProgress || !s.DeadlineReached(c.now()) {
		return s, nil
	}
	if _, err := c.finalizer.Finalize(ctx, s.ID, true); err != nil {
		return nil, fmt.Errorf("auto-submit: %w", err)
	}
	return c.store.GetByID(ctx, s.ID)
}

// Sweep finalizes up to one batch of expired sessions and returns how many
// were processed. Sessions finalized concurrently elsewhere are skipped by
// the store.
func (c *ExpiryController) Sweep(ctx context.Context) (int, error) {
	ids, err := c.store.ListExpired(ctx, c.now(), c.batch)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, id := range ids {
		g.Go(func() error {
			return c.expire(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	c.log.Info().Int("count", len(ids)).Msg("Expired sessions auto-submitted")
	return len(ids), nil
}

func (c *ExpiryController) expire(ctx context.Context, id uuid.UUID) error {
	_, err := c.finalizer.Finalize(ctx, id, true)
	if err == nil || errors.Is(err, model.ErrSessionNotFound) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// One bad session must not stall the rest of the batch.
	c.log.Error().Err(err).Str("session_id", id.String()).Msg("Auto-submit failed")
	return nil
}

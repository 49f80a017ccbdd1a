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
	"github.com/stemsi/exstem-session/internal/response"
)

// ExamSessionService handles the lifecycle of exam attempts: start and
// recovery, answer saving, submission and result lookup.
type ExamSessionService struct {
	store     repository.SessionStore
	defs      *DefinitionService
	finalizer *Finalizer
	expiry    *ExpiryController
	now       func() time.Time
	log       zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService. now defaults to time.Now.
func NewExamSessionService(
	store repository.SessionStore,
	defs *DefinitionService,
	finalizer *Finalizer,
	expiry *ExpiryController,
	now func() time.Time,
	log zerolog.Logger,
) *ExamSessionService {
	if now == nil {
		now = time.Now
	}
	return &ExamSessionService{
		store:     store,
		defs:      defs,
		finalizer: finalizer,
		expiry:    expiry,
		now:       now,
		log:       log.With().Str("component", "exam_session_service").Logger(),
	}
}

// Start returns the open attempt of the pair, or creates a new one.
// created is false when an existing attempt was recovered.
func (s *ExamSessionService) Start(ctx context.Context, examID uuid.UUID, userID int) (*model.SessionView, bool, error) {
	existing, err := s.store.FindActive(ctx, examID, userID)
	switch {
	case err == nil:
		sess, err := s.expiry.Enforce(ctx, existing)
		if err != nil {
			return nil, false, err
		}
		if sess.State == model.SessionStateInProgress {
			return model.NewSessionView(sess, s.now()), false, nil
		}
		// The open attempt ran out; a fresh one is created below.
	case !errors.Is(err, model.ErrSessionNotFound):
		return nil, false, fmt.Errorf("find active session: %w", err)
	}

	def, err := s.defs.Get(ctx, examID)
	if err != nil {
		return nil, false, err
	}
	if !def.Active {
		return nil, false, model.ErrExamUnavailable
	}

	startedAt := s.now().UTC()
	sess, created, err := s.store.Create(ctx, &model.ExamSession{
		ExamID:           examID,
		UserID:           userID,
		State:            model.SessionStateInProgress,
		StartedAt:        startedAt,
		Deadline:         def.Deadline(startedAt),
		TimeLimitMinutes: def.TimeLimitMinutes,
		PassingScore:     def.PassingScore,
		Questions:        def.Questions,
		Answers:          make(map[uuid.UUID]int),
	})
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	if created {
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Str("exam_id", examID.String()).
			Int("user_id", userID).
			Int("attempt", sess.AttemptNumber).
			Msg("Session started")
	}
	return model.NewSessionView(sess, s.now()), created, nil
}

// GetSnapshot returns the client view of the session. An expired session
// is auto-submitted first.
func (s *ExamSessionService) GetSnapshot(ctx context.Context, sessionID uuid.UUID, requesterID int) (*model.SessionView, error) {
	sess, err := s.owned(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	return model.NewSessionView(sess, s.now()), nil
}

// SaveAnswer upserts the selected alternative for one question.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, sessionID uuid.UUID, requesterID int, questionID uuid.UUID, selectedIndex int) error {
	sess, err := s.owned(ctx, sessionID, requesterID)
	if err != nil {
		return err
	}

	switch sess.State {
	case model.SessionStateSubmitted:
		return model.ErrSessionClosed
	case model.SessionStateExpiredSubmitted:
		return model.ErrDeadlinePassed
	}

	q, ok := sess.Question(questionID)
	if !ok {
		return model.ErrInvalidQuestion
	}
	if selectedIndex < 0 || selectedIndex >= len(q.Alternatives) {
		return model.ErrInvalidAlternative
	}

	err = s.store.SaveAnswer(ctx, sessionID, questionID, selectedIndex, s.now())
	if errors.Is(err, model.ErrDeadlinePassed) {
		// The deadline fell between the lazy check and the write.
		if _, ferr := s.finalizer.Finalize(ctx, sessionID, true); ferr != nil {
			s.log.Error().Err(ferr).Str("session_id", sessionID.String()).Msg("Auto-submit after late answer failed")
		}
	}
	return err
}

// Submit finalizes the session and returns its result. Repeated or
// concurrent calls all return the same result.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID uuid.UUID, requesterID int) (*model.ExamResult, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != requesterID {
		return nil, model.ErrForbidden
	}
	return s.finalizer.Finalize(ctx, sessionID, false)
}

// GetResult returns the result of a finalized session, or
// model.ErrSessionInProgress while the attempt is still open.
func (s *ExamSessionService) GetResult(ctx context.Context, sessionID uuid.UUID, requesterID int) (*model.ExamResult, error) {
	sess, err := s.owned(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	if sess.State == model.SessionStateInProgress {
		return nil, model.ErrSessionInProgress
	}
	return s.store.GetResult(ctx, sessionID)
}

// ListResults pages through finalized results of an exam for reporting.
func (s *ExamSessionService) ListResults(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.ExamResult, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	results, total, err := s.store.ListResultsByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list results: %w", err)
	}
	if results == nil {
		results = []model.ExamResult{}
	}

	pagination := response.NewPagination(page, perPage, total)
	return results, pagination, nil
}

// owned loads the session, checks ownership before anything can mutate it,
// then applies lazy expiry.
func (s *ExamSessionService) owned(ctx context.Context, sessionID uuid.UUID, requesterID int) (*model.ExamSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != requesterID {
		return nil, model.ErrForbidden
	}
	return s.expiry.Enforce(ctx, sess)
}

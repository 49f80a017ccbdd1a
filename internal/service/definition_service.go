package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/sync/singleflight"
)

// DefinitionService fronts the definition provider with an optional Redis
// cache. Concurrent misses for one exam collapse into a single lookup.
type DefinitionService struct {
	repo  repository.DefinitionRepository
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

// NewDefinitionService creates a new DefinitionService. rdb may be nil.
func NewDefinitionService(repo repository.DefinitionRepository, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *DefinitionService {
	return &DefinitionService{
		repo: repo,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "definition_service").Logger(),
	}
}

// Get returns the definition of examID, from cache when possible.
// The returned value is private to the caller.
func (s *DefinitionService) Get(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	if def, ok := s.fromCache(ctx, examID); ok {
		return def, nil
	}

	v, err, _ := s.group.Do(examID.String(), func() (interface{}, error) {
		def, err := s.repo.GetByID(ctx, examID)
		if err != nil {
			return nil, err
		}
		s.store(ctx, def)
		return def, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrDefinitionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load definition: %w", err)
	}

	// Callers sharing a flight must not share the slices.
	return cloneDefinition(v.(*model.ExamDefinition)), nil
}

// Replace writes def through w and drops its cached copy, so the next Start
// sees the new version (including deactivation) instead of a stale entry.
func (s *DefinitionService) Replace(ctx context.Context, w repository.DefinitionWriter, def *model.ExamDefinition) error {
	if err := w.Upsert(ctx, def); err != nil {
		return err
	}
	s.group.Forget(def.ID.String())
	if err := s.Invalidate(ctx, def.ID); err != nil {
		return fmt.Errorf("invalidate cached definition %s: %w", def.ID, err)
	}
	return nil
}

// Invalidate drops the cached copy of examID. Open sessions are unaffected
// because they carry their own snapshot.
func (s *DefinitionService) Invalidate(ctx context.Context, examID uuid.UUID) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Err()
}

// PrewarmAllCaches loads every active definition into Redis on startup so the
// first wave of starts does not stampede the provider.
func (s *DefinitionService) PrewarmAllCaches(ctx context.Context) error {
	if s.rdb == nil {
		s.log.Info().Msg("Redis disabled, skipping definition prewarm")
		return nil
	}

	ids, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active definitions: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming exam definitions...")

	warmed := 0
	for _, id := range ids {
		def, err := s.repo.GetByID(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to prewarm definition")
			continue
		}
		s.store(ctx, def)
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(ids)).Msg("Prewarm complete")
	return nil
}

func (s *DefinitionService) fromCache(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Definition cache read failed")
		}
		return nil, false
	}
	var def model.ExamDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Corrupt cached definition")
		return nil, false
	}
	return &def, true
}

func (s *DefinitionService) store(ctx context.Context, def *model.ExamDefinition) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(def)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to marshal definition for cache")
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(def.ID.String()), payload, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", def.ID.String()).Msg("Definition cache write failed")
	}
}

func cloneDefinition(d *model.ExamDefinition) *model.ExamDefinition {
	c := *d
	if d.TimeLimitMinutes != nil {
		l := *d.TimeLimitMinutes
		c.TimeLimitMinutes = &l
	}
	c.Questions = make([]model.Question, len(d.Questions))
	for i, q := range d.Questions {
		c.Questions[i] = q.Clone()
	}
	return &c
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

type countingDefinitions struct {
	stubDefinitions
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingDefinitions) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.stubDefinitions.GetByID(ctx, id)
}

func TestDefinitionServiceGet(t *testing.T) {
	def := newDefinition(nil, true, 0, 1)
	repo := &countingDefinitions{stubDefinitions: stubDefinitions{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}}}
	svc := NewDefinitionService(repo, nil, time.Minute, zerolog.Nop())

	got, err := svc.Get(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != def.ID || len(got.Questions) != 2 {
		t.Errorf("Get returned %+v", got)
	}

	// Mutating the returned copy must not leak into later lookups.
	got.Questions[0].Alternatives[0] = "tampered"
	got.Questions = got.Questions[:1]

	again, err := svc.Get(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if len(again.Questions) != 2 || again.Questions[0].Alternatives[0] != "a" {
		t.Errorf("definition was mutated through a returned copy: %+v", again.Questions)
	}
}

func TestDefinitionServiceNotFound(t *testing.T) {
	repo := &countingDefinitions{stubDefinitions: stubDefinitions{defs: map[uuid.UUID]*model.ExamDefinition{}}}
	svc := NewDefinitionService(repo, nil, time.Minute, zerolog.Nop())

	_, err := svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, model.ErrDefinitionNotFound) {
		t.Errorf("err = %v, want ErrDefinitionNotFound", err)
	}
}

func TestDefinitionServiceCollapsesConcurrentMisses(t *testing.T) {
	def := newDefinition(nil, true, 0)
	repo := &countingDefinitions{
		stubDefinitions: stubDefinitions{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}},
		gate:            make(chan struct{}),
	}
	svc := NewDefinitionService(repo, nil, time.Minute, zerolog.Nop())

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Get(context.Background(), def.ID); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}

	// Let the callers pile up on the first flight before releasing it.
	for repo.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	if calls := repo.calls.Load(); calls >= n {
		t.Errorf("provider called %d times for %d concurrent misses", calls, n)
	}
}

func TestDefinitionServiceWithoutRedis(t *testing.T) {
	svc := NewDefinitionService(&stubDefinitions{defs: map[uuid.UUID]*model.ExamDefinition{}}, nil, time.Minute, zerolog.Nop())

	if err := svc.PrewarmAllCaches(context.Background()); err != nil {
		t.Errorf("PrewarmAllCaches: %v", err)
	}
	if err := svc.Invalidate(context.Background(), uuid.New()); err != nil {
		t.Errorf("Invalidate: %v", err)
	}
}

func (s *stubDefinitions) Upsert(_ context.Context, d *model.ExamDefinition) error {
	s.put(cloneDefinition(d))
	return nil
}

func TestDefinitionServiceReplaceDropsCachedCopy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	def := newDefinition(nil, true, 0, 1)
	defs := &stubDefinitions{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}}
	log := zerolog.Nop()
	defService := NewDefinitionService(defs, rdb, time.Hour, log)
	if err := defService.PrewarmAllCaches(ctx); err != nil {
		t.Fatalf("PrewarmAllCaches: %v", err)
	}

	// A write that bypasses the service leaves the cached copy in place.
	deactivated := cloneDefinition(def)
	deactivated.Active = false
	defs.put(cloneDefinition(deactivated))
	if got, err := defService.Get(ctx, def.ID); err != nil || !got.Active {
		t.Fatalf("expected the cached active copy, got %+v err=%v", got, err)
	}

	if err := defService.Replace(ctx, defs, deactivated); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	clock := newFakeClock()
	store := repository.NewMemorySessionStore()
	finalizer := NewFinalizer(store, &recordingPublisher{}, clock.Now, log)
	expiry := NewExpiryController(store, finalizer, clock.Now, 10, log)
	sessions := NewExamSessionService(store, defService, finalizer, expiry, clock.Now, log)

	_, created, err := sessions.Start(ctx, def.ID, owner)
	if !errors.Is(err, model.ErrExamUnavailable) {
		t.Fatalf("Start after deactivation: created=%v err=%v, want ErrExamUnavailable", created, err)
	}
}

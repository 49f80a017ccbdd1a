package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

type pairKey struct {
	examID uuid.UUID
	userID int
}

type memorySession struct {
	mu      sync.Mutex
	session *model.ExamSession
	result  *model.ExamResult
}

// MemorySessionStore is an in-process SessionStore for single-instance
// deployments and tests. The store lock only guards the indexes; each
// session has its own mutex. Lock order is session then store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memorySession
	active   map[pairKey]uuid.UUID
	finished map[pairKey]int
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID]*memorySession),
		active:   make(map[pairKey]uuid.UUID),
		finished: make(map[pairKey]int),
	}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (m *MemorySessionStore) entry(id uuid.UUID) (*memorySession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	return e, ok
}

func (m *MemorySessionStore) entries() []*memorySession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*memorySession, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e)
	}
	return out
}

func (e *memorySession) clone() *model.ExamSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

func (m *MemorySessionStore) FindActive(_ context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	m.mu.RLock()
	id, ok := m.active[pairKey{examID: examID, userID: userID}]
	e := m.sessions[id]
	m.mu.RUnlock()
	if !ok || e == nil {
		return nil, model.ErrSessionNotFound
	}
	s := e.clone()
	if s.State.Terminal() {
		// Finalized between the index read and the clone.
		return nil, model.ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) Create(_ context.Context, s *model.ExamSession) (*model.ExamSession, bool, error) {
	key := pairKey{examID: s.ExamID, userID: s.UserID}

	m.mu.Lock()
	if id, ok := m.active[key]; ok {
		e := m.sessions[id]
		m.mu.Unlock()
		return e.clone(), false, nil
	}

	stored := s.Clone()
	stored.ID = uuid.New()
	stored.State = model.SessionStateInProgress
	stored.AttemptNumber = m.finished[key] + 1
	stored.CompletedAt = nil
	m.sessions[stored.ID] = &memorySession{session: stored}
	m.active[key] = stored.ID
	m.mu.Unlock()

	return stored.Clone(), true, nil
}

func (m *MemorySessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return e.clone(), nil
}

func (m *MemorySessionStore) SaveAnswer(_ context.Context, id, questionID uuid.UUID, selectedIndex int, now time.Time) error {
	e, ok := m.entry(id)
	if !ok {
		return model.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkWritable(e.session, now); err != nil {
		return err
	}
	e.session.Answers[questionID] = selectedIndex
	return nil
}

func (m *MemorySessionStore) Finalize(_ context.Context, id uuid.UUID, fn FinalizeFunc) (*model.ExamResult, bool, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, false, model.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.State.Terminal() {
		res := *e.result
		return &res, false, nil
	}

	result := fn(e.session.Clone())

	completedAt := result.CompletedAt
	e.session.State = result.FinalState()
	e.session.CompletedAt = &completedAt
	stored := *result
	e.result = &stored

	key := pairKey{examID: e.session.ExamID, userID: e.session.UserID}
	m.mu.Lock()
	if m.active[key] == id {
		delete(m.active, key)
	}
	m.finished[key]++
	m.mu.Unlock()

	return result, true, nil
}

func (m *MemorySessionStore) GetResult(_ context.Context, id uuid.UUID) (*model.ExamResult, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, model.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil, model.ErrSessionNotFound
	}
	res := *e.result
	return &res, nil
}

func (m *MemorySessionStore) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	type expired struct {
		id       uuid.UUID
		deadline time.Time
	}
	var found []expired
	for _, e := range m.entries() {
		e.mu.Lock()
		s := e.session
		if s.State == model.SessionStateInProgress && s.DeadlineReached(now) {
			found = append(found, expired{id: s.ID, deadline: *s.Deadline})
		}
		e.mu.Unlock()
	}

	sort.Slice(found, func(i, j int) bool { return found[i].deadline.Before(found[j].deadline) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	ids := make([]uuid.UUID, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}

func (m *MemorySessionStore) ListResultsByExam(_ context.Context, examID uuid.UUID, page, perPage int) ([]model.ExamResult, int64, error) {
	var all []model.ExamResult
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.result != nil && e.result.ExamID == examID {
			all = append(all, *e.result)
		}
		e.mu.Unlock()
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CompletedAt.Equal(all[j].CompletedAt) {
			return all[i].SessionID.String() < all[j].SessionID.String()
		}
		return all[i].CompletedAt.Before(all[j].CompletedAt)
	})

	total := int64(len(all))
	start := (page - 1) * perPage
	if start >= len(all) {
		return []model.ExamResult{}, total, nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

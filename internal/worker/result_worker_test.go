package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/model"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []uuid.UUID
	fail error
}

func (s *recordingSink) Publish(_ context.Context, r *model.ExamResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, r.SessionID)
	return nil
}

func queued(attempts int) *queuedResult {
	r := &model.ExamResult{SessionID: uuid.New(), ExamID: uuid.New()}
	return &queuedResult{ResultEvent: events.NewResultEvent(r), Attempts: attempts}
}

func TestResultWorkerFlush(t *testing.T) {
	sink := &recordingSink{}
	w := NewResultWorker(nil, sink, zerolog.Nop())

	batch := []*queuedResult{queued(0), queued(0), queued(2)}
	w.flush(context.Background(), batch)

	if len(sink.got) != 3 {
		t.Fatalf("sink got %d results, want 3", len(sink.got))
	}
	for i, r := range batch {
		if sink.got[i] != r.Result.SessionID {
			t.Errorf("result %d out of order", i)
		}
	}
}

func TestResultWorkerDropsAfterMaxAttempts(t *testing.T) {
	sink := &recordingSink{fail: errors.New("broker unavailable")}
	w := NewResultWorker(nil, sink, zerolog.Nop())

	r := queued(resultMaxAttempts - 1)
	w.flush(context.Background(), []*queuedResult{r})

	if r.Attempts != resultMaxAttempts {
		t.Errorf("Attempts = %d, want %d", r.Attempts, resultMaxAttempts)
	}
}

func TestResultWorkerEmptyBatch(t *testing.T) {
	w := NewResultWorker(nil, &recordingSink{fail: errors.New("unused")}, zerolog.Nop())
	w.flush(context.Background(), nil)
}

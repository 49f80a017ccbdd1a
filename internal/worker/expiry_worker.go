package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

const maxSweepsPerTick = 10

// leaseScript takes the sweep lease when it is free and extends it when the
// caller already holds it. Returns 1 when the caller owns the lease.
var leaseScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if not holder then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if holder == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// Sweeper is satisfied by service.ExpiryController.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ExpiryWorker runs the expiry sweep on a fixed interval. With Redis one
// instance holds a renewable lease and does the sweeping; another instance
// takes over once the holder misses two ticks. The store's finalization is
// exactly-once either way.
type ExpiryWorker struct {
	sweeper  Sweeper
	rdb      *redis.Client
	interval time.Duration
	owner    string
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker. rdb may be nil.
func NewExpiryWorker(sweeper Sweeper, rdb *redis.Client, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sweeper:  sweeper,
		rdb:      rdb,
		interval: interval,
		owner:    uuid.New().String(),
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start blocks until ctx is done. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	if !w.acquireLease(ctx) {
		return
	}

	// A backlog larger than one batch drains over a few passes per tick.
	for i := 0; i < maxSweepsPerTick && ctx.Err() == nil; i++ {
		n, err := w.sweeper.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Sweep failed")
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// acquireLease reports whether this instance should sweep now. Redis errors
// fall back to sweeping, which is safe.
func (w *ExpiryWorker) acquireLease(ctx context.Context) bool {
	if w.rdb == nil {
		return true
	}
	held, err := leaseScript.Run(ctx, w.rdb,
		[]string{config.CacheKey.ExpirySweepLeaseKey()},
		w.owner, w.leaseTTL().Milliseconds(),
	).Int()
	if err != nil {
		w.log.Warn().Err(err).Msg("Lease check failed, sweeping anyway")
		return true
	}
	return held == 1
}

func (w *ExpiryWorker) leaseTTL() time.Duration {
	return 2 * w.interval
}

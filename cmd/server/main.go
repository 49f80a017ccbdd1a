package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/rabbitmq"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Str("result_sink", cfg.ResultSink).
		Msg("Starting ExStem Session Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	store, defRepo, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ─── Result Publication ───────────────────────────────────────────
	sink, closeSink, err := openSink(cfg, rdb, log)
	if err != nil {
		return err
	}
	defer closeSink()

	// With Redis, finalization only enqueues and the worker talks to the sink.
	var publisher events.Publisher = sink
	if rdb != nil {
		publisher = events.NewRedisQueuePublisher(rdb)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	defService := service.NewDefinitionService(defRepo, rdb, cfg.DefinitionCacheTTL, log)
	finalizer := service.NewFinalizer(store, publisher, time.Now, log)
	expiry := service.NewExpiryController(store, finalizer, time.Now, cfg.ExpirySweepBatch, log)
	sessionService := service.NewExamSessionService(store, defService, finalizer, expiry, time.Now, log)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all active definitions BEFORE accepting traffic.
	if err := defService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		Exam:          handler.NewExamHandler(sessionService, log),
		WS:            handler.NewWSHandler(sessionService, cfg.WSSyncInterval, log, cfg.AllowedOrigins),
	}

	var startLimiter *middleware.RateLimiter
	if cfg.StartRateLimitPerMinute > 0 {
		startLimiter = middleware.NewRateLimiter(cfg.StartRateLimitPerMinute, time.Minute)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, startLimiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Background Workers and Server ──────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.NewExpiryWorker(expiry, rdb, cfg.ExpirySweepInterval, log).Start(workerCtx)
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			worker.NewResultWorker(rdb, sink, log).Start(workerCtx)
			return nil
		})
	}
	if startLimiter != nil {
		g.Go(func() error {
			startLimiter.Run(workerCtx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		// 1. Stop accepting new HTTP requests (5s timeout).
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// 2. Stop background workers; the result worker flushes its batch.
		workerCancel()
		return nil
	})

	return g.Wait()
}

// openStores selects the session store and definition provider for
// STORE_BACKEND.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.SessionStore, repository.DefinitionRepository, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		defs, err := repository.LoadFileExamRepository(cfg.DefinitionsFile)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Warn().Str("definitions", cfg.DefinitionsFile).Msg("Using in-memory session store; sessions are lost on restart")
		return repository.NewMemorySessionStore(), defs, func() {}, nil

	case config.StoreBackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repository.NewExamSessionRepository(pool), repository.NewExamRepository(pool), pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// openSink builds the downstream publisher selected by RESULT_SINK.
func openSink(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (events.Publisher, func(), error) {
	switch cfg.ResultSink {
	case config.ResultSinkAMQP:
		pub, err := rabbitmq.NewAMQPPublisher(cfg.AMQPURL, cfg.ResultsExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		log.Info().Str("exchange", cfg.ResultsExchange).Msg("RabbitMQ connected")
		return events.NewBrokerPublisher(pub), pub.Close, nil

	case config.ResultSinkRedis:
		if rdb == nil {
			return nil, nil, errors.New("RESULT_SINK=redis requires REDIS_URL")
		}
		return events.NewRedisChannelPublisher(rdb), func() {}, nil

	case config.ResultSinkLog, "":
		return events.NewLogPublisher(log), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown RESULT_SINK %q", cfg.ResultSink)
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

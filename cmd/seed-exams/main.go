package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

// Loads a definitions file into PostgreSQL so the postgres backend serves
// the same exams as the memory backend.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	var path string
	flag.StringVar(&path, "file", cfg.DefinitionsFile, "YAML definitions file")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	defs, err := repository.LoadFileExamRepository(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to load definitions")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Running servers cache definitions in Redis; seeding drops those entries
	// so a deactivated or edited exam takes effect immediately.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	exams := repository.NewExamRepository(pool)
	defService := service.NewDefinitionService(exams, rdb, cfg.DefinitionCacheTTL, log)

	fmt.Printf("=== Seeding exams from %s ===\n", path)

	seeded := 0
	for _, d := range defs.All() {
		if err := defService.Replace(ctx, exams, d); err != nil {
			log.Error().Err(err).Str("exam_id", d.ID.String()).Msg("Failed to seed exam")
			continue
		}
		seeded++
		fmt.Printf("  %s  %-30s  %d questions  active=%t\n", d.ID, d.Title, len(d.Questions), d.Active)
	}

	fmt.Printf("=== Done: %d exams seeded ===\n", seeded)
}

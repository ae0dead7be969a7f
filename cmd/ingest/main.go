package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
	"github.com/timmy/gifengine/internal/repository"
	"github.com/timmy/gifengine/internal/service"
	"github.com/timmy/gifengine/internal/source/manifest"
	"github.com/timmy/gifengine/internal/storage"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("gifengine-ingest"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	manifestPath := flag.String("manifest", "", "Path to a JSONL manifest of (query, url) entries")
	limit := flag.Int("limit", 0, "Maximum number of items to ingest, 0 for all")
	verify := flag.Bool("verify", false, "Run one liveness pass instead of ingesting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	if !*verify && *manifestPath == "" {
		appLogger.Fatal("Either -manifest or -verify is required")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	m := metrics.New()
	mediaRepo := repository.NewMediaRepository(db)

	if *verify {
		liveness := service.NewLivenessService(
			mediaRepo,
			service.NewHTTPChecker(cfg.HTTP.Timeout(), "gifengine-liveness/1.0"),
			m,
			appLogger,
			&service.LivenessConfig{
				StaleAfter: cfg.Liveness.StaleAfter(),
				BatchSize:  cfg.Liveness.BatchSize,
				BatchPause: cfg.Liveness.BatchPause,
			},
		)
		stats, err := liveness.RunPass(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Liveness pass failed")
		}
		appLogger.WithFields(logger.Fields{
			"pass_id":   stats.PassID,
			"stale":     stats.Stale,
			"alive":     stats.Alive,
			"dead":      stats.Dead,
			"cancelled": stats.Cancelled,
		}).Info("Liveness pass completed")
		return
	}

	topicRepo := repository.NewTopicRepository(db)

	var mirror service.TopicMirror
	if cfg.Qdrant.Enabled {
		qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
		}
		defer qdrantRepo.Close()

		if err := qdrantRepo.EnsureCollection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
		}
		mirror = qdrantRepo
	}

	var inspector *service.MediaInspector
	if cfg.Ingest.InspectMedia {
		var objectStorage storage.ObjectStorage
		if cfg.Storage.Enabled {
			s3Storage, err := storage.NewStorage(&cfg.Storage)
			if err != nil {
				appLogger.WithError(err).Fatal("Failed to initialize storage")
			}
			if err := s3Storage.EnsureBucket(ctx); err != nil {
				appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
			}
			objectStorage = s3Storage
		}
		inspector = service.NewMediaInspector(cfg.HTTP.Timeout(), cfg.Ingest.MaxInspectBytes, objectStorage)
	}

	ingestService := service.NewIngestService(
		db,
		service.NewEmbeddingService(&cfg.Embedding),
		service.NewTopicMatcher(topicRepo, cfg.Search.SimilarityThreshold),
		mediaRepo,
		repository.NewQueryLogRepository(db),
		mirror,
		inspector,
		m,
		appLogger,
		&service.IngestConfig{
			Workers:   cfg.Ingest.Workers,
			BatchSize: cfg.Ingest.BatchSize,
		},
	)

	src := manifest.NewAdapter(*manifestPath)
	appLogger.WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  *limit,
	}).Info("Starting ingestion")

	stats, err := ingestService.IngestFromSource(ctx, src, *limit)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to ingest from source")
	}
	appLogger.WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"created":   stats.CreatedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"malformed": src.Skipped(),
	}).Info("Ingestion completed")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/gifengine/internal/api"
	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
	"github.com/timmy/gifengine/internal/provider"
	"github.com/timmy/gifengine/internal/repository"
	"github.com/timmy/gifengine/internal/service"
	"github.com/timmy/gifengine/internal/storage"
)

const checkUserAgent = "gifengine-liveness/1.0"

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("gifengine-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}
	defer sqlDB.Close()

	topicRepo := repository.NewTopicRepository(db)
	mediaRepo := repository.NewMediaRepository(db)
	cacheRepo := repository.NewExternalCacheRepository(db)
	queryRepo := repository.NewQueryLogRepository(db)

	var (
		index  service.TopicIndex = service.NewScanIndex(topicRepo)
		mirror service.TopicMirror
	)
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
		index = service.NewQdrantIndex(qdrantRepo, topicRepo)
		mirror = qdrantRepo
		appLogger.WithField("collection", cfg.Qdrant.Collection).Info("Qdrant topic index enabled")
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

	m := metrics.New()

	embeddingService := service.NewEmbeddingService(&cfg.Embedding)
	matcher := service.NewTopicMatcher(topicRepo, cfg.Search.SimilarityThreshold)

	ingestService := service.NewIngestService(
		db,
		embeddingService,
		matcher,
		mediaRepo,
		queryRepo,
		mirror,
		inspector,
		m,
		appLogger,
		&service.IngestConfig{
			Workers:   cfg.Ingest.Workers,
			BatchSize: cfg.Ingest.BatchSize,
		},
	)

	registry := provider.NewFromConfig(cfg, m)
	appLogger.WithFields(logger.Fields{
		"order":   registry.Order(),
		"enabled": registry.Enabled(),
	}).Info("External providers configured")

	searchService := service.NewSearchService(
		embeddingService,
		index,
		mediaRepo,
		cacheRepo,
		registry,
		ingestService,
		m,
		appLogger,
		&service.SearchConfig{
			SimilarityThreshold: cfg.Search.SimilarityThreshold,
			MaxResults:          cfg.Search.MaxResults,
			PreferExternal:      cfg.Search.PreferExternal,
			CacheTTL:            cfg.Cache.TTL(),
		},
	)

	statsService := service.NewStatsService(topicRepo, mediaRepo, cacheRepo)

	livenessService := service.NewLivenessService(
		mediaRepo,
		service.NewHTTPChecker(cfg.HTTP.Timeout(), checkUserAgent),
		m,
		appLogger,
		&service.LivenessConfig{
			StaleAfter: cfg.Liveness.StaleAfter(),
			Interval:   cfg.Liveness.Interval,
			BatchSize:  cfg.Liveness.BatchSize,
			BatchPause: cfg.Liveness.BatchPause,
		},
	)
	defer livenessService.Stop()

	if cfg.Liveness.Enabled {
		go livenessService.Run(ctx)
	}

	router := api.SetupRouter(&api.Handlers{
		Searcher: searchService,
		Stats:    statsService,
		Ingester: ingestService,
		Liveness: livenessService,
		DB:       sqlDB,
		Registry: m.Registry(),
		Logger:   appLogger,
	}, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()
	livenessService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

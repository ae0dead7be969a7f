package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/repository"
	"gorm.io/gorm"
)

const testThreshold = 0.55

// fakeEmbedder returns fixed vectors for known texts and fails otherwise.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	fail    bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"funny cat":   {1, 0, 0, 0},
		"funny kitty": {0.9, 0.1, 0, 0},
		"lewd cat":    {0.8, 0, 0.6, 0},
		"pat pat":     {0, 1, 0, 0},
		"dance":       {0, 0, 0, 1},
	}}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("%w: model offline", ErrNoEmbedding)
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: unknown text %q", ErrNoEmbedding, text)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// fakeProviders returns a fixed candidate and counts calls.
type fakeProviders struct {
	mu     sync.Mutex
	result *domain.Candidate
	calls  int
}

func (f *fakeProviders) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.result == nil {
		return nil
	}
	c := *f.result
	return &c
}

// fakeMirror records mirrored topics.
type fakeMirror struct {
	mu     sync.Mutex
	topics map[uint]domain.Topic
}

func (f *fakeMirror) Upsert(ctx context.Context, topic *domain.Topic, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topics == nil {
		f.topics = make(map[uint]domain.Topic)
	}
	f.topics[topic.ID] = *topic
	return nil
}

type testEnv struct {
	db       *gorm.DB
	embedder *fakeEmbedder
	topics   *repository.TopicRepository
	media    *repository.MediaRepository
	queries  *repository.QueryLogRepository
	cache    *repository.ExternalCacheRepository
	matcher  *TopicMatcher
	ingest   *IngestService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newPooledTestDB(t, 1)
}

func newPooledTestDB(t *testing.T, maxOpenConns int) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "gifs.db"),
		MaxOpenConns: maxOpenConns,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, newTestDB(t))
}

func newTestEnvOn(t *testing.T, db *gorm.DB) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       db,
		embedder: newFakeEmbedder(),
		topics:   repository.NewTopicRepository(db),
		media:    repository.NewMediaRepository(db),
		queries:  repository.NewQueryLogRepository(db),
		cache:    repository.NewExternalCacheRepository(db),
	}
	env.matcher = NewTopicMatcher(env.topics, testThreshold)
	env.ingest = NewIngestService(db, env.embedder, env.matcher, env.media, env.queries, nil, nil, nil, logger.GetDefault(), &IngestConfig{Workers: 2, BatchSize: 2})
	return env
}

func (e *testEnv) searchService(providers ProviderSearcher, cfg SearchConfig) *SearchService {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = testThreshold
	}
	return NewSearchService(e.embedder, NewScanIndex(e.topics), e.media, e.cache, providers, e.ingest, nil, logger.GetDefault(), &cfg)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/source/manifest"
)

func TestIngest_IsIdempotentPerURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := &IngestRequest{Query: "funny cat", URL: "https://x/1.gif", Source: "test"}

	first, err := env.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.TopicCreated)
	assert.True(t, first.MediaCreated)

	second, err := env.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.TopicCreated)
	assert.False(t, second.MediaCreated)
	assert.Equal(t, first.TopicID, second.TopicID)

	count, err := env.media.CountByURL(ctx, "https://x/1.gif")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	logs, err := env.queries.ListByTopic(ctx, first.TopicID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestIngest_ExistingURLIsNotMovedOrUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "funny cat", URL: "https://x/1.gif", Source: "a"})
	require.NoError(t, err)
	_, err = env.ingest.Ingest(ctx, &IngestRequest{Query: "pat pat", URL: "https://x/1.gif", Source: "b"})
	require.NoError(t, err)

	media, err := env.media.GetByURL(ctx, "https://x/1.gif")
	require.NoError(t, err)
	assert.Equal(t, first.TopicID, media.TopicID)
	assert.Equal(t, "a", media.Source)
}

func TestIngest_SimilarQueriesShareTopic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "funny cat", URL: "https://x/1.gif", Source: "test"})
	require.NoError(t, err)
	b, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "funny kitty", URL: "https://x/2.gif", Source: "test"})
	require.NoError(t, err)
	c, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "pat pat", URL: "https://x/3.gif", Source: "test"})
	require.NoError(t, err)

	assert.Equal(t, a.TopicID, b.TopicID)
	assert.False(t, b.TopicCreated)
	assert.NotEqual(t, a.TopicID, c.TopicID)

	count, err := env.topics.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestIngest_NoEmbeddingWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.fail = true
	ctx := context.Background()

	res, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "funny cat", URL: "https://x/1.gif"})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrNoEmbedding))

	topics, err := env.topics.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, topics)
	count, err := env.media.CountByURL(ctx, "https://x/1.gif")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_RejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ingest.Ingest(context.Background(), &IngestRequest{Query: " ", URL: "https://x/1.gif"})
	assert.ErrorIs(t, err, ErrInvalidIngest)
	_, err = env.ingest.Ingest(context.Background(), &IngestRequest{Query: "funny cat"})
	assert.ErrorIs(t, err, ErrInvalidIngest)
	assert.Zero(t, env.embedder.calls)
}

func TestIngest_StoresMetadataAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ingest.Ingest(ctx, &IngestRequest{
		Query:    "dance",
		URL:      "https://x/dance.gif",
		Metadata: &domain.MediaMetadata{ContentType: "image/gif", Width: 320, Height: 200},
	})
	require.NoError(t, err)

	media, err := env.media.GetByURL(ctx, "https://x/dance.gif")
	require.NoError(t, err)
	assert.Equal(t, defaultIngestSource, media.Source)
	require.NotNil(t, media.ContentType)
	assert.Equal(t, "image/gif", *media.ContentType)
	require.NotNil(t, media.Width)
	assert.Equal(t, 320, *media.Width)
	assert.False(t, media.Dead)
	assert.NotZero(t, media.LastVerified)
}

func TestIngest_MirrorsTopic(t *testing.T) {
	env := newTestEnv(t)
	mirror := &fakeMirror{}
	env.ingest = NewIngestService(env.db, env.embedder, env.matcher, env.media, env.queries, mirror, nil, nil, logger.GetDefault(), nil)
	ctx := context.Background()

	res, err := env.ingest.Ingest(ctx, &IngestRequest{Query: "funny cat", URL: "https://x/1.gif"})
	require.NoError(t, err)
	_, err = env.ingest.Ingest(ctx, &IngestRequest{Query: "lewd cat", URL: "https://x/2.gif", NSFW: true})
	require.NoError(t, err)

	require.Contains(t, mirror.topics, res.TopicID)
	assert.Equal(t, "funny cat", mirror.topics[res.TopicID].Canonical)
	assert.True(t, mirror.topics[res.TopicID].NSFW)
}

func TestIngestFromSource_Manifest(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"query":"funny cat","url":"https://x/1.gif"}
{"query":"funny kitty","url":"https://x/2.gif","source":"curated"}
{"query":"funny cat","url":"https://x/1.gif"}
{"query":"unknown words","url":"https://x/4.gif"}
{"query":"pat pat","url":"https://x/5.gif"}
`), 0o644))

	stats, err := env.ingest.IngestFromSource(context.Background(), manifest.NewAdapter(path), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.TotalItems)
	assert.EqualValues(t, 5, stats.ProcessedItems)
	assert.EqualValues(t, 3, stats.CreatedItems)
	assert.EqualValues(t, 1, stats.SkippedItems)
	assert.EqualValues(t, 1, stats.FailedItems)

	media, err := env.media.GetByURL(context.Background(), "https://x/1.gif")
	require.NoError(t, err)
	assert.Equal(t, "manifest:seed", media.Source)
	media, err = env.media.GetByURL(context.Background(), "https://x/2.gif")
	require.NoError(t, err)
	assert.Equal(t, "curated", media.Source)
}

func TestIngestFromSource_RespectsLimit(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"query":"funny cat","url":"https://x/1.gif"}
{"query":"pat pat","url":"https://x/2.gif"}
{"query":"dance","url":"https://x/3.gif"}
`), 0o644))

	stats, err := env.ingest.IngestFromSource(context.Background(), manifest.NewAdapter(path), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalItems)
	count, err := env.media.CountByURL(context.Background(), "https://x/3.gif")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_PooledSQLiteWithConcurrentWriters(t *testing.T) {
	env := newTestEnvOn(t, newPooledTestDB(t, 8))
	ctx := context.Background()

	stop := make(chan struct{})
	var recordErrs atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				err := env.cache.Record(ctx, &domain.ExternalCacheEntry{
					Source:    "giphy",
					Query:     fmt.Sprintf("writer %d", w),
					URL:       fmt.Sprintf("https://g/%d/%d.gif", w, i),
					FetchedAt: int64(i),
				})
				if err != nil {
					recordErrs.Add(1)
				}
			}
		}()
	}

	queries := []string{"funny cat", "pat pat", "dance", "funny kitty"}
	var failed []error
	for i := 0; i < 120; i++ {
		_, err := env.ingest.Ingest(ctx, &IngestRequest{
			Query:  queries[i%len(queries)],
			URL:    fmt.Sprintf("https://x/%d.gif", i),
			Source: "test",
		})
		if err != nil {
			failed = append(failed, err)
		}
	}
	close(stop)
	wg.Wait()

	require.Empty(t, failed)
	assert.Zero(t, recordErrs.Load())

	var media int64
	require.NoError(t, env.db.Model(&domain.Media{}).Count(&media).Error)
	assert.EqualValues(t, 120, media)
}

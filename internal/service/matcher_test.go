package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/vector"
)

func seedTopic(t *testing.T, env *testEnv, canonical string, nsfw bool, embedding []byte) *domain.Topic {
	t.Helper()
	topic := &domain.Topic{Canonical: canonical, NSFW: nsfw, Embedding: embedding}
	require.NoError(t, env.topics.Create(context.Background(), topic))
	return topic
}

func TestMatchOrCreate_FirstMatchWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Similarity 0.6 with the query, created first.
	first := seedTopic(t, env, "first", false, vector.Encode([]float32{0.6, 0.8, 0, 0}))
	// Exact match, created second.
	seedTopic(t, env, "second", false, vector.Encode([]float32{1, 0, 0, 0}))

	topic, created, err := env.matcher.MatchOrCreate(ctx, env.db, "Funny Cat", []float32{1, 0, 0, 0}, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, topic.ID)
}

func TestMatchOrCreate_CreatesLowercasedTopic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	topic, created, err := env.matcher.MatchOrCreate(ctx, env.db, "  Pat PAT ", []float32{0, 2, 0, 0}, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "pat pat", topic.Canonical)
	assert.True(t, topic.NSFW)

	stored, err := env.topics.GetByID(ctx, topic.ID)
	require.NoError(t, err)
	vec, err := vector.Decode(stored.Embedding)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vector.Norm(vec), 1e-6)
}

func TestMatchOrCreate_NSFWIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := seedTopic(t, env, "cat", false, vector.Encode([]float32{1, 0, 0, 0}))

	topic, _, err := env.matcher.MatchOrCreate(ctx, env.db, "cat", []float32{1, 0, 0, 0}, true)
	require.NoError(t, err)
	assert.True(t, topic.NSFW)

	topic, _, err = env.matcher.MatchOrCreate(ctx, env.db, "cat", []float32{1, 0, 0, 0}, false)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, topic.ID)
	assert.True(t, topic.NSFW)

	stored, err := env.topics.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.True(t, stored.NSFW)
}

func TestMatchOrCreate_SkipsUnusableEmbeddings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedTopic(t, env, "corrupt", false, []byte{1, 2, 3})
	seedTopic(t, env, "short", false, vector.Encode([]float32{1, 0}))
	good := seedTopic(t, env, "good", false, vector.Encode([]float32{1, 0, 0, 0}))

	topic, created, err := env.matcher.MatchOrCreate(ctx, env.db, "cat", []float32{1, 0, 0, 0}, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, good.ID, topic.ID)
}

func TestMatchOrCreate_BelowThresholdCreates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	existing := seedTopic(t, env, "dance", false, vector.Encode([]float32{0, 0, 0, 1}))

	topic, created, err := env.matcher.MatchOrCreate(ctx, env.db, "funny cat", []float32{1, 0, 0, 0}, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, existing.ID, topic.ID)
}

func TestScanIndex_SortsFiltersAndLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedTopic(t, env, "a", false, vector.Encode([]float32{0.6, 0.8, 0, 0}))
	b := seedTopic(t, env, "b", false, vector.Encode([]float32{1, 0, 0, 0}))
	seedTopic(t, env, "nsfw", true, vector.Encode([]float32{1, 0, 0, 0}))
	c := seedTopic(t, env, "c", false, vector.Encode([]float32{0.6, 0.8, 0, 0}))
	seedTopic(t, env, "far", false, vector.Encode([]float32{0, 0, 1, 0}))

	index := NewScanIndex(env.topics)
	got, err := index.Similar(ctx, []float32{1, 0, 0, 0}, false, testThreshold, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint{b.ID, a.ID, c.ID}, []uint{got[0].ID, got[1].ID, got[2].ID})

	got, err = index.Similar(ctx, []float32{1, 0, 0, 0}, true, testThreshold, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 1.0, got[1].Score, 1e-6)
}

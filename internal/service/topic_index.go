package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/repository"
	"github.com/timmy/gifengine/internal/vector"
)

// TopicIndex finds topics similar to a query embedding for local lookup.
// Results are policy-filtered, at or above threshold, sorted by descending
// score with ties kept in storage order, and capped at limit.
type TopicIndex interface {
	Similar(ctx context.Context, embedding []float32, allowNSFW bool, threshold float32, limit int) ([]domain.ScoredTopic, error)
}

// TopicMirror receives topics after ingest so an external index stays current.
type TopicMirror interface {
	Upsert(ctx context.Context, topic *domain.Topic, embedding []float32) error
}

// ScanIndex scores every stored topic. It reads only and never creates.
type ScanIndex struct {
	topics *repository.TopicRepository
}

func NewScanIndex(topics *repository.TopicRepository) *ScanIndex {
	return &ScanIndex{topics: topics}
}

func (i *ScanIndex) Similar(ctx context.Context, embedding []float32, allowNSFW bool, threshold float32, limit int) ([]domain.ScoredTopic, error) {
	var scored []domain.ScoredTopic
	err := i.topics.Scan(ctx, func(t *domain.Topic) bool {
		if t.NSFW && !allowNSFW {
			return true
		}
		stored, err := vector.Decode(t.Embedding)
		if err != nil || len(stored) != len(embedding) {
			return true
		}
		if score := vector.Similarity(embedding, stored); score >= threshold {
			scored = append(scored, domain.ScoredTopic{ID: t.ID, NSFW: t.NSFW, Score: score})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan topics: %w", err)
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// QdrantIndex answers lookups from the Qdrant topic mirror. The mirror may
// lag an nsfw promotion, so every hit is re-checked against SQL. Qdrant
// failures fall back to a full scan.
type QdrantIndex struct {
	qdrant   *repository.QdrantRepository
	topics   *repository.TopicRepository
	fallback *ScanIndex
}

func NewQdrantIndex(qdrant *repository.QdrantRepository, topics *repository.TopicRepository) *QdrantIndex {
	return &QdrantIndex{qdrant: qdrant, topics: topics, fallback: NewScanIndex(topics)}
}

func (i *QdrantIndex) Similar(ctx context.Context, embedding []float32, allowNSFW bool, threshold float32, limit int) ([]domain.ScoredTopic, error) {
	hits, err := i.qdrant.SimilarTopics(ctx, embedding, allowNSFW, threshold, limit)
	if err != nil {
		logger.CtxWarn(ctx, "Qdrant topic search failed, scanning instead: error=%v", err)
		return i.fallback.Similar(ctx, embedding, allowNSFW, threshold, limit)
	}

	ids := make([]uint, len(hits))
	for n, h := range hits {
		ids[n] = h.ID
	}
	current, err := i.topics.NSFWByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to re-check topic flags: %w", err)
	}

	out := hits[:0]
	for _, h := range hits {
		nsfw, ok := current[h.ID]
		if !ok || (nsfw && !allowNSFW) {
			continue
		}
		h.NSFW = nsfw
		out = append(out, h)
	}
	return out, nil
}

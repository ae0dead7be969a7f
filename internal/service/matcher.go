package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/repository"
	"github.com/timmy/gifengine/internal/vector"
	"gorm.io/gorm"
)

// TopicMatcher assigns queries to topics.
//
// Assignment is first-match: topics are scanned in id order and the first one
// whose similarity reaches the threshold wins, even if a later topic scores
// higher. Which topic a borderline query joins therefore depends on creation
// order. Switching to best-match would move topic boundaries.
//
// Read-then-create is serialised by a writer lock held across the caller's
// whole transaction (see Serialize). The lock is per process: two processes
// sharing one database can still create duplicate topics for one concept,
// and nothing merges them afterwards.
type TopicMatcher struct {
	topics    *repository.TopicRepository
	threshold float32
	mu        sync.Mutex
}

// NewTopicMatcher creates a new topic matcher.
func NewTopicMatcher(topics *repository.TopicRepository, threshold float32) *TopicMatcher {
	return &TopicMatcher{topics: topics, threshold: threshold}
}

// Serialize runs fn while holding the writer lock. Callers wrap the
// transaction that calls MatchOrCreate so a topic created by one call is
// committed before the next call scans.
func (m *TopicMatcher) Serialize(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// MatchOrCreate returns the topic embedding belongs to inside tx, creating
// one with canonical = lowercase(query) when nothing matches. On a match the
// topic's nsfw flag is OR'd with nsfwHint. Stored embeddings that fail to
// decode or have a different dimension are skipped.
func (m *TopicMatcher) MatchOrCreate(ctx context.Context, tx *gorm.DB, query string, embedding []float32, nsfwHint bool) (*domain.Topic, bool, error) {
	topics := m.topics.WithTx(tx)

	var match *domain.Topic
	err := topics.Scan(ctx, func(t *domain.Topic) bool {
		stored, err := vector.Decode(t.Embedding)
		if err != nil || len(stored) != len(embedding) {
			logger.CtxDebug(ctx, "Skipping topic with unusable embedding: topic_id=%d, size=%d", t.ID, len(t.Embedding))
			return true
		}
		if vector.Similarity(embedding, stored) >= m.threshold {
			found := *t
			match = &found
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan topics: %w", err)
	}

	if match != nil {
		if nsfwHint && !match.NSFW {
			if err := topics.MarkNSFW(ctx, match.ID); err != nil {
				return nil, false, fmt.Errorf("failed to mark topic nsfw: %w", err)
			}
			match.NSFW = true
			logger.CtxInfo(ctx, "Topic promoted to nsfw: topic_id=%d", match.ID)
		}
		return match, false, nil
	}

	topic := &domain.Topic{
		Canonical: strings.ToLower(strings.TrimSpace(query)),
		NSFW:      nsfwHint,
		Embedding: vector.Encode(vector.Normalize(embedding)),
	}
	if err := topics.Create(ctx, topic); err != nil {
		return nil, false, fmt.Errorf("failed to create topic: %w", err)
	}
	logger.CtxInfo(ctx, "Topic created: topic_id=%d, canonical=%q", topic.ID, topic.Canonical)
	return topic, true, nil
}

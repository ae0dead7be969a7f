package service

import (
	"context"
	"fmt"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/repository"
)

// StatsService reports store sizes.
type StatsService struct {
	topicRepo *repository.TopicRepository
	mediaRepo *repository.MediaRepository
	cacheRepo *repository.ExternalCacheRepository
}

func NewStatsService(topicRepo *repository.TopicRepository, mediaRepo *repository.MediaRepository, cacheRepo *repository.ExternalCacheRepository) *StatsService {
	return &StatsService{topicRepo: topicRepo, mediaRepo: mediaRepo, cacheRepo: cacheRepo}
}

// GetStats returns topic, media and cache counts.
func (s *StatsService) GetStats(ctx context.Context) (*domain.Stats, error) {
	var (
		stats domain.Stats
		err   error
	)
	if stats.Topics, err = s.topicRepo.Count(ctx); err != nil {
		return nil, fmt.Errorf("failed to count topics: %w", err)
	}
	if stats.LiveMedia, err = s.mediaRepo.CountByDead(ctx, false); err != nil {
		return nil, fmt.Errorf("failed to count live media: %w", err)
	}
	if stats.DeadMedia, err = s.mediaRepo.CountByDead(ctx, true); err != nil {
		return nil, fmt.Errorf("failed to count dead media: %w", err)
	}
	if stats.CacheRows, err = s.cacheRepo.Count(ctx); err != nil {
		return nil, fmt.Errorf("failed to count cache rows: %w", err)
	}
	return &stats, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/timmy/gifengine/internal/domain"
	"gorm.io/gorm"
)

// ExternalCacheRepository stores provider results keyed by normalised query.
type ExternalCacheRepository struct {
	db *gorm.DB
}

// NewExternalCacheRepository creates a new ExternalCacheRepository.
func NewExternalCacheRepository(db *gorm.DB) *ExternalCacheRepository {
	return &ExternalCacheRepository{db: db}
}

// Record appends entry. Earlier rows for the same query are kept.
func (r *ExternalCacheRepository) Record(ctx context.Context, entry *domain.ExternalCacheEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Lookup picks one row at random among those for query fetched at or after
// notBefore (unix seconds). NSFW rows are excluded unless allowNSFW is set.
// Returns nil, nil when nothing qualifies.
func (r *ExternalCacheRepository) Lookup(ctx context.Context, query string, allowNSFW bool, notBefore int64) (*domain.ExternalCacheEntry, error) {
	q := r.db.WithContext(ctx).
		Where("query = ? AND fetched_at >= ?", query, notBefore)
	if !allowNSFW {
		q = q.Where("nsfw = ?", false)
	}

	var entry domain.ExternalCacheEntry
	err := q.Order("RANDOM()").Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Count returns the number of cache rows, expired ones included.
func (r *ExternalCacheRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ExternalCacheEntry{}).Count(&count).Error
	return count, err
}

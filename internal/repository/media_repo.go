package repository

import (
	"context"

	"github.com/timmy/gifengine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MediaRepository handles media rows.
type MediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *MediaRepository: repository instance bound to db.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *MediaRepository) WithTx(tx *gorm.DB) *MediaRepository {
	return &MediaRepository{db: tx}
}

// CreateIfAbsent inserts media unless a row with the same URL exists.
// An existing row is left untouched, whatever topic it belongs to.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - media: media record to persist.
// Returns:
//   - bool: true if a row was inserted.
//   - error: non-nil if the insert fails.
func (r *MediaRepository) CreateIfAbsent(ctx context.Context, media *domain.Media) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(media)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByURL retrieves a media row by URL.
func (r *MediaRepository) GetByURL(ctx context.Context, url string) (*domain.Media, error) {
	var media domain.Media
	if err := r.db.WithContext(ctx).First(&media, "url = ?", url).Error; err != nil {
		return nil, err
	}
	return &media, nil
}

// CountByURL counts rows for url; the unique index keeps this at 0 or 1.
func (r *MediaRepository) CountByURL(ctx context.Context, url string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Media{}).Where("url = ?", url).Count(&count).Error
	return count, err
}

// ListLiveByTopics returns non-dead media belonging to any of topicIDs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - topicIDs: owning topics.
// Returns:
//   - []domain.Media: live media rows.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListLiveByTopics(ctx context.Context, topicIDs []uint) ([]domain.Media, error) {
	if len(topicIDs) == 0 {
		return []domain.Media{}, nil
	}
	var media []domain.Media
	if err := r.db.WithContext(ctx).
		Where("topic_id IN ? AND dead = ?", topicIDs, false).
		Order("id").
		Find(&media).Error; err != nil {
		return nil, err
	}
	return media, nil
}

// ListStale returns live media last verified before cutoff (unix seconds),
// oldest first.
func (r *MediaRepository) ListStale(ctx context.Context, cutoff int64) ([]domain.Media, error) {
	var media []domain.Media
	if err := r.db.WithContext(ctx).
		Select("id", "url", "last_verified").
		Where("dead = ? AND last_verified < ?", false, cutoff).
		Order("last_verified ASC, id ASC").
		Find(&media).Error; err != nil {
		return nil, err
	}
	return media, nil
}

// UpdateLiveness records the outcome of a liveness check for one row.
func (r *MediaRepository) UpdateLiveness(ctx context.Context, id uint, dead bool, verifiedAt int64) error {
	return r.db.WithContext(ctx).Model(&domain.Media{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dead":          dead,
			"last_verified": verifiedAt,
		}).Error
}

// CountByDead counts media by liveness state.
func (r *MediaRepository) CountByDead(ctx context.Context, dead bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Media{}).Where("dead = ?", dead).Count(&count).Error
	return count, err
}

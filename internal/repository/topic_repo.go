package repository

import (
	"context"
	"errors"

	"github.com/timmy/gifengine/internal/domain"
	"gorm.io/gorm"
)

const topicScanBatch = 500

// errStopScan ends a FindInBatches walk early without reporting a failure.
var errStopScan = errors.New("stop scan")

// TopicRepository handles topic rows.
type TopicRepository struct {
	db *gorm.DB
}

// NewTopicRepository creates a new TopicRepository.
func NewTopicRepository(db *gorm.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *TopicRepository) WithTx(tx *gorm.DB) *TopicRepository {
	return &TopicRepository{db: tx}
}

// Create inserts a new topic and fills in its ID.
func (r *TopicRepository) Create(ctx context.Context, topic *domain.Topic) error {
	return r.db.WithContext(ctx).Create(topic).Error
}

// MarkNSFW sets the topic's nsfw flag. The flag is never cleared.
func (r *TopicRepository) MarkNSFW(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&domain.Topic{}).
		Where("id = ? AND nsfw = ?", id, false).
		Update("nsfw", true).Error
}

// GetByID retrieves a topic by ID.
func (r *TopicRepository) GetByID(ctx context.Context, id uint) (*domain.Topic, error) {
	var topic domain.Topic
	if err := r.db.WithContext(ctx).First(&topic, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &topic, nil
}

// Scan walks every topic in storage (id) order, batch by batch, calling fn for
// each one. Returning false from fn stops the walk.
func (r *TopicRepository) Scan(ctx context.Context, fn func(topic *domain.Topic) bool) error {
	var batch []domain.Topic
	err := r.db.WithContext(ctx).FindInBatches(&batch, topicScanBatch, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if !fn(&batch[i]) {
				return errStopScan
			}
		}
		return nil
	}).Error
	if errors.Is(err, errStopScan) {
		return nil
	}
	return err
}

// NSFWByIDs returns the current nsfw flag for each of ids that exists.
func (r *TopicRepository) NSFWByIDs(ctx context.Context, ids []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Topic
	if err := r.db.WithContext(ctx).Select("id", "nsfw").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, t := range rows {
		out[t.ID] = t.NSFW
	}
	return out, nil
}

// Count returns the number of topics.
func (r *TopicRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Topic{}).Count(&count).Error
	return count, err
}

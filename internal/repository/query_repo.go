package repository

import (
	"context"

	"github.com/timmy/gifengine/internal/domain"
	"gorm.io/gorm"
)

// QueryLogRepository appends audit rows. Nothing on the search path reads them.
type QueryLogRepository struct {
	db *gorm.DB
}

// NewQueryLogRepository creates a new QueryLogRepository.
func NewQueryLogRepository(db *gorm.DB) *QueryLogRepository {
	return &QueryLogRepository{db: db}
}

// Append records that query was assigned to topicID.
func (r *QueryLogRepository) Append(ctx context.Context, topicID uint, query string) error {
	return r.db.WithContext(ctx).Create(&domain.QueryLog{TopicID: topicID, Query: query}).Error
}

// ListByTopic returns the queries logged against a topic, oldest first.
func (r *QueryLogRepository) ListByTopic(ctx context.Context, topicID uint) ([]domain.QueryLog, error) {
	var rows []domain.QueryLog
	err := r.db.WithContext(ctx).Where("topic_id = ?", topicID).Order("id").Find(&rows).Error
	return rows, err
}

package domain

// Topic is a semantic cluster of queries believed to refer to the same media concept.
// Embedding holds the unit-normalised float32 vector, little-endian encoded.
type Topic struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Canonical string `gorm:"type:text;not null" json:"canonical"`
	NSFW      bool   `gorm:"not null;default:false" json:"nsfw"`
	Embedding []byte `json:"-"`
}

// TableName returns the database table name for Topic.
func (Topic) TableName() string {
	return "topics"
}

// ScoredTopic is a topic paired with its similarity to a query embedding.
type ScoredTopic struct {
	ID    uint
	NSFW  bool
	Score float32
}

// QueryLog is an append-only audit row linking a raw query to its topic.
type QueryLog struct {
	ID      uint   `gorm:"primaryKey"`
	TopicID uint   `gorm:"not null;index:idx_queries_topic"`
	Query   string `gorm:"type:text;not null"`
}

// TableName returns the database table name for QueryLog.
func (QueryLog) TableName() string {
	return "queries"
}

package domain

// ExternalCacheEntry records one provider result for a normalised query.
// Rows are never updated; expiry is applied when reading.
type ExternalCacheEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Source    string `gorm:"type:text;not null;index:idx_external_cache_source"`
	Query     string `gorm:"type:text;not null;index:idx_external_cache_query"`
	URL       string `gorm:"type:text;not null"`
	NSFW      bool   `gorm:"not null;default:false"`
	FetchedAt int64  `gorm:"not null"`
}

// TableName returns the database table name for ExternalCacheEntry.
func (ExternalCacheEntry) TableName() string {
	return "external_cache"
}

// Stats summarises the store for the admin API.
type Stats struct {
	Topics    int64 `json:"topics"`
	LiveMedia int64 `json:"live_media"`
	DeadMedia int64 `json:"dead_media"`
	CacheRows int64 `json:"cache_rows"`
}

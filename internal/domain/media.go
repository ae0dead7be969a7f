package domain

// Media is a stored link bound to a topic. URL is globally unique; only the
// liveness fields change after creation.
type Media struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	TopicID      uint    `gorm:"not null;index:idx_media_topic" json:"topic_id"`
	URL          string  `gorm:"type:text;not null;uniqueIndex:idx_media_url" json:"url"`
	Source       string  `gorm:"type:text" json:"source"`
	ContentType  *string `gorm:"type:text" json:"content_type,omitempty"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	LastVerified int64   `gorm:"not null;index:idx_media_last_verified" json:"last_verified"`
	Dead         bool    `gorm:"not null;default:false" json:"dead"`
}

// TableName returns the database table name for Media.
func (Media) TableName() string {
	return "media"
}

// MediaMetadata carries optional format details supplied at ingest time.
type MediaMetadata struct {
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Candidate is a result eligible to be returned from a search.
type Candidate struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	NSFW   bool   `json:"nsfw"`
}

// Allowed reports whether the candidate passes the content policy.
func (c *Candidate) Allowed(allowNSFW bool) bool {
	return c != nil && (allowNSFW || !c.NSFW)
}

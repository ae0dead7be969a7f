package source

import (
	"context"

	"github.com/timmy/gifengine/internal/domain"
)

// Item is one seed (query, url) pair from a data source.
type Item struct {
	Query    string
	URL      string
	Source   string // Provenance recorded on the media row; empty means the source ID
	NSFW     bool
	Metadata *domain.MediaMetadata
}

// Source defines the interface for seed data sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}

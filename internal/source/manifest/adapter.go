package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/source"
)

// maxLineBytes bounds a single manifest line.
const maxLineBytes = 1 << 20

// Entry is one line of a JSONL seed manifest.
type Entry struct {
	Query       string `json:"query"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	NSFW        bool   `json:"nsfw"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Adapter implements the Source interface for a JSONL manifest file.
type Adapter struct {
	path    string
	items   []source.Item
	skipped int
	loaded  bool
}

// NewAdapter creates a new manifest adapter.
// Parameters:
//   - path: path to the manifest file.
// Returns:
//   - *Adapter: initialized manifest adapter.
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// GetSourceID returns "manifest:" plus the manifest's base name.
func (a *Adapter) GetSourceID() string {
	return "manifest:" + strings.TrimSuffix(filepath.Base(a.path), filepath.Ext(a.path))
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Manifest (%s)", a.path)
}

// Skipped returns how many lines were dropped as malformed or incomplete.
func (a *Adapter) Skipped() int {
	return a.skipped
}

// FetchBatch returns items in file order. The cursor is the index of the
// next item.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.Item: batch of items.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load manifest: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor: %q", cursor)
		}
	}

	if startIndex >= len(a.items) {
		return []source.Item{}, "", nil
	}

	endIndex := startIndex + limit
	if limit <= 0 || endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return a.items[startIndex:endIndex], nextCursor, nil
}

// loadItems loads all items from the manifest file
func (a *Adapter) loadItems() error {
	file, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.Item{}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Debug("Skipping malformed manifest line: path=%s, line=%d, error=%v", a.path, lineNo, err)
			a.skipped++
			continue
		}
		if strings.TrimSpace(entry.Query) == "" || strings.TrimSpace(entry.URL) == "" {
			a.skipped++
			continue
		}

		item := source.Item{
			Query:  entry.Query,
			URL:    entry.URL,
			Source: entry.Source,
			NSFW:   entry.NSFW,
		}
		if entry.ContentType != "" || entry.Width > 0 || entry.Height > 0 {
			item.Metadata = &domain.MediaMetadata{
				ContentType: entry.ContentType,
				Width:       entry.Width,
				Height:      entry.Height,
			}
		}
		a.items = append(a.items, item)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}
	return nil
}

package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
)

// Searcher resolves a query to a single candidate.
type Searcher interface {
	Search(ctx context.Context, query string, allowNSFW bool) (*domain.Candidate, error)
}

// StatsProvider reports store sizes.
type StatsProvider interface {
	GetStats(ctx context.Context) (*domain.Stats, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searcher Searcher
	stats    StatsProvider
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searcher: search service instance.
//   - stats: stats service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searcher Searcher, stats StatsProvider) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		stats:    stats,
	}
}

// SearchRequest represents a search request body.
type SearchRequest struct {
	Query     string `json:"query" binding:"required"`
	AllowNSFW bool   `json:"allow_nsfw"`
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	h.search(c, req.Query, req.AllowNSFW)
}

// SearchGet handles GET /api/v1/search?q=...&allow_nsfw=....
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) SearchGet(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	allowNSFW := false
	if raw := c.Query("allow_nsfw"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Query parameter 'allow_nsfw' must be a boolean",
			})
			return
		}
		allowNSFW = v
	}
	h.search(c, query, allowNSFW)
}

func (h *SearchHandler) search(c *gin.Context, query string, allowNSFW bool) {
	ctx := c.Request.Context()
	result, err := h.searcher.Search(ctx, query, allowNSFW)
	if err != nil {
		logger.CtxWarn(ctx, "Search aborted: query=%q, error=%v", query, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Search aborted: " + err.Error(),
		})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no result",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats handles GET /api/v1/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) GetStats(c *gin.Context) {
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/gifengine/internal/service"
)

// Ingester records a (query, url) pair.
type Ingester interface {
	Ingest(ctx context.Context, req *service.IngestRequest) (*service.IngestResult, error)
}

// IngestHandler handles ingest endpoints.
type IngestHandler struct {
	ingester Ingester
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingester Ingester) *IngestHandler {
	return &IngestHandler{ingester: ingester}
}

// Ingest handles POST /api/v1/ingest. It answers 201 when a new media row
// was written and 200 when the URL was already known.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req service.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), &req)
	switch {
	case errors.Is(err, service.ErrInvalidIngest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrNoEmbedding):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingest failed: " + err.Error()})
		return
	}

	status := http.StatusOK
	if result.MediaCreated {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

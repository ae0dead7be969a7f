package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/service"
)

// LivenessScheduler runs liveness passes in the background.
type LivenessScheduler interface {
	Schedule() bool
	Running() bool
	LastPass() *service.VerifyStats
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	liveness LivenessScheduler
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - liveness: liveness verifier.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(liveness LivenessScheduler) *AdminHandler {
	return &AdminHandler{liveness: liveness}
}

// LivenessStatusResponse represents the liveness status API response.
type LivenessStatusResponse struct {
	Running  bool                 `json:"running"`
	LastPass *service.VerifyStats `json:"last_pass,omitempty"`
}

// TriggerLiveness handles POST /api/v1/admin/liveness. The pass runs in the
// background; a pass already in flight makes this a no-op.
func (h *AdminHandler) TriggerLiveness(c *gin.Context) {
	scheduled := h.liveness.Schedule()
	logger.CtxInfo(c.Request.Context(), "Liveness pass requested: scheduled=%v", scheduled)

	message := "Liveness pass started"
	if !scheduled {
		message = "Liveness pass already running"
	}
	c.JSON(http.StatusAccepted, gin.H{
		"scheduled": scheduled,
		"message":   message,
	})
}

// GetLivenessStatus handles GET /api/v1/admin/liveness.
func (h *AdminHandler) GetLivenessStatus(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessStatusResponse{
		Running:  h.liveness.Running(),
		LastPass: h.liveness.LastPass(),
	})
}

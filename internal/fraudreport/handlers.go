package fraudreport

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/logging"
)

// Reporter files a fraud report. The payment service implements it to
// also block open attempts to the destination.
type Reporter interface {
	Report(ctx context.Context, senderID, destination string) (bool, error)
}

// Handler provides HTTP endpoints for fraud reports
type Handler struct {
	registry *Registry
	reporter Reporter
}

// NewHandler creates a fraud report handler. A nil reporter reports
// straight to the registry.
func NewHandler(registry *Registry, reporter Reporter) *Handler {
	if reporter == nil {
		reporter = registry
	}
	return &Handler{registry: registry, reporter: reporter}
}

// RegisterRoutes sets up fraud report routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fraud-reports", h.Report)
	r.GET("/fraud-reports", h.List)
}

// ReportRequest is the body of POST /v1/fraud-reports
type ReportRequest struct {
	Destination string `json:"destination" binding:"required"`
}

// Report handles POST /v1/fraud-reports
func (h *Handler) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "destination is required",
		})
		return
	}

	added, err := h.reporter.Report(c.Request.Context(), auth.SenderID(c), req.Destination)
	if err != nil {
		if errors.Is(err, ErrEmptyDestination) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to record fraud report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record fraud report",
		})
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"reported": true, "newlyReported": added})
}

// List handles GET /v1/fraud-reports
func (h *Handler) List(c *gin.Context) {
	dests, err := h.registry.Reported(c.Request.Context(), auth.SenderID(c))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list fraud reports", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list fraud reports",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"destinations": dests, "count": len(dests)})
}

package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/pagination"
	"github.com/sentrapay/sentra/internal/validation"
)

// Handler serves risk analysis endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a risk handler
func NewHandler(c *Coordinator) *Handler {
	return &Handler{coordinator: c}
}

// RegisterRoutes sets up risk routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/analyze", h.Analyze)
	r.GET("/risk/assessments", h.ListAssessments)
}

// Analyze handles POST /v1/risk/analyze. It scores a payment without
// starting a payment attempt.
func (h *Handler) Analyze(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.SenderID = auth.SenderID(c)

	v, err := h.coordinator.Analyze(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("risk analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Risk analysis failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": v})
}

// ListAssessments handles GET /v1/risk/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid cursor",
		})
		return
	}

	verdicts, next, err := h.coordinator.History(c.Request.Context(), auth.SenderID(c), limit, cursor)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list risk assessments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assessments": verdicts,
		"count":       len(verdicts),
		"next_cursor": next,
		"has_more":    next != "",
	})
}

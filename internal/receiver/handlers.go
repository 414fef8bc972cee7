package receiver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/validation"
)

// Handler serves receiver lookups.
type Handler struct {
	verifier *Verifier
}

// NewHandler creates a receiver handler
func NewHandler(v *Verifier) *Handler {
	return &Handler{verifier: v}
}

// RegisterRoutes sets up receiver routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receivers/:destination", validation.DestinationParamMiddleware(), h.Resolve)
}

// Resolve handles GET /v1/receivers/:destination
func (h *Handler) Resolve(c *gin.Context) {
	info, err := h.verifier.Resolve(c.Request.Context(), c.Param("destination"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receiver": info})
}

package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/validation"
)

// Handler provides HTTP endpoints for payment attempts
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/intent", h.Start)
	r.GET("/payments/:id", h.Get)
	r.POST("/payments/:id/confirm", h.Confirm)
	r.POST("/payments/:id/cancel", h.Cancel)
}

// Start handles POST /v1/payments/intent
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	a, err := h.service.Start(c.Request.Context(), auth.SenderID(c), auth.DisplayName(c), req)
	if err != nil {
		h.fail(c, err, "Failed to start payment")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": a})
}

// Get handles GET /v1/payments/:id
func (h *Handler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), auth.SenderID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to load payment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": a})
}

// Confirm handles POST /v1/payments/:id/confirm
func (h *Handler) Confirm(c *gin.Context) {
	a, err := h.service.Confirm(c.Request.Context(), auth.SenderID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to confirm payment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": a})
}

// Cancel handles POST /v1/payments/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	a, err := h.service.Cancel(c.Request.Context(), auth.SenderID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to cancel payment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": a})
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
		})
	case errors.Is(err, ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment not found",
		})
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAttemptExpired):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": msg,
		})
	}
}

package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/logging"
)

// Handler provides HTTP endpoints for the sender's ledger
type Handler struct {
	book *Book
}

// NewHandler creates a new ledger handler
func NewHandler(book *Book) *Handler {
	return &Handler{book: book}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.List)
	r.POST("/transactions/sync", h.Sync)
}

// List handles GET /v1/transactions
func (h *Handler) List(c *gin.Context) {
	l, err := h.book.For(c.Request.Context(), auth.SenderID(c))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load ledger", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transactions",
		})
		return
	}

	txs := l.All()
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			txs = l.Recent(n)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"capacity":     l.Capacity(),
	})
}

// Sync handles POST /v1/transactions/sync
func (h *Handler) Sync(c *gin.Context) {
	ctx := c.Request.Context()
	senderID := auth.SenderID(c)

	res, err := h.book.Sync(ctx, senderID)
	if err != nil {
		if errors.Is(err, fraudapi.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "remote_unavailable",
				"message": "Transaction history is unavailable right now",
			})
			return
		}
		logging.L(ctx).Error("ledger sync failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to sync transactions",
		})
		return
	}

	l, err := h.book.For(ctx, senderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transactions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync": res, "transactions": l.All()})
}

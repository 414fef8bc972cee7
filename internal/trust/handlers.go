package trust

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/ledger"
	"github.com/sentrapay/sentra/internal/logging"
)

// Handler serves the sender's trust score.
type Handler struct {
	book *ledger.Book
}

// NewHandler creates a trust handler
func NewHandler(book *ledger.Book) *Handler {
	return &Handler{book: book}
}

// RegisterRoutes sets up trust routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trust-score", h.GetTrustScore)
}

// GetTrustScore handles GET /v1/trust-score
func (h *Handler) GetTrustScore(c *gin.Context) {
	l, err := h.book.For(c.Request.Context(), auth.SenderID(c))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load ledger for trust score", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute trust score",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust": Summarize(l.All())})
}

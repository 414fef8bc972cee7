package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sentrapay/sentra/internal/logging"
)

const (
	// ContextKeySenderID is the gin context key for the resolved sender
	ContextKeySenderID = "authSenderID"
	// ContextKeyAuthenticated is set when the sender came from a valid token
	ContextKeyAuthenticated = "authAuthenticated"
	// ContextKeyName is the display name from the token, if any
	ContextKeyName = "authName"
)

// Middleware resolves the sender for every request. A valid bearer token
// names the sender and becomes the outbound credential; anything else falls
// back to demoSender without a credential.
func Middleware(v *Verifier, demoSender string) gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := demoSender
		authenticated := false
		ctx := c.Request.Context()

		if token := bearerToken(c.GetHeader("Authorization")); token != "" {
			id, err := v.Verify(token)
			if err == nil {
				senderID = id.SenderID
				authenticated = true
				c.Set(ContextKeyName, id.Name)
				ctx = WithCredential(ctx, id.Token)
			} else {
				logging.L(ctx).Debug("bearer token rejected, using demo sender", "error", err)
			}
		}

		c.Set(ContextKeySenderID, senderID)
		c.Set(ContextKeyAuthenticated, authenticated)
		c.Request = c.Request.WithContext(logging.WithSenderID(ctx, senderID))
		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyAuthenticated) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A valid bearer token is required. Include 'Authorization: Bearer <token>'.",
			})
			return
		}
		c.Next()
	}
}

// SenderID returns the sender resolved by Middleware.
func SenderID(c *gin.Context) string {
	return c.GetString(ContextKeySenderID)
}

// DisplayName returns the token's name claim, if any.
func DisplayName(c *gin.Context) string {
	return c.GetString(ContextKeyName)
}

// SenderKey buckets rate limits by sender.
func SenderKey(c *gin.Context) string {
	if id := SenderID(c); id != "" {
		return "sender:" + id
	}
	return "ip:" + c.ClientIP()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

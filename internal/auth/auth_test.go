package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/logging"
)

const testSecret = "test-secret"

func TestVerifier_Verify(t *testing.T) {
	good, err := Issue(testSecret, "alice@okbank", "Alice", time.Hour)
	require.NoError(t, err)
	expired, err := Issue(testSecret, "alice@okbank", "Alice", -time.Hour)
	require.NoError(t, err)
	wrongKey, err := Issue("other", "alice@okbank", "Alice", time.Hour)
	require.NoError(t, err)
	noSubject, err := Issue(testSecret, "", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret  string
		token   string
		wantErr error
	}{
		{"valid", testSecret, good, nil},
		{"expired", testSecret, expired, ErrInvalidToken},
		{"wrong key", testSecret, wrongKey, ErrInvalidToken},
		{"garbage", testSecret, "not.a.jwt", ErrInvalidToken},
		{"no subject", testSecret, noSubject, ErrMissingSubject},
		{"unverified mode accepts any signer", "", wrongKey, nil},
		{"unverified mode still rejects expired", "", expired, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewVerifier(tt.secret).Verify(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@okbank", id.SenderID)
			assert.Equal(t, "Alice", id.Name)
			assert.Equal(t, tt.token, id.Token)
		})
	}
}

func TestCredentialContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CredentialFrom(ctx))
	assert.Equal(t, "tok", CredentialFrom(WithCredential(ctx, "tok")))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer "))
}

type seen struct {
	sender        string
	authenticated bool
	credential    string
	logSender     string
}

func runMiddleware(t *testing.T, header string) seen {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var got seen
	r := gin.New()
	r.Use(Middleware(NewVerifier(testSecret), "demo"))
	r.GET("/v1/trust-score", func(c *gin.Context) {
		got = seen{
			sender:        SenderID(c),
			authenticated: c.GetBool(ContextKeyAuthenticated),
			credential:    CredentialFrom(c.Request.Context()),
			logSender:     logging.SenderID(c.Request.Context()),
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/trust-score", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddleware_ValidToken(t *testing.T) {
	token, err := Issue(testSecret, "alice@okbank", "Alice", time.Hour)
	require.NoError(t, err)

	got := runMiddleware(t, "Bearer "+token)
	assert.Equal(t, seen{sender: "alice@okbank", authenticated: true, credential: token, logSender: "alice@okbank"}, got)
}

func TestMiddleware_FallsBackToDemoSender(t *testing.T) {
	for _, header := range []string{"", "Bearer nonsense"} {
		got := runMiddleware(t, header)
		assert.Equal(t, seen{sender: "demo", logSender: "demo"}, got, "header %q", header)
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewVerifier(testSecret), "demo"), RequireAuth())
	r.GET("/v1/transactions/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSenderKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.7:4321"
	assert.Equal(t, "ip:203.0.113.7", SenderKey(c))

	c.Set(ContextKeySenderID, "alice@okbank")
	assert.Equal(t, "sender:alice@okbank", SenderKey(c))
}

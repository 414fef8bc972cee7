package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/config"
	"github.com/sentrapay/sentra/internal/fraudapi"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		LogFormat:           "text",
		FraudAPIURL:         "http://127.0.0.1:1",
		FraudAPITimeout:     time.Second,
		ReceiverTimeout:     time.Second,
		BreakerThreshold:    5,
		BreakerOpenDuration: time.Minute,
		JWTSecret:           testSecret,
		DemoSenderID:        "demo",
		LedgerCapacity:      50,
		AttemptTTL:          time.Minute,
		RiskWeightBehavior:  0.35,
		RiskWeightAmount:    0.25,
		RiskWeightReceiver:  0.40,
		RiskAmountFloor:     1000,
		RateLimitPerMinute:  100,
	}
}

// newTestServer creates an in-memory server
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func serve(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// fakePlatform serves the fraud-scoring endpoints the server calls.
type fakePlatform struct {
	confirms atomic.Int32
}

func (p *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/payment/intent":
		_, _ = w.Write([]byte(`{
			"transaction_id": "TXN-20240101-AAAA0001",
			"risk_score": 0.12,
			"risk_level": "LOW",
			"action": "ALLOW",
			"risk_factors": [],
			"risk_breakdown": {"behavior_analysis": {"score": 10}, "amount_analysis": {"score": 5}, "receiver_analysis": {"score": 20}}
		}`))
	case strings.HasPrefix(r.URL.Path, "/receiver/validate/"):
		_, _ = w.Write([]byte(`{"status":"success","vpa":"shop@bank","name":"Corner Shop","bank":"Bank","verified":true,"reputation_score":0.9}`))
	case r.URL.Path == "/payment/confirm":
		p.confirms.Add(1)
		_, _ = w.Write([]byte(`{"transaction_id":"TXN-20240101-AAAA0001","status":"COMPLETED"}`))
	case strings.HasPrefix(r.URL.Path, "/user/"):
		_, _ = w.Write([]byte(`[{"transaction_id":"TXN-OLD","receiver":"friend@bank","amount":20,"status":"COMPLETED","risk_score":0.1,"risk_level":"LOW","timestamp":"2024-01-01T10:00:00"}]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health/live", "", "").Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)
	// Server hasn't called Run() so ready is false
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/health/ready", "", "").Code)
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/v1/ws",
		"POST:/v1/risk/analyze",
		"GET:/v1/risk/assessments",
		"POST:/v1/payments/intent",
		"GET:/v1/payments/:id",
		"POST:/v1/payments/:id/confirm",
		"POST:/v1/payments/:id/cancel",
		"GET:/v1/transactions",
		"POST:/v1/transactions/sync",
		"GET:/v1/trust-score",
		"GET:/v1/receivers/:destination",
		"POST:/v1/fraud-reports",
		"GET:/v1/fraud-reports",
	} {
		assert.True(t, routeSet[e], "route %s not registered", e)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/v1/nonexistent", "", "").Code)
}

// ---------------------------------------------------------------------------
// End-to-end flows
// ---------------------------------------------------------------------------

// Without a token the demo sender is used and only local scoring runs.
func TestDemoSenderFallsBackToLocal(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodPost, "/v1/payments/intent", `{"destination":"scammer@fake","amount":10000}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode(t, w)["payment"].(map[string]any)
	assert.Equal(t, "demo", p["senderId"])
	assert.Equal(t, "warned", p["state"])
	v := p["verdict"].(map[string]any)
	assert.Equal(t, "local", v["provenance"])
	assert.Equal(t, "MEDIUM", v["result"].(map[string]any)["category"])
}

func TestReportThenPayIsBlocked(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodPost, "/v1/fraud-reports", `{"destination":"scammer@fake"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(s, http.MethodPost, "/v1/payments/intent", `{"destination":"scammer@fake","amount":1}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode(t, w)["payment"].(map[string]any)
	assert.Equal(t, "blocked", p["state"])

	w = serve(s, http.MethodGet, "/v1/trust-score", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	trust := decode(t, w)["trust"].(map[string]any)
	assert.Equal(t, 0.0, trust["score"])
	assert.Equal(t, "Bronze", trust["tier"])
}

func TestAuthenticatedRemoteFlow(t *testing.T) {
	platform := &fakePlatform{}
	srv := httptest.NewServer(platform)
	defer srv.Close()

	s := newTestServer(t, WithFraudAPI(fraudapi.New(fraudapi.Config{BaseURL: srv.URL})))
	token, err := auth.Issue(testSecret, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	w := serve(s, http.MethodPost, "/v1/payments/intent", `{"destination":"shop@bank","amount":"42.00"}`, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode(t, w)["payment"].(map[string]any)
	assert.Equal(t, "alice", p["senderId"])
	assert.Equal(t, "allowed", p["state"])
	assert.Equal(t, "remote", p["verdict"].(map[string]any)["provenance"])
	assert.Equal(t, "Corner Shop", p["receiver"].(map[string]any)["name"])

	w = serve(s, http.MethodPost, "/v1/payments/"+p["id"].(string)+"/confirm", "", token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), platform.confirms.Load())

	w = serve(s, http.MethodPost, "/v1/transactions/sync", "", token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(s, http.MethodGet, "/v1/transactions", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, 2.0, resp["count"])
	txs := resp["transactions"].([]any)
	assert.Equal(t, "TXN-20240101-AAAA0001", txs[0].(map[string]any)["id"])

	// The demo sender sees none of alice's history.
	w = serve(s, http.MethodGet, "/v1/transactions", "", "")
	assert.Equal(t, 0.0, decode(t, w)["count"])
}

func TestPaymentsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.rateLimiter.Stop()

	body := `{"destination":"shop@bank","amount":5}`
	for range 2 {
		require.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/v1/risk/analyze", body, "").Code)
	}
	w := serve(s, http.MethodPost, "/v1/risk/analyze", body, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/trust-score", "", "").Code)
}

package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/auth"
)

func setupRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(auth.Middleware(auth.NewVerifier(""), "alice"))
	NewHandler(svc).RegisterRoutes(e.Group("/v1"))
	return e
}

func do(e *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(w, req)
	return w
}

func decodePayment(t *testing.T, w *httptest.ResponseRecorder) *Attempt {
	t.Helper()
	var body struct {
		Payment *Attempt `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Payment)
	return body.Payment
}

func TestHandler_Lifecycle(t *testing.T) {
	f := newFixture(t, trusted)
	e := setupRouter(f.svc)

	w := do(e, http.MethodPost, "/v1/payments/intent", `{"destination":"shop@bank","amount":"125.50","note":"lunch"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a := decodePayment(t, w)
	assert.Equal(t, StateAllowed, a.State)
	assert.Equal(t, "125.5", a.Amount.String())

	w = do(e, http.MethodGet, "/v1/payments/"+a.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodPost, "/v1/payments/"+a.ID+"/confirm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StateConfirmed, decodePayment(t, w).State)

	w = do(e, http.MethodPost, "/v1/payments/"+a.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"invalid_state"`)
}

func TestHandler_Errors(t *testing.T) {
	e := setupRouter(newFixture(t, trusted).svc)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		errKey string
	}{
		{"malformed body", http.MethodPost, "/v1/payments/intent", `{`, http.StatusBadRequest, "invalid_request"},
		{"zero amount", http.MethodPost, "/v1/payments/intent", `{"destination":"shop@bank","amount":0}`, http.StatusBadRequest, "validation_error"},
		{"missing destination", http.MethodPost, "/v1/payments/intent", `{"amount":5}`, http.StatusBadRequest, "validation_error"},
		{"unknown attempt", http.MethodGet, "/v1/payments/pay_nope", "", http.StatusNotFound, "not_found"},
		{"confirm unknown", http.MethodPost, "/v1/payments/pay_nope/confirm", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), `"`+tt.errKey+`"`)
		})
	}
}

package fraudreport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrapay/sentra/internal/auth"
)

func setupRouter(r *Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(auth.Middleware(auth.NewVerifier(""), "demo"))
	NewHandler(r, nil).RegisterRoutes(e.Group("/v1"))
	return e
}

func post(e *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fraud-reports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(w, req)
	return w
}

func TestHandler_Report(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), nil)
	e := setupRouter(reg)

	w := post(e, `{"destination":"scammer@fake"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"newlyReported":true`)

	w = post(e, `{"destination":"SCAMMER@fake"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"newlyReported":false`)

	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/fraud-reports", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"destinations":["scammer@fake"]`)
}

func TestHandler_ReportValidation(t *testing.T) {
	e := setupRouter(NewRegistry(NewMemoryStore(), nil))

	assert.Equal(t, http.StatusBadRequest, post(e, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(e, `{"destination":"   "}`).Code)
}

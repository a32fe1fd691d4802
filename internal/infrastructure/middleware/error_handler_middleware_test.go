package middleware

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"freightdash/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newErrorRouter(t *testing.T, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()
	router := gin.New()
	router.Use(RecoveryMiddleware(logger), TracingMiddleware(), ErrorHandlerMiddleware(logger))
	router.GET("/x", handler)
	return router
}

func TestErrorHandlerMiddleware_AppError(t *testing.T) {
	router := newErrorRouter(t, func(c *gin.Context) {
		_ = c.Error(errors.NewServiceUnavailableError("Login failed"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["error"])
	assert.Equal(t, "Login failed", body["message"])
	assert.NotContains(t, body, "details")
}

func TestErrorHandlerMiddleware_UpstreamStatusMapsToBadGateway(t *testing.T) {
	router := newErrorRouter(t, func(c *gin.Context) {
		_ = c.Error(errors.NewTransportError("Load Orders failed", http.StatusInternalServerError, nil))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestErrorHandlerMiddleware_PlainError(t *testing.T) {
	router := newErrorRouter(t, func(c *gin.Context) {
		_ = c.Error(stderrors.New("boom"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryMiddleware_Panic(t *testing.T) {
	router := newErrorRouter(t, func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTracingMiddleware_RequestID(t *testing.T) {
	router := newErrorRouter(t, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

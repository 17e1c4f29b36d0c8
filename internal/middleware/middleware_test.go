package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/slotter-org/alexus-backend/internal/errordata"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/requestdata"
)

func newEngine(log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachRequestContext(), RequestLogger(log))
	return r
}

func TestAttachRequestContext(t *testing.T) {
	r := newEngine(logger.NewNop())
	var seen *requestdata.RequestData
	r.GET("/who", func(c *gin.Context) {
		seen = requestdata.GetRequestData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/who?userId=query-user", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.NotNil(t, seen)
	assert.Equal(t, "query-user", seen.UserID)
	assert.NotEmpty(t, seen.RequestID)
	assert.Equal(t, seen.RequestID, w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/who?userId=query-user", nil)
	req.Header.Set(HeaderUserID, "header-user")
	req.Header.Set(HeaderRequestID, "abc")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "header-user", seen.UserID)
	assert.Equal(t, "abc", seen.RequestID)
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(logger.FromZap(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) {
		errordata.Record(c.Request.Context(), errors.New("title is required"))
		c.Status(http.StatusBadRequest)
	})
	r.GET("/boom", func(c *gin.Context) {
		errordata.Record(c.Request.Context(), errors.New("pq: connection refused"))
		c.Status(http.StatusInternalServerError)
	})

	for _, p := range []string{"/ok", "/bad", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "title is required", entries[1].ContextMap()["error"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.EqualValues(t, 500, entries[2].ContextMap()["status"])
}

package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bankline-io/bankline-worker/internal/logger"
)

func TestLoggerMiddleware_RequestLoggerInContext(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lg := logger.FromContext(r.Context())
		lg.Info().Msg("inside handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	// The handler's log line carries the request fields from the middleware.
	assert.Contains(t, out, "inside handler")
	assert.Contains(t, out, `"path":"/whatever"`)
	// The access log line is still written after the handler returns.
	assert.Contains(t, out, "HTTP request")
	assert.Contains(t, out, `"status":204`)
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	h := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Panic recovered")
}

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pixelvault/pixelvault-api/internal/api/middleware"
)

func newWorkerChain() http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return middleware.NewWorkerAuthMiddleware("wk_0123456789abcdef").Authenticate(next)
}

func TestWorkerAuthenticate(t *testing.T) {
	handler := newWorkerChain()

	req := httptest.NewRequest(http.MethodPost, "/api/worker/events", nil)
	req.Header.Set("Authorization", "Bearer wk_0123456789abcdef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWorkerAuthenticate_WrongToken(t *testing.T) {
	handler := newWorkerChain()

	req := httptest.NewRequest(http.MethodPost, "/api/worker/events", nil)
	req.Header.Set("Authorization", "Bearer wk_wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkerAuthenticate_MissingHeader(t *testing.T) {
	handler := newWorkerChain()

	req := httptest.NewRequest(http.MethodPost, "/api/worker/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkerAuthenticate_MalformedHeader(t *testing.T) {
	handler := newWorkerChain()

	req := httptest.NewRequest(http.MethodPost, "/api/worker/events", nil)
	req.Header.Set("Authorization", "wk_0123456789abcdef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/pixelvault-api/internal/api"
	"github.com/pixelvault/pixelvault-api/internal/api/shared"
	"github.com/pixelvault/pixelvault-api/internal/queue"
	"github.com/pixelvault/pixelvault-api/internal/store/memstore"
)

type fakeSubscriber struct {
	called  bool
	queueID uuid.UUID
}

func (s *fakeSubscriber) Subscribe(w http.ResponseWriter, r *http.Request, queueID uuid.UUID) error {
	s.called = true
	s.queueID = queueID
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func newQueueRouter(t *testing.T, cfg queue.Config) (*chi.Mux, *queue.Coordinator, *fakeSubscriber) {
	t.Helper()

	coordinator, err := queue.NewCoordinator(memstore.New(), cfg, nil)
	require.NoError(t, err)

	subscriber := &fakeSubscriber{}
	handler := api.NewQueueHandler(coordinator, subscriber, nil, nil)

	r := chi.NewRouter()
	r.Post("/api/queue", handler.Submit)
	r.Get("/api/queue/{id}", handler.GetStatus)
	r.Get("/api/queue/{id}/ws", handler.Subscribe)
	return r, coordinator, subscriber
}

// asUser injects the authenticated user the way the auth middleware does.
func asUser(r *http.Request, userID uuid.UUID) *http.Request {
	ctx := context.WithValue(r.Context(), shared.UserIDContextKey, userID)
	return r.WithContext(ctx)
}

func TestSubmit(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/queue", nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.QueueEntryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, resp.Position)
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.CorrelationToken)
	assert.Positive(t, resp.EstimatedWaitSeconds)
}

func TestSubmit_WithCorrelationToken(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	body := strings.NewReader(`{"correlation_token":"client-chosen-token"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/queue", body), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.QueueEntryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "client-chosen-token", resp.CorrelationToken)
}

func TestSubmit_Unauthenticated(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/queue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit_CapacityExceeded(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.Config{MaxQueuedPerUser: 1})
	userID := uuid.New()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/queue", nil), userID))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/queue", nil), userID))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp shared.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Error)
}

func TestSubmit_InvalidBody(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	body := strings.NewReader(`{"correlation_token": 42}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/queue", body), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatus(t *testing.T) {
	router, coordinator, _ := newQueueRouter(t, queue.DefaultConfig())
	userID := uuid.New()

	entry, err := coordinator.Submit(context.Background(), userID, "")
	require.NoError(t, err)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/"+entry.ID.String(), nil), userID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.QueueEntryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, entry.ID.String(), resp.ID)
	assert.Equal(t, "queued", resp.Status)
}

func TestGetStatus_OtherUsersEntryHidden(t *testing.T) {
	router, coordinator, _ := newQueueRouter(t, queue.DefaultConfig())

	entry, err := coordinator.Submit(context.Background(), uuid.New(), "")
	require.NoError(t, err)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/"+entry.ID.String(), nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatus_NotFound(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/"+uuid.NewString(), nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatus_InvalidID(t *testing.T) {
	router, _, _ := newQueueRouter(t, queue.DefaultConfig())

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/not-a-uuid", nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe(t *testing.T) {
	router, coordinator, subscriber := newQueueRouter(t, queue.DefaultConfig())
	userID := uuid.New()

	entry, err := coordinator.Submit(context.Background(), userID, "")
	require.NoError(t, err)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/"+entry.ID.String()+"/ws", nil), userID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.True(t, subscriber.called)
	assert.Equal(t, entry.ID, subscriber.queueID)
}

func TestSubscribe_OtherUsersEntryHidden(t *testing.T) {
	router, coordinator, subscriber := newQueueRouter(t, queue.DefaultConfig())

	entry, err := coordinator.Submit(context.Background(), uuid.New(), "")
	require.NoError(t, err)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/queue/"+entry.ID.String()+"/ws", nil), uuid.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, subscriber.called)
}

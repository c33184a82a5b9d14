package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PratikDhanave/user-report-service/internal/config"
	"github.com/PratikDhanave/user-report-service/internal/models"
	"github.com/PratikDhanave/user-report-service/internal/store"
	"github.com/PratikDhanave/user-report-service/internal/tasks"
	"github.com/PratikDhanave/user-report-service/internal/userreports"
)

const (
	project1Key = "key-project-1"
	project2Key = "key-project-2"
)

type testServer struct {
	router *gin.Engine
	store  store.Store
	broker *tasks.MemoryBroker
	worker *tasks.Worker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reconciler := userreports.NewReconciler(st, st, logger)
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register(userreports.UpdateUserReportTask(reconciler, st)))
	broker := tasks.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	svc := userreports.NewService(st, reconciler, tasks.NewClient(registry, broker), logger)
	cfg := config.Config{APIKeys: map[string]int64{project1Key: 1, project2Key: 2}}

	return &testServer{
		router: NewRouter(cfg, st, svc, logger),
		store:  st,
		broker: broker,
		worker: tasks.NewWorker(registry, broker, logger),
	}
}

func (s *testServer) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func postEvent(t *testing.T, s *testServer, apiKey, eventID, message string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/events", apiKey, map[string]any{
		"event_id":  eventID,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func reportBody(eventID string) map[string]any {
	return map[string]any{
		"event_id": eventID,
		"name":     "Jane",
		"email":    "jane@example.com",
		"comments": "it broke",
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestEvents_Unauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := postEvent(t, s, "", models.NewEventID(), "boom")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_BadRequest(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]map[string]any{
		"missing message":   {"timestamp": time.Now().UTC().Format(time.RFC3339)},
		"missing timestamp": {"message": "boom"},
		"bad timestamp":     {"message": "boom", "timestamp": "yesterday"},
		"bad event id":      {"message": "boom", "timestamp": time.Now().UTC().Format(time.RFC3339), "event_id": "nope"},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/events", project1Key, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEvents_DuplicateIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	eventID := models.NewEventID()

	first := postEvent(t, s, project1Key, eventID, "boom")
	require.Equal(t, http.StatusCreated, first.Code)
	second := postEvent(t, s, project1Key, eventID, "boom")
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[models.EventIngestResponse](t, first)
	b := decode[models.EventIngestResponse](t, second)
	assert.False(t, a.Duplicate)
	assert.True(t, b.Duplicate)
	assert.Equal(t, a.GroupID, b.GroupID)
	assert.Equal(t, eventID, a.EventID)
}

func TestUserReports_ReconciledWhenEventExists(t *testing.T) {
	s := newTestServer(t)
	eventID := models.NewEventID()
	ev := decode[models.EventIngestResponse](t, postEvent(t, s, project1Key, eventID, "boom"))

	rec := s.do(t, http.MethodPost, "/user-reports", project1Key, reportBody(eventID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	report := decode[models.UserReport](t, rec)
	require.NotNil(t, report.GroupID)
	assert.Equal(t, ev.GroupID, *report.GroupID)
	assert.Equal(t, ev.EnvironmentID, *report.EnvironmentID)
	assert.Zero(t, s.broker.Len(userreports.UpdateUserReportQueue))
}

func TestUserReports_ReconciledByTaskOnceEventArrives(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	eventID := models.NewEventID()

	rec := s.do(t, http.MethodPost, "/user-reports", project1Key, reportBody(eventID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := decode[models.UserReport](t, rec)
	assert.Nil(t, report.GroupID)
	require.Equal(t, 1, s.broker.Len(userreports.UpdateUserReportQueue))

	msg, err := s.broker.Consume(ctx, userreports.UpdateUserReportQueue)
	require.NoError(t, err)
	res := s.worker.Process(ctx, msg)
	require.Equal(t, tasks.StateRetry, res.State)

	ev := decode[models.EventIngestResponse](t, postEvent(t, s, project1Key, eventID, "boom"))
	res = s.worker.Process(ctx, *res.Next)
	require.Equal(t, tasks.StateSuccess, res.State, "err: %v", res.Err)

	got := s.do(t, http.MethodGet, "/user-reports/"+strconv.FormatInt(report.ID, 10), project1Key, nil)
	require.Equal(t, http.StatusOK, got.Code)
	stored := decode[models.UserReport](t, got)
	require.NotNil(t, stored.GroupID)
	assert.Equal(t, ev.GroupID, *stored.GroupID)
	assert.Equal(t, ev.EnvironmentID, *stored.EnvironmentID)
}

func TestUserReports_Validation(t *testing.T) {
	s := newTestServer(t)

	body := reportBody("not-an-id")
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/user-reports", project1Key, body).Code)

	body = reportBody(models.NewEventID())
	body["email"] = "nobody"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/user-reports", project1Key, body).Code)

	body = reportBody(models.NewEventID())
	delete(body, "comments")
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/user-reports", project1Key, body).Code)
}

func TestUserReports_ProjectIsolation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/user-reports", project1Key, reportBody(models.NewEventID()))
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/user-reports/" + strconv.FormatInt(decode[models.UserReport](t, rec).ID, 10)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, project1Key, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, project2Key, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/user-reports/999", project1Key, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/user-reports/abc", project1Key, nil).Code)
}

func TestUserReports_ResubmitWithinEditWindow(t *testing.T) {
	s := newTestServer(t)
	body := reportBody(models.NewEventID())

	first := s.do(t, http.MethodPost, "/user-reports", project1Key, body)
	require.Equal(t, http.StatusCreated, first.Code)

	body["comments"] = "it broke again"
	second := s.do(t, http.MethodPost, "/user-reports", project1Key, body)
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[models.UserReport](t, first)
	b := decode[models.UserReport](t, second)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "it broke again", b.Comments)
}

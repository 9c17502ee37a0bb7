package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/grocery-tracker/internal/jobs"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/orchestrator"
	"github.com/maltedev/grocery-tracker/internal/queue"
	"github.com/maltedev/grocery-tracker/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	queue   *queue.InMemoryQueue
	jobs    *jobs.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithResults(t, nil)
}

func newTestServerWithResults(t *testing.T, results ResultSource) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := queue.NewInMemoryQueue()
	orch := orchestrator.New(nil, orchestrator.Options{}, logger)
	manager := jobs.NewManager(q, orch, logger)
	handlers := NewHandlers(manager, orch, results, logger)

	return &testServer{
		handler: NewRouter(handlers, RouterOptions{}),
		queue:   q,
		jobs:    manager,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreateRun(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "costco", body: `{"vendor":"costco"}`, wantStatus: http.StatusCreated},
		{name: "case insensitive", body: `{"vendor":"Safeway"}`, wantStatus: http.StatusCreated},
		{name: "missing vendor", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "vendor is required"},
		{name: "unknown vendor", body: `{"vendor":"aldi"}`, wantStatus: http.StatusBadRequest, wantError: "unknown vendor"},
		{name: "invalid json", body: `{"vendor":`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.wantError != "" {
				resp := decode[map[string]string](t, rec)
				assert.Contains(t, resp["error"], tt.wantError)
				assert.Zero(t, s.queue.Size())
				return
			}

			resp := decode[CreateJobResponse](t, rec)
			assert.NotEmpty(t, resp.JobID)
			assert.Equal(t, jobs.StatusPending, resp.Status)
			assert.Equal(t, 1, s.queue.Size())
		})
	}
}

func TestCreateRunQueueClosed(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.queue.Close())

	rec := s.do(t, http.MethodPost, "/api/v1/runs", `{"vendor":"costco"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateDiagnostics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/diagnostics", `{"quiet":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[CreateJobResponse](t, rec)

	job, err := s.jobs.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskDiagnose, job.Kind)
	assert.True(t, job.Quiet)

	rec = s.do(t, http.MethodPost, "/api/v1/diagnostics", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/diagnostics", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.CreateExtractionJob("costco")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[jobs.Job](t, rec)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "costco", got.Vendor)
	assert.Equal(t, jobs.StatusPending, got.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsAndStats(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]jobs.Job](t, rec))

	_, err := s.jobs.CreateExtractionJob("costco")
	require.NoError(t, err)
	_, err = s.jobs.CreateDiagnosticJob(false)
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs", "")
	assert.Len(t, decode[[]jobs.Job](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[jobs.Stats](t, rec)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 2, stats.PendingJobs)
}

func TestListVendors(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/vendors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string][]string{"vendors": {"costco", "safeway"}}, decode[map[string][]string](t, rec))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	_, err := s.jobs.CreateExtractionJob("safeway")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string         `json:"status"`
		Jobs   map[string]int `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Jobs["pending"])
}

func TestResultEndpoints(t *testing.T) {
	store, err := storage.NewSnapshotStore(filepath.Join(t.TempDir(), "latest.json"))
	require.NoError(t, err)
	s := newTestServerWithResults(t, store)

	rec := s.do(t, http.MethodGet, "/api/v1/diagnostics/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.ProductRecord](t, rec))

	ctx := context.Background()
	price := 9.49
	costco := models.NewProductRecord("costco", "https://costco.test/1", models.DeliveryLocation{Zipcode: "94041"}, true)
	costco.Name = "Strawberries"
	costco.Price = &price
	safeway := models.NewProductRecord("safeway", "https://safeway.test/1", models.DeliveryLocation{Zipcode: "94087"}, true)
	safeway.Name = "Blueberries"
	require.NoError(t, store.EmitProduct(ctx, costco))
	require.NoError(t, store.EmitProduct(ctx, safeway))

	score := 12
	require.NoError(t, store.EmitDiagnostic(ctx, &models.DiagnosticReport{
		Fingerprint: &models.FingerprintScore{Value: &score},
		RanAt:       time.Now(),
	}))

	rec = s.do(t, http.MethodGet, "/api/v1/products?vendor=costco", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]models.ProductRecord](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "Strawberries", records[0].Name)

	rec = s.do(t, http.MethodGet, "/api/v1/products?url=https://safeway.test/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Blueberries", decode[models.ProductRecord](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/v1/products?url=https://safeway.test/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/products/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[storage.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Priced)
	assert.Equal(t, map[string]int{"costco": 1, "safeway": 1}, stats.Vendors)

	rec = s.do(t, http.MethodGet, "/api/v1/diagnostics/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.DiagnosticReport](t, rec)
	require.NotNil(t, report.Fingerprint)
	assert.Equal(t, 12, *report.Fingerprint.Value)
}

func TestResultEndpointsWithoutStore(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/products", "/api/v1/products/stats", "/api/v1/diagnostics/latest"} {
		rec := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

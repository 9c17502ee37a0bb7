package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/jobs"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/retailer"
	"github.com/maltedev/grocery-tracker/internal/storage"
)

// JobService is the part of jobs.Manager the handlers use.
type JobService interface {
	CreateExtractionJob(vendor string) (*jobs.Job, error)
	CreateDiagnosticJob(quiet bool) (*jobs.Job, error)
	GetJob(jobID string) (*jobs.Job, error)
	ListJobs() []*jobs.Job
	GetStats() *jobs.Stats
}

// VendorSource reports which vendors a run can be queued for.
type VendorSource interface {
	Vendors() []string
	ValidateVendor(vendor string) error
}

// ResultSource serves the latest stored results. storage.SnapshotStore
// implements it.
type ResultSource interface {
	Get(url string) (models.ProductRecord, bool)
	Records(vendor string) []models.ProductRecord
	Diagnostics() *models.DiagnosticReport
	GetStats() storage.Stats
}

type Handlers struct {
	jobs    JobService
	vendors VendorSource
	results ResultSource
	logger  *slog.Logger
}

// NewHandlers builds the handlers. results may be nil, in which case the
// result endpoints answer 404.
func NewHandlers(jobs JobService, vendors VendorSource, results ResultSource, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:    jobs,
		vendors: vendors,
		results: results,
		logger:  logger.With("component", "api"),
	}
}

// CreateRunRequest queues an extraction run
type CreateRunRequest struct {
	Vendor string `json:"vendor"`
}

// CreateDiagnosticsRequest queues a diagnostic run
type CreateDiagnosticsRequest struct {
	Quiet bool `json:"quiet"`
}

// CreateJobResponse represents the job creation response
type CreateJobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateRun handles new extraction run requests
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Vendor == "" {
		h.respondError(w, http.StatusBadRequest, "vendor is required")
		return
	}

	if err := h.vendors.ValidateVendor(req.Vendor); err != nil {
		if errors.Is(err, retailer.ErrUnknownVendor) || errors.Is(err, config.ErrVendorNotInCatalog) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to validate vendor", "vendor", req.Vendor, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to validate vendor")
		return
	}

	job, err := h.jobs.CreateExtractionJob(req.Vendor)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Extraction run queued",
	})
}

// CreateDiagnostics handles new diagnostic run requests. An empty body
// means a verbose run.
func (h *Handlers) CreateDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req CreateDiagnosticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateDiagnosticJob(req.Quiet)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Diagnostic run queued",
	})
}

// GetJob handles job status retrieval
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to get job", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing all jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

func (h *Handlers) ListVendors(w http.ResponseWriter, r *http.Request) {
	vendors := h.vendors.Vendors()
	if vendors == nil {
		vendors = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string][]string{"vendors": vendors})
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats())
}

// ListProducts returns the latest stored record per product. ?vendor=
// filters by vendor, ?url= looks up a single product.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.respondError(w, http.StatusNotFound, "results store not configured")
		return
	}

	if url := r.URL.Query().Get("url"); url != "" {
		record, ok := h.results.Get(url)
		if !ok {
			h.respondError(w, http.StatusNotFound, "product not found")
			return
		}
		h.respondJSON(w, http.StatusOK, record)
		return
	}

	records := h.results.Records(r.URL.Query().Get("vendor"))
	if records == nil {
		records = []models.ProductRecord{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetProductStats(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.respondError(w, http.StatusNotFound, "results store not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, h.results.GetStats())
}

// LatestDiagnostics returns the last complete diagnostic report.
func (h *Handlers) LatestDiagnostics(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.respondError(w, http.StatusNotFound, "results store not configured")
		return
	}

	report := h.results.Diagnostics()
	if report == nil {
		h.respondError(w, http.StatusNotFound, "no diagnostic report stored")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.jobs.GetStats()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"jobs": map[string]int{
			"pending": stats.PendingJobs,
			"running": stats.RunningJobs,
		},
	})
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/queue"
)

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"

	listLimit = 100
)

// Runner does the work behind a job. Both calls use the one browser page,
// so the manager never runs two at once.
type Runner interface {
	RunExtraction(ctx context.Context, vendor string) (*extraction.Report, error)
	RunDiagnostics(ctx context.Context, quiet bool) (*models.DiagnosticReport, error)
}

// Job represents an extraction or diagnostic run
type Job struct {
	ID          string                   `json:"id"`
	Kind        queue.TaskKind           `json:"kind"`
	Vendor      string                   `json:"vendor,omitempty"`
	Quiet       bool                     `json:"quiet,omitempty"`
	Status      Status                   `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Extraction  *extraction.Report       `json:"extraction,omitempty"`
	Diagnostics *models.DiagnosticReport `json:"diagnostics,omitempty"`
}

// Stats represents job statistics
type Stats struct {
	TotalJobs       int     `json:"total_jobs"`
	PendingJobs     int     `json:"pending_jobs"`
	RunningJobs     int     `json:"running_jobs"`
	CompletedJobs   int     `json:"completed_jobs"`
	FailedJobs      int     `json:"failed_jobs"`
	ProductsFound   int     `json:"products_found"`
	ProductFailures int     `json:"product_failures"`
	SuccessRate     float64 `json:"success_rate"`
}

type Manager struct {
	queue  queue.Queue
	runner Runner
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(q queue.Queue, runner Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		queue:  q,
		runner: runner,
		logger: logger.With("component", "job_manager"),
		jobs:   make(map[string]*Job),
	}
}

// CreateExtractionJob queues an extraction run for one vendor.
func (m *Manager) CreateExtractionJob(vendor string) (*Job, error) {
	return m.create(&queue.Task{Kind: queue.TaskExtract, Vendor: vendor})
}

// CreateDiagnosticJob queues a diagnostic run.
func (m *Manager) CreateDiagnosticJob(quiet bool) (*Job, error) {
	return m.create(&queue.Task{Kind: queue.TaskDiagnose, Quiet: quiet})
}

func (m *Manager) create(task *queue.Task) (*Job, error) {
	task.ID = uuid.New().String()
	task.CreatedAt = time.Now()

	job := &Job{
		ID:        task.ID,
		Kind:      task.Kind,
		Vendor:    task.Vendor,
		Quiet:     task.Quiet,
		Status:    StatusPending,
		CreatedAt: task.CreatedAt,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.queue.Push(task); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "kind", job.Kind, "vendor", job.Vendor)
	return m.snapshot(job), nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return m.snapshot(job), nil
}

// ListJobs returns the newest jobs first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > listLimit {
		jobs = jobs[:listLimit]
	}
	return jobs
}

func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		if job.Extraction != nil {
			stats.ProductsFound += len(job.Extraction.Records)
			stats.ProductFailures += len(job.Extraction.Failures)
		}
	}

	finished := stats.CompletedJobs + stats.FailedJobs
	if finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats
}

// snapshot copies the job so callers never race the worker. Must be called
// with mu held.
func (m *Manager) snapshot(job *Job) *Job {
	cp := *job
	return &cp
}

func (m *Manager) update(jobID string, fn func(job *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}

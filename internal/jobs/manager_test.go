package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunExtraction(ctx context.Context, vendor string) (*extraction.Report, error) {
	args := m.Called(ctx, vendor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extraction.Report), args.Error(1)
}

func (m *MockRunner) RunDiagnostics(ctx context.Context, quiet bool) (*models.DiagnosticReport, error) {
	args := m.Called(ctx, quiet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DiagnosticReport), args.Error(1)
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		got, err := m.GetJob(id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(), new(MockRunner), slog.Default())

	job, err := m.CreateExtractionJob("costco")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.TaskExtract, job.Kind)
	assert.Equal(t, StatusPending, job.Status)

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "costco", got.Vendor)

	_, err = m.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_CreateOnClosedQueue(t *testing.T) {
	q := queue.NewInMemoryQueue()
	require.NoError(t, q.Close())
	m := NewManager(q, new(MockRunner), nil)

	_, err := m.CreateDiagnosticJob(true)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	assert.Empty(t, m.ListJobs())
}

func TestManager_WorkerRunsJobsInOrder(t *testing.T) {
	runner := new(MockRunner)
	m := NewManager(queue.NewInMemoryQueue(), runner, nil)

	var order []string
	report := &extraction.Report{
		Vendor:   "costco",
		Records:  []models.ProductRecord{{Vendor: "costco", Name: "Strawberries"}},
		Failures: []extraction.Failure{{URL: "u2", Error: "price format"}},
	}
	runner.On("RunExtraction", mock.Anything, "costco").
		Run(func(mock.Arguments) { order = append(order, "extract") }).
		Return(report, nil)
	runner.On("RunDiagnostics", mock.Anything, true).
		Run(func(mock.Arguments) { order = append(order, "diagnose") }).
		Return(nil, errors.New("fingerprint scan failed"))

	extract, err := m.CreateExtractionJob("costco")
	require.NoError(t, err)
	diagnose, err := m.CreateDiagnosticJob(true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	done := waitForStatus(t, m, extract.ID, StatusCompleted)
	require.NotNil(t, done.Extraction)
	assert.Len(t, done.Extraction.Records, 1)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	failed := waitForStatus(t, m, diagnose.ID, StatusFailed)
	assert.Equal(t, "fingerprint scan failed", failed.Error)
	assert.Nil(t, failed.Diagnostics)

	assert.Equal(t, []string{"extract", "diagnose"}, order)

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.FailedJobs)
	assert.Equal(t, 1, stats.ProductsFound)
	assert.Equal(t, 1, stats.ProductFailures)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)

	runner.AssertExpectations(t)
}

func TestManager_WorkerKeepsPartialResults(t *testing.T) {
	runner := new(MockRunner)
	m := NewManager(queue.NewInMemoryQueue(), runner, nil)

	partial := &models.DiagnosticReport{RanAt: time.Now()}
	runner.On("RunDiagnostics", mock.Anything, false).Return(partial, errors.New("entropy analysis failed"))

	job, err := m.CreateDiagnosticJob(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Same(t, partial, failed.Diagnostics)
}

func TestManager_WorkerStopsOnClose(t *testing.T) {
	q := queue.NewInMemoryQueue()
	m := NewManager(q, new(MockRunner), nil)

	stopped := make(chan struct{})
	go func() {
		m.StartWorker(context.Background())
		close(stopped)
	}()

	require.NoError(t, q.Close())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestManager_ListJobsNewestFirst(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(), new(MockRunner), nil)

	first, err := m.CreateExtractionJob("costco")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.CreateExtractionJob("safeway")
	require.NoError(t, err)

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)

	stats := m.GetStats()
	assert.Equal(t, 2, stats.PendingJobs)
	assert.Zero(t, stats.SuccessRate)
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/grocery-tracker/internal/queue"
)

// StartWorker processes queued jobs one at a time until ctx is done or the
// queue is closed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take next job", "error", err)
			continue
		}
		m.processJob(ctx, task)
	}
}

func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	m.logger.Info("processing job", "id", task.ID, "kind", task.Kind)

	started := time.Now()
	m.update(task.ID, func(job *Job) {
		job.Status = StatusRunning
		job.StartedAt = &started
	})

	err := m.run(ctx, task)

	completed := time.Now()
	m.update(task.ID, func(job *Job) {
		job.CompletedAt = &completed
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = StatusCompleted
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
		return
	}
	m.logger.Info("job completed", "id", task.ID, "duration", completed.Sub(started))
}

// run keeps partial results on the job even when the run fails.
func (m *Manager) run(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.TaskExtract:
		report, err := m.runner.RunExtraction(ctx, task.Vendor)
		m.update(task.ID, func(job *Job) { job.Extraction = report })
		return err
	case queue.TaskDiagnose:
		report, err := m.runner.RunDiagnostics(ctx, task.Quiet)
		m.update(task.ID, func(job *Job) { job.Diagnostics = report })
		return err
	default:
		return fmt.Errorf("unknown job kind %q", task.Kind)
	}
}

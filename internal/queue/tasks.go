// Package queue decouples batch submission from execution through asynq:
// the API enqueues, the worker consumes and a scheduler re-enqueues stale jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
)

const (
	// QueueDefault is the queue every batch task runs on
	QueueDefault = "default"
	// TaskBatchProcess runs one batch job
	TaskBatchProcess = "batch:process"
	// TaskBatchRecover sweeps stale pending jobs and settles abandoned ones
	TaskBatchRecover = "batch:recover"
	// BatchTimeout bounds one batch task; the recoverer's abandon window
	// must stay above it
	BatchTimeout = 20 * time.Minute
)

// BatchPayload identifies the job to process
type BatchPayload struct {
	JobID string `json:"job_id"`
}

// NewBatchProcessTask builds a task for one job. The task id is the job id so
// a job waiting in the queue is never enqueued twice.
func NewBatchProcessTask(jobID string) (*asynq.Task, error) {
	if jobID == "" {
		return nil, errors.New("queue: job id required")
	}
	body, err := json.Marshal(BatchPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchProcess, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(jobID),
		asynq.MaxRetry(3),
		asynq.Timeout(BatchTimeout),
	), nil
}

// NewRecoverTask builds the periodic recovery task
func NewRecoverTask() *asynq.Task {
	return asynq.NewTask(TaskBatchRecover, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// Processor runs a claimed batch job
type Processor interface {
	Process(ctx context.Context, jobID string) (*model.BatchJob, error)
}

// Sweeper recovers abandoned jobs
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// HandleBatchProcess adapts a Processor to an asynq handler. Jobs that are
// gone or already claimed are acknowledged without retry.
func HandleBatchProcess(p Processor, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.JobID == "" {
			return fmt.Errorf("decode %s payload: %w", TaskBatchProcess, asynq.SkipRetry)
		}

		job, err := p.Process(ctx, payload.JobID)
		switch {
		case errors.Is(err, model.ErrJobNotClaimable), errors.Is(err, model.ErrJobNotFound):
			logger.Info("skipping batch task", zap.String("job_id", payload.JobID), zap.Error(err))
			return nil
		case err != nil:
			return err
		}

		logger.Info("batch task done",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("segments", job.TotalSegments),
			zap.Int("failed", job.Failed),
		)
		return nil
	}
}

// HandleRecover adapts a Sweeper to an asynq handler
func HandleRecover(s Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := s.Sweep(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("recovered stale batch jobs", zap.Int("count", n))
		}
		return nil
	}
}

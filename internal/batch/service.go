package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/storage"
	"github.com/rezonia/einvoice-engine/internal/store"
)

var (
	// ErrOwnerRequired is returned when a batch has no owner
	ErrOwnerRequired = errors.New("batch owner required")
	// ErrNoSources is returned when a batch has no documents
	ErrNoSources = errors.New("batch needs at least one document")
)

// Enqueuer hands a job id to the work queue
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, jobID string) error
}

// Upload is one document submitted with a batch
type Upload struct {
	Filename string
	MimeType string
	Content  []byte
}

// Service accepts batch submissions
type Service struct {
	jobs   store.JobStore
	blobs  storage.Store
	queue  Enqueuer
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

// NewService creates a submission service
func NewService(jobs store.JobStore, blobs storage.Store, queue Enqueuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		jobs:   jobs,
		blobs:  blobs,
		queue:  queue,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Submit stores the uploads, creates a pending job and enqueues it. An
// enqueue failure leaves the job pending for the recoverer to pick up.
func (s *Service) Submit(ctx context.Context, owner string, uploads []Upload, targetFormat string) (*model.BatchJob, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if len(uploads) == 0 {
		return nil, ErrNoSources
	}
	if targetFormat != "" && !slices.Contains(model.AllFormats(), model.FormatID(targetFormat)) {
		return nil, &model.UnsupportedFormatError{FormatID: targetFormat}
	}

	job := &model.BatchJob{
		ID:           s.newID(),
		OwnerID:      owner,
		TargetFormat: targetFormat,
	}
	for i, u := range uploads {
		if len(u.Content) == 0 {
			return nil, fmt.Errorf("document %q is empty", u.Filename)
		}
		src := model.SourceDocument{
			Filename: u.Filename,
			MimeType: DetectMimeType(u.Content, u.MimeType),
			Key:      storage.SourceKey(job.ID, i, u.Filename),
		}
		if err := s.blobs.Put(ctx, src.Key, u.Content, src.MimeType); err != nil {
			return nil, fmt.Errorf("store %s: %w", u.Filename, err)
		}
		job.Sources = append(job.Sources, src)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.EnqueueBatch(ctx, job.ID); err != nil {
		s.logger.Warn("enqueue failed, job left for recovery", zap.String("job_id", job.ID), zap.Error(err))
	}

	s.logger.Info("batch submitted",
		zap.String("job_id", job.ID),
		zap.String("owner", owner),
		zap.Int("documents", len(job.Sources)),
		zap.String("format", targetFormat),
	)
	return job, nil
}

// Status returns the job with its results
func (s *Service) Status(ctx context.Context, jobID string) (*model.BatchJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// Recoverer re-enqueues jobs abandoned in pending and settles jobs whose
// worker stopped mid-run
type Recoverer struct {
	jobs         store.JobStore
	ledger       store.Ledger
	queue        Enqueuer
	staleAfter   time.Duration
	abandonAfter time.Duration
	logger       *zap.Logger
}

const (
	// DefaultStaleAfter is how long a job may sit pending before recovery
	DefaultStaleAfter = 10 * time.Second
	// DefaultAbandonAfter is how long a processing job may go without a
	// write before it is settled. It must exceed the batch task timeout.
	DefaultAbandonAfter = 30 * time.Minute
)

// errAbandoned is recorded on segments a stopped worker left behind
const errAbandoned = "abandoned: worker stopped before this segment finished"

// NewRecoverer creates a recoverer; non-positive windows use the defaults
func NewRecoverer(jobs store.JobStore, ledger store.Ledger, queue Enqueuer, staleAfter, abandonAfter time.Duration, logger *zap.Logger) *Recoverer {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if abandonAfter <= 0 {
		abandonAfter = DefaultAbandonAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{
		jobs:         jobs,
		ledger:       ledger,
		queue:        queue,
		staleAfter:   staleAfter,
		abandonAfter: abandonAfter,
		logger:       logger,
	}
}

// Sweep re-enqueues every stale pending job, settles every abandoned
// processing job and returns how many jobs it recovered
func (r *Recoverer) Sweep(ctx context.Context) (int, error) {
	ids, err := r.jobs.ListStalePending(ctx, r.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		if err := r.queue.EnqueueBatch(ctx, id); err != nil {
			r.logger.Warn("re-enqueue failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		recovered++
	}

	abandoned, err := r.jobs.ListStaleProcessing(ctx, r.abandonAfter)
	if err != nil {
		return recovered, fmt.Errorf("list abandoned jobs: %w", err)
	}
	for _, id := range abandoned {
		if err := r.Settle(ctx, id); err != nil {
			r.logger.Warn("settling abandoned job failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Settle closes a processing job whose worker is gone. Every segment the
// reservation covered that has no completed result is refunded under its
// own key and marked failed, then the job takes its final status. Refund
// keys are shared with the orchestrator, so segments it already refunded
// are not credited twice.
func (r *Recoverer) Settle(ctx context.Context, jobID string) error {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusProcessing {
		return nil
	}

	reserved, err := r.reserved(ctx, job)
	if err != nil {
		return err
	}

	results := make(map[int]model.BatchResult, len(job.Results))
	for _, res := range job.Results {
		results[res.Index] = res
	}

	total := max(reserved, job.TotalSegments)
	failed := 0
	for i := 0; i < total; i++ {
		res, ok := results[i]
		if ok && res.Status == model.ResultStatusCompleted {
			continue
		}
		failed++
		if i < reserved {
			if err := r.ledger.Refund(ctx, job.OwnerID, 1, store.RefundKey(job.ID, i)); err != nil {
				return fmt.Errorf("refund segment %d: %w", i, err)
			}
		}
		if ok && res.Status == model.ResultStatusFailed {
			continue
		}
		res.Index, res.Status, res.Error = i, model.ResultStatusFailed, errAbandoned
		if err := r.jobs.SaveResult(ctx, job.ID, res); err != nil {
			return fmt.Errorf("save result %d: %w", i, err)
		}
	}

	job.TotalSegments = total
	switch {
	case total == 0:
		job.Status = model.JobStatusFailed
		job.Error = "abandoned before credits were reserved"
	default:
		job.Status = model.FinalStatus(total, failed)
		if failed > 0 {
			job.Error = "worker stopped before the job finished"
		}
	}
	if err := r.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}

	r.logger.Info("settled abandoned batch job",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("reserved", reserved),
		zap.Int("refunded", min(failed, reserved)),
	)
	return nil
}

// reserved returns how many credits the job's reservation took, zero when
// none was recorded for this owner
func (r *Recoverer) reserved(ctx context.Context, job *model.BatchJob) (int, error) {
	entry, err := r.ledger.Entry(ctx, store.ReserveKey(job.ID))
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read reservation: %w", err)
	case entry.OwnerID != job.OwnerID || entry.Kind != store.KindDeduct:
		return 0, nil
	}
	return entry.Amount, nil
}

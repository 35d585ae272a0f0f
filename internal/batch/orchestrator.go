// Package batch runs multi-document extraction jobs: it splits sources into
// invoice segments, reserves credits, extracts each segment under a bounded
// worker pool with retries and optionally generates a target e-invoice format.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/ratelimit"
	"github.com/rezonia/einvoice-engine/internal/storage"
	"github.com/rezonia/einvoice-engine/internal/store"
)

// Extractor turns one document into a canonical invoice
type Extractor interface {
	ExtractFromFile(ctx context.Context, data []byte, filename, mimeType string) (*model.Extraction, error)
}

// Limiter gates calls to the extraction provider
type Limiter interface {
	Wait(ctx context.Context) error
}

// PageTexter returns the text of every PDF page
type PageTexter interface {
	PageTexts(data []byte) ([]string, error)
}

// Generators resolves output formats
type Generators interface {
	Create(id model.FormatID) (format.Generator, error)
}

// Config tunes the worker pool and retry policy
type Config struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: 3,
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per attempt, capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// Deps are the collaborators every orchestrator needs
type Deps struct {
	Jobs      store.JobStore
	Drafts    store.DraftStore
	Ledger    store.Ledger
	Blobs     storage.Store
	Extractor Extractor
	Pages     PageTexter
}

// Orchestrator processes claimed batch jobs
type Orchestrator struct {
	jobs      store.JobStore
	drafts    store.DraftStore
	ledger    store.Ledger
	blobs     storage.Store
	extractor Extractor
	pages     PageTexter

	formats Generators
	limiter Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
	now     func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithConfig overrides pool size and retry policy; zero fields keep defaults
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.Concurrency > 0 {
			o.cfg.Concurrency = cfg.Concurrency
		}
		if cfg.MaxAttempts > 0 {
			o.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.BackoffBase > 0 {
			o.cfg.BackoffBase = cfg.BackoffBase
		}
		if cfg.BackoffMax > 0 {
			o.cfg.BackoffMax = cfg.BackoffMax
		}
	}
}

// WithGenerators enables output generation for jobs with a target format
func WithGenerators(g Generators) Option {
	return func(o *Orchestrator) {
		o.formats = g
	}
}

// WithLimiter shares a provider rate limit across workers
func WithLimiter(l Limiter) Option {
	return func(o *Orchestrator) {
		o.limiter = l
	}
}

// WithMetrics records segment and credit metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithSleep overrides how retries wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithIDs overrides extraction id generation
func WithIDs(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// WithClock overrides the time source for drafts
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:      deps.Jobs,
		drafts:    deps.Drafts,
		ledger:    deps.Ledger,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		pages:     deps.Pages,
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		sleep:     ratelimit.Sleep,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process claims a pending job and runs it to a terminal status. Business
// outcomes (no credit, failed segments) are recorded on the job; the error
// return is reserved for claim and store failures. Once credits are
// reserved, every exit leaves each segment either completed or refunded,
// even when ctx is cancelled mid-run.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (*model.BatchJob, error) {
	job, err := o.jobs.Claim(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", jobID, err)
	}
	log := o.logger.With(zap.String("job_id", job.ID), zap.String("owner", job.OwnerID))
	log.Info("batch job claimed", zap.Int("sources", len(job.Sources)))

	// ledger and result writes run detached from the task deadline
	bg := context.WithoutCancel(ctx)

	if job.OwnerID == "" {
		return o.fail(bg, job, errors.New("job has no owner"))
	}

	segments, err := o.segments(ctx, job)
	if err != nil {
		return o.fail(bg, job, err)
	}
	if len(segments) == 0 {
		return o.fail(bg, job, errors.New("job has no documents"))
	}
	if err := ctx.Err(); err != nil {
		return o.fail(bg, job, fmt.Errorf("cancelled before credits were reserved: %w", err))
	}

	reserved, err := o.ledger.Deduct(bg, job.OwnerID, len(segments), store.ReserveKey(job.ID))
	if err != nil {
		return o.fail(bg, job, fmt.Errorf("reserve credits: %w", err))
	}
	if !reserved {
		log.Info("insufficient credits", zap.Int("required", len(segments)))
		return o.fail(bg, job, model.ErrCreditInsufficient)
	}
	o.metrics.AddCredits(store.KindReserve, len(segments))

	// settled[i] is true once segment i is completed or refunded
	settled := make([]bool, len(segments))

	job.TotalSegments = len(segments)
	if err := o.jobs.Update(bg, job); err != nil {
		return o.abort(bg, job, segments, settled, fmt.Errorf("update job %s: %w", job.ID, err))
	}
	for _, seg := range segments {
		pending := model.BatchResult{Index: seg.Index, Filename: seg.Filename, Status: model.ResultStatusPending}
		if err := o.jobs.SaveResult(bg, job.ID, pending); err != nil {
			return o.abort(bg, job, segments, settled, fmt.Errorf("save result %d: %w", seg.Index, err))
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, seg := range segments {
		g.Go(func() error {
			settled[i] = o.runSegment(ctx, job, seg)
			return nil
		})
	}
	_ = g.Wait()

	final, err := o.jobs.Get(bg, job.ID)
	if err != nil {
		return o.abort(bg, job, segments, settled, fmt.Errorf("reload job %s: %w", job.ID, err))
	}
	final.Status = model.FinalStatus(final.TotalSegments, final.Failed)
	if err := o.jobs.Update(bg, final); err != nil {
		return o.abort(bg, job, segments, settled, fmt.Errorf("update job %s: %w", job.ID, err))
	}

	o.metrics.ObserveJob(string(final.Status))
	log.Info("batch job finished",
		zap.String("status", string(final.Status)),
		zap.Int("segments", final.TotalSegments),
		zap.Int("completed", final.Completed),
		zap.Int("failed", final.Failed),
	)
	return final, nil
}

// fail ends a job before any credit moved
func (o *Orchestrator) fail(ctx context.Context, job *model.BatchJob, cause error) (*model.BatchJob, error) {
	job.Status = model.JobStatusFailed
	job.Error = cause.Error()
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	o.metrics.ObserveJob(string(job.Status))
	o.logger.Warn("batch job failed", zap.String("job_id", job.ID), zap.Error(cause))
	return job, nil
}

// abort ends a job after credits were reserved. Every unsettled segment is
// refunded under its own key and marked failed; store errors on the way are
// logged so the remaining refunds still run. The recoverer settles whatever
// is left if the store stays down.
func (o *Orchestrator) abort(ctx context.Context, job *model.BatchJob, segments []Segment, settled []bool, cause error) (*model.BatchJob, error) {
	log := o.logger.With(zap.String("job_id", job.ID))
	for i, seg := range segments {
		if settled[i] {
			continue
		}
		o.refund(ctx, job, seg.Index)
		failed := model.BatchResult{Index: seg.Index, Filename: seg.Filename, Status: model.ResultStatusFailed, Error: "job aborted: " + cause.Error()}
		if err := o.jobs.SaveResult(ctx, job.ID, failed); err != nil {
			log.Error("failed to save aborted segment", zap.Int("segment", seg.Index), zap.Error(err))
		}
	}

	job.Status = model.JobStatusFailed
	job.Error = cause.Error()
	if err := o.jobs.Update(ctx, job); err != nil {
		log.Error("failed to mark job aborted", zap.Error(err))
	}
	o.metrics.ObserveJob(string(job.Status))
	log.Error("batch job aborted", zap.Error(cause))
	return nil, cause
}

// runSegment extracts, persists and optionally generates one segment, then
// writes its own result row. A failed segment refunds its credit. Extraction
// honours ctx; the bookkeeping after it does not, so a cancelled segment is
// still recorded and refunded. It reports whether the credit is settled.
func (o *Orchestrator) runSegment(ctx context.Context, job *model.BatchJob, seg Segment) bool {
	log := o.logger.With(zap.String("job_id", job.ID), zap.Int("segment", seg.Index))
	bg := context.WithoutCancel(ctx)
	result := model.BatchResult{Index: seg.Index, Filename: seg.Filename}

	ext, attempts, err := o.extract(ctx, seg)
	result.Attempts = attempts
	if err == nil {
		err = o.saveDraft(bg, job, seg, ext, &result)
	}

	settled := true
	if err != nil {
		result.Status = model.ResultStatusFailed
		result.Error = err.Error()
		settled = o.refund(bg, job, seg.Index)
		log.Warn("segment failed", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		result.Status = model.ResultStatusCompleted
		if job.TargetFormat != "" {
			o.generate(ctx, job, seg, ext.Invoice, &result)
		}
	}

	if err := o.jobs.SaveResult(bg, job.ID, result); err != nil {
		log.Error("failed to save segment result", zap.Error(err))
	}
	o.metrics.ObserveSegment(string(result.Status))
	return settled
}

// extract calls the extractor, retrying transient failures with capped
// exponential backoff. It returns the number of attempts made.
func (o *Orchestrator) extract(ctx context.Context, seg Segment) (*model.Extraction, int, error) {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt - 1, cancelled(ctx)
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, attempt - 1, cancelled(ctx)
				}
				o.logger.Warn("rate limiter unavailable, relying on provider limits",
					zap.String("filename", seg.Filename),
					zap.Error(err),
				)
			}
		}

		ext, err := o.extractor.ExtractFromFile(ctx, seg.Data, seg.Filename, seg.MimeType)
		if err == nil && (ext == nil || ext.Invoice == nil) {
			err = model.NewExtractionError("batch", "extractor returned no invoice", nil)
		}
		if err == nil {
			o.metrics.ObserveExtraction("success")
			return ext, attempt, nil
		}

		if !model.IsTransient(err) || attempt >= o.cfg.MaxAttempts {
			o.metrics.ObserveExtraction("failure")
			return nil, attempt, err
		}

		o.metrics.ObserveExtraction("retry")
		delay := Backoff(o.cfg.BackoffBase, o.cfg.BackoffMax, attempt)
		o.logger.Debug("retrying extraction",
			zap.String("filename", seg.Filename),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, attempt, fmt.Errorf("cancelled: %w", err)
		}
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("cancelled: %w", context.Cause(ctx))
}

func (o *Orchestrator) saveDraft(ctx context.Context, job *model.BatchJob, seg Segment, ext *model.Extraction, result *model.BatchResult) error {
	draft := &store.Draft{
		ID:         o.newID(),
		OwnerID:    job.OwnerID,
		JobID:      job.ID,
		Index:      seg.Index,
		Invoice:    ext.Invoice,
		Confidence: ext.Confidence,
		CreatedAt:  o.now(),
	}
	if err := o.drafts.SaveDraft(ctx, draft); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	result.ExtractionID = draft.ID
	result.ConfidenceScore = ext.Confidence
	return nil
}

// generate writes the target format artifact. The extraction is already
// charged and kept, so a blocked or failed generation is noted on the
// result without failing the segment.
func (o *Orchestrator) generate(ctx context.Context, job *model.BatchJob, seg Segment, inv *model.Invoice, result *model.BatchResult) {
	if o.formats == nil {
		return
	}
	gen, err := o.formats.Create(model.FormatID(job.TargetFormat))
	if err != nil {
		result.Error = err.Error()
		return
	}

	out, err := gen.Generate(ctx, inv)
	if err != nil {
		var blocked *model.BlockingValidationError
		if errors.As(err, &blocked) {
			result.Error = "generation blocked: " + strings.Join(blocked.RuleIDs, ", ")
		} else {
			result.Error = "generation failed: " + err.Error()
		}
		return
	}

	name, content, contentType := out.FileName, []byte(out.XMLContent), "application/xml"
	if len(out.PDFContent) > 0 {
		name, content, contentType = strings.TrimSuffix(out.FileName, ".xml")+".pdf", out.PDFContent, mimePDF
	}
	key := storage.ArtifactKey(job.ID, seg.Index, name)
	if err := o.blobs.Put(ctx, key, content, contentType); err != nil {
		result.Error = "store output: " + err.Error()
		return
	}
	result.OutputKey = key
}

// refund returns one segment credit and reports whether the ledger took it
func (o *Orchestrator) refund(ctx context.Context, job *model.BatchJob, index int) bool {
	if err := o.ledger.Refund(ctx, job.OwnerID, 1, store.RefundKey(job.ID, index)); err != nil {
		o.logger.Error("failed to refund segment credit",
			zap.String("job_id", job.ID),
			zap.Int("segment", index),
			zap.Error(err),
		)
		return false
	}
	o.metrics.AddCredits(store.KindRefund, 1)
	return true
}

// Package store defines the persistence contracts of the batch pipeline: the
// idempotent credit ledger, the batch job store and the extraction draft store.
// Implementations live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rezonia/einvoice-engine/internal/model"
)

// ErrInvalidAmount is returned for non-positive credit amounts
var ErrInvalidAmount = errors.New("credit amount must be positive")

// ErrKeyRequired is returned when an idempotency key is missing
var ErrKeyRequired = errors.New("idempotency key required")

// ErrIdempotencyConflict is returned when a key was already recorded for a
// different owner, kind or amount
var ErrIdempotencyConflict = errors.New("idempotency key already used for a different operation")

// ErrEntryNotFound is returned by Ledger.Entry for an unknown key
var ErrEntryNotFound = errors.New("ledger entry not found")

// Ledger entry kinds
const (
	KindGrant   = "grant"
	KindDeduct  = "deduct"
	KindRefund  = "refund"
	KindReserve = "reserve"
)

// Ledger is the per-owner credit balance. Every mutation carries an
// idempotency key; replaying a key is a no-op that reports the first outcome.
type Ledger interface {
	// Deduct removes amount when the balance covers it. It returns false,
	// without recording the key, when credit is insufficient.
	Deduct(ctx context.Context, owner string, amount int, key string) (bool, error)
	Refund(ctx context.Context, owner string, amount int, key string) error
	Grant(ctx context.Context, owner string, amount int, key string) error
	Balance(ctx context.Context, owner string) (int, error)
	// Entry returns the mutation recorded under key, or ErrEntryNotFound
	Entry(ctx context.Context, key string) (*Entry, error)
}

// Entry is one recorded ledger mutation
type Entry struct {
	Key       string    `json:"key"`
	OwnerID   string    `json:"owner_id"`
	Kind      string    `json:"kind"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Replays reports whether a new mutation is the same operation as the
// recorded one. Only an identical operation may reuse a key.
func (e *Entry) Replays(owner, kind string, amount int) bool {
	return e.OwnerID == owner && e.Kind == kind && e.Amount == amount
}

// ConflictError wraps ErrIdempotencyConflict with the offending key
func ConflictError(key string, recorded *Entry) error {
	return fmt.Errorf("%w: key %q belongs to a %s of %d for %s",
		ErrIdempotencyConflict, key, recorded.Kind, recorded.Amount, recorded.OwnerID)
}

// JobStore persists batch jobs and their per-segment results
type JobStore interface {
	Create(ctx context.Context, job *model.BatchJob) error
	Get(ctx context.Context, id string) (*model.BatchJob, error)
	// Update writes status, segment count and error; results are written by SaveResult
	Update(ctx context.Context, job *model.BatchJob) error
	// Claim moves a pending job to processing. Anything else yields ErrJobNotClaimable.
	Claim(ctx context.Context, id string) (*model.BatchJob, error)
	// SaveResult upserts the result row for (job, index); last write wins
	SaveResult(ctx context.Context, jobID string, result model.BatchResult) error
	// ListStalePending returns ids of jobs pending for longer than olderThan
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]string, error)
	// ListStaleProcessing returns ids of processing jobs not written to for longer than olderThan
	ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// Draft is the persisted extraction of one batch segment
type Draft struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	JobID      string         `json:"job_id"`
	Index      int            `json:"index"`
	Invoice    *model.Invoice `json:"invoice"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DraftStore persists extraction drafts
type DraftStore interface {
	SaveDraft(ctx context.Context, draft *Draft) error
	GetDraft(ctx context.Context, id string) (*Draft, error)
}

// ReserveKey is the idempotency key of the up-front credit reservation of a job
func ReserveKey(jobID string) string {
	return fmt.Sprintf("batch:%s:reserve", jobID)
}

// RefundKey is the idempotency key of the refund for one failed segment
func RefundKey(jobID string, index int) string {
	return fmt.Sprintf("batch:%s:segment:%d:refund", jobID, index)
}

// CheckMutation validates the arguments shared by every ledger mutation
func CheckMutation(owner string, amount int, key string) error {
	if owner == "" {
		return errors.New("owner required")
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if key == "" {
		return ErrKeyRequired
	}
	return nil
}

// Tally recomputes the completed and failed counters from the results
func Tally(job *model.BatchJob) {
	job.Completed, job.Failed = 0, 0
	for _, r := range job.Results {
		switch r.Status {
		case model.ResultStatusCompleted:
			job.Completed++
		case model.ResultStatusFailed:
			job.Failed++
		}
	}
}

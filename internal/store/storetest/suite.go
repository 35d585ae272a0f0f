// Package storetest holds the behaviour suite every store implementation runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/model/modeltest"
	"github.com/rezonia/einvoice-engine/internal/store"
)

// Backend is what the suite needs from an implementation
type Backend interface {
	store.Ledger
	store.JobStore
	store.DraftStore
}

// Clock is a settable time source shared with the backend under test
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at a fixed instant
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Run executes every behaviour test. newBackend must return an empty store
// driven by the given clock.
func Run(t *testing.T, newBackend func(t *testing.T, clock *Clock) Backend) {
	t.Run("ledger", func(t *testing.T) { runLedger(t, newBackend(t, NewClock())) })
	t.Run("ledger key reuse", func(t *testing.T) { runLedgerKeyReuse(t, newBackend(t, NewClock())) })
	t.Run("ledger concurrency", func(t *testing.T) { runLedgerConcurrency(t, newBackend(t, NewClock())) })
	t.Run("jobs", func(t *testing.T) {
		clock := NewClock()
		runJobs(t, newBackend(t, clock), clock)
	})
	t.Run("drafts", func(t *testing.T) { runDrafts(t, newBackend(t, NewClock())) })
}

func owner() string {
	return "user-" + uuid.NewString()
}

// keys are prefixed with the owner so the suite can rerun against a persistent database
func runLedger(t *testing.T, b Backend) {
	ctx := context.Background()
	user := owner()

	balance, err := b.Balance(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, balance)

	ok, err := b.Deduct(ctx, user, 1, user+":d-0")
	require.NoError(t, err)
	assert.False(t, ok, "empty account must not go negative")

	require.NoError(t, b.Grant(ctx, user, 10, user+":grant-1"))
	require.NoError(t, b.Grant(ctx, user, 10, user+":grant-1"))
	balance, _ = b.Balance(ctx, user)
	assert.Equal(t, 10, balance, "replayed grant is a no-op")

	ok, err = b.Deduct(ctx, user, 4, store.ReserveKey(user))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Deduct(ctx, user, 4, store.ReserveKey(user))
	require.NoError(t, err)
	assert.True(t, ok, "replayed deduction reports the first outcome")
	balance, _ = b.Balance(ctx, user)
	assert.Equal(t, 6, balance)

	ok, err = b.Deduct(ctx, user, 7, user+":too-much")
	require.NoError(t, err)
	assert.False(t, ok)
	balance, _ = b.Balance(ctx, user)
	assert.Equal(t, 6, balance)

	require.NoError(t, b.Refund(ctx, user, 1, store.RefundKey(user, 2)))
	require.NoError(t, b.Refund(ctx, user, 1, store.RefundKey(user, 2)))
	balance, _ = b.Balance(ctx, user)
	assert.Equal(t, 7, balance)

	assert.ErrorIs(t, b.Grant(ctx, user, 0, user+":zero"), store.ErrInvalidAmount)
	assert.ErrorIs(t, b.Refund(ctx, user, 1, ""), store.ErrKeyRequired)
	_, err = b.Deduct(ctx, user, -1, user+":neg")
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
}

func runLedgerKeyReuse(t *testing.T, b Backend) {
	ctx := context.Background()
	alice, bob := owner(), owner()
	key := store.ReserveKey(alice)

	_, err := b.Entry(ctx, key)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)

	require.NoError(t, b.Grant(ctx, alice, 1, key))
	require.NoError(t, b.Grant(ctx, bob, 10, bob+":seed"))

	entry, err := b.Entry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, entry.Key)
	assert.Equal(t, alice, entry.OwnerID)
	assert.Equal(t, store.KindGrant, entry.Kind)
	assert.Equal(t, 1, entry.Amount)

	ok, err := b.Deduct(ctx, bob, 5, key)
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict, "another owner cannot reuse the key")
	assert.False(t, ok)

	ok, err = b.Deduct(ctx, alice, 1, key)
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict, "a grant key cannot be replayed as a deduction")
	assert.False(t, ok)

	assert.ErrorIs(t, b.Grant(ctx, alice, 2, key), store.ErrIdempotencyConflict, "amount differs")
	assert.ErrorIs(t, b.Refund(ctx, alice, 1, key), store.ErrIdempotencyConflict)
	require.NoError(t, b.Grant(ctx, alice, 1, key), "identical operation is still a replay")

	balance, err := b.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
	balance, err = b.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func runLedgerConcurrency(t *testing.T, b Backend) {
	ctx := context.Background()
	user := owner()
	require.NoError(t, b.Grant(ctx, user, 5, user+":seed"))

	// ten replays of one key charge once
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.Deduct(ctx, user, 1, user+":shared")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	balance, err := b.Balance(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 4, balance)

	// ten distinct deductions race for the remaining four credits
	var (
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := b.Deduct(ctx, user, 1, fmt.Sprintf("%s:deduct-%d", user, i))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	balance, err = b.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
	assert.Equal(t, 4, granted)
}

func runJobs(t *testing.T, b Backend, clock *Clock) {
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)

	job := &model.BatchJob{
		ID:           uuid.NewString(),
		OwnerID:      owner(),
		TargetFormat: string(model.FormatXRechnungUBL),
		Sources:      []model.SourceDocument{{Filename: "a.pdf", MimeType: "application/pdf", Key: "uploads/a.pdf"}},
	}
	require.NoError(t, b.Create(ctx, job))
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := b.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Sources, got.Sources)
	assert.Empty(t, got.Results)

	clock.Advance(11 * time.Second)
	stale, err := b.ListStalePending(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Contains(t, stale, job.ID)

	claimed, err := b.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)

	_, err = b.Claim(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotClaimable)
	_, err = b.Claim(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)

	clock.Advance(time.Minute)
	stale, err = b.ListStalePending(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.NotContains(t, stale, job.ID, "processing jobs are not re-listed")
	stale, err = b.ListStaleProcessing(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Contains(t, stale, job.ID)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := model.ResultStatusCompleted
			if i == 1 {
				status = model.ResultStatusFailed
			}
			assert.NoError(t, b.SaveResult(ctx, job.ID, model.BatchResult{Index: i, Filename: "a.pdf", Status: status, Attempts: 1}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, b.SaveResult(ctx, job.ID, model.BatchResult{Index: 2, Filename: "a.pdf", Status: model.ResultStatusCompleted, Attempts: 2}))

	stale, err = b.ListStaleProcessing(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.NotContains(t, stale, job.ID, "result writes keep a processing job fresh")

	claimed.Status = model.JobStatusPartialSuccess
	claimed.TotalSegments = 3
	require.NoError(t, b.Update(ctx, claimed))

	clock.Advance(time.Hour)
	stale, err = b.ListStaleProcessing(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.NotContains(t, stale, job.ID, "terminal jobs are never listed")

	got, err = b.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Results, 3)
	for i, r := range got.Results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, 2, got.Results[2].Attempts, "last write wins")
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, model.JobStatusPartialSuccess, got.Status)

	err = b.Update(ctx, &model.BatchJob{ID: "missing", Status: model.JobStatusFailed})
	assert.True(t, errors.Is(err, model.ErrJobNotFound))
}

func runDrafts(t *testing.T, b Backend) {
	ctx := context.Background()
	draft := &store.Draft{
		ID:         uuid.NewString(),
		OwnerID:    owner(),
		JobID:      "job-1",
		Index:      3,
		Invoice:    modeltest.GermanInvoice(),
		Confidence: 0.875,
	}
	require.NoError(t, b.SaveDraft(ctx, draft))

	got, err := b.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Index)
	assert.Equal(t, 0.875, got.Confidence)
	assert.Equal(t, "RE-2024-0042", got.Invoice.InvoiceNumber)
	assert.True(t, got.Invoice.Totals.TotalAmount.Equal(draft.Invoice.Totals.TotalAmount))

	_, err = b.GetDraft(ctx, "missing")
	assert.Error(t, err)
}

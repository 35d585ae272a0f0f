// Package postgres implements the store contracts on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/store"
)

// Schema is applied by Migrate
const Schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	owner_id   TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS credit_entries (
	idempotency_key TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	amount          INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_jobs (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	status         TEXT NOT NULL,
	target_format  TEXT NOT NULL DEFAULT '',
	sources        JSONB NOT NULL,
	total_segments INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS batch_jobs_status_updated ON batch_jobs (status, updated_at);
CREATE TABLE IF NOT EXISTS batch_results (
	job_id TEXT NOT NULL REFERENCES batch_jobs (id),
	idx    INTEGER NOT NULL,
	data   JSONB NOT NULL,
	PRIMARY KEY (job_id, idx)
);
CREATE TABLE IF NOT EXISTS extraction_drafts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	invoice    JSONB NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// errReplay aborts a transaction whose key was already recorded
var errReplay = errors.New("replayed idempotency key")

// Store is the PostgreSQL-backed ledger, job store and draft store
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ store.Ledger     = (*Store)(nil)
	_ store.JobStore   = (*Store)(nil)
	_ store.DraftStore = (*Store)(nil)
)

// Connect creates a new PostgreSQL connection pool
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// Option configures the store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for timestamps and staleness
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps a pool
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// withTx executes fn within a read-committed transaction
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// recordEntry inserts the idempotency key. A concurrent writer holding the
// same key blocks here until it commits, then this one sees the conflict and
// compares the recorded operation: identical is a replay, anything else is
// an idempotency conflict.
func (s *Store) recordEntry(ctx context.Context, tx pgx.Tx, owner, kind string, amount int, key string) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_entries (idempotency_key, owner_id, kind, amount, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, owner, kind, amount, s.now())
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	recorded, err := scanEntry(tx.QueryRow(ctx, entryQuery, key))
	if err != nil {
		return err
	}
	if !recorded.Replays(owner, kind, amount) {
		return store.ConflictError(key, recorded)
	}
	return errReplay
}

const entryQuery = `SELECT idempotency_key, owner_id, kind, amount, created_at FROM credit_entries WHERE idempotency_key = $1`

func scanEntry(row pgx.Row) (*store.Entry, error) {
	var e store.Entry
	err := row.Scan(&e.Key, &e.OwnerID, &e.Kind, &e.Amount, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	return &e, nil
}

// Entry implements store.Ledger
func (s *Store) Entry(ctx context.Context, key string) (*store.Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx, entryQuery, key))
}

// Deduct implements store.Ledger
func (s *Store) Deduct(ctx context.Context, owner string, amount int, key string) (bool, error) {
	if err := store.CheckMutation(owner, amount, key); err != nil {
		return false, err
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.recordEntry(ctx, tx, owner, store.KindDeduct, amount, key); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE credit_accounts SET balance = balance - $1, updated_at = $2 WHERE owner_id = $3 AND balance >= $1`,
			amount, s.now(), owner)
		if err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrCreditInsufficient
		}
		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		s.logger.Debug("replayed deduction", zap.String("owner", owner), zap.String("key", key))
		return true, nil
	case errors.Is(err, model.ErrCreditInsufficient):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Refund implements store.Ledger
func (s *Store) Refund(ctx context.Context, owner string, amount int, key string) error {
	return s.credit(ctx, owner, amount, key, store.KindRefund)
}

// Grant implements store.Ledger
func (s *Store) Grant(ctx context.Context, owner string, amount int, key string) error {
	return s.credit(ctx, owner, amount, key, store.KindGrant)
}

func (s *Store) credit(ctx context.Context, owner string, amount int, key, kind string) error {
	if err := store.CheckMutation(owner, amount, key); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.recordEntry(ctx, tx, owner, kind, amount, key); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO credit_accounts (owner_id, balance, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (owner_id) DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
			owner, amount, s.now())
		if err != nil {
			return fmt.Errorf("%s credits: %w", kind, err)
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		return nil
	}
	return err
}

// Balance implements store.Ledger
func (s *Store) Balance(ctx context.Context, owner string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE owner_id = $1`, owner).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Create implements store.JobStore
func (s *Store) Create(ctx context.Context, job *model.BatchJob) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	now := s.now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, owner_id, status, target_format, sources, total_segments, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		job.ID, job.OwnerID, string(job.Status), job.TargetFormat, sources, job.TotalSegments, job.Error, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get implements store.JobStore
func (s *Store) Get(ctx context.Context, id string) (*model.BatchJob, error) {
	var (
		job     model.BatchJob
		status  string
		sources []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, status, target_format, sources, total_segments, error, created_at, updated_at
		 FROM batch_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.OwnerID, &status, &job.TargetFormat, &sources, &job.TotalSegments, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal(sources, &job.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT data FROM batch_results WHERE job_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BatchResult, error) {
		var (
			data []byte
			r    model.BatchResult
		)
		if err := row.Scan(&data); err != nil {
			return r, err
		}
		return r, json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	job.Results = results
	if job.Results == nil {
		job.Results = []model.BatchResult{}
	}

	store.Tally(&job)
	return &job, nil
}

// Update implements store.JobStore
func (s *Store) Update(ctx context.Context, job *model.BatchJob) error {
	job.UpdatedAt = s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = $1, total_segments = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(job.Status), job.TotalSegments, job.Error, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

// Claim implements store.JobStore
func (s *Store) Claim(ctx context.Context, id string) (*model.BatchJob, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.JobStatusProcessing), s.now(), id, string(model.JobStatusPending))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, model.ErrJobNotClaimable
	}
	return s.Get(ctx, id)
}

// SaveResult implements store.JobStore
func (s *Store) SaveResult(ctx context.Context, jobID string, result model.BatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO batch_results (job_id, idx, data) VALUES ($1, $2, $3)
			 ON CONFLICT (job_id, idx) DO UPDATE SET data = EXCLUDED.data`,
			jobID, result.Index, data); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		_, err := tx.Exec(ctx, `UPDATE batch_jobs SET updated_at = $1 WHERE id = $2`, s.now(), jobID)
		return err
	})
}

// ListStalePending implements store.JobStore
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return s.listStale(ctx, model.JobStatusPending, olderThan)
}

// ListStaleProcessing implements store.JobStore
func (s *Store) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return s.listStale(ctx, model.JobStatusProcessing, olderThan)
}

func (s *Store) listStale(ctx context.Context, status model.JobStatus, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM batch_jobs WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`,
		string(status), s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale %s jobs: %w", status, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SaveDraft implements store.DraftStore
func (s *Store) SaveDraft(ctx context.Context, draft *store.Draft) error {
	inv, err := json.Marshal(draft.Invoice)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	draft.CreatedAt = s.now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_drafts (id, owner_id, job_id, idx, invoice, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		draft.ID, draft.OwnerID, draft.JobID, draft.Index, inv, draft.Confidence, draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// GetDraft implements store.DraftStore
func (s *Store) GetDraft(ctx context.Context, id string) (*store.Draft, error) {
	var (
		draft store.Draft
		inv   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, job_id, idx, invoice, confidence, created_at FROM extraction_drafts WHERE id = $1`, id).
		Scan(&draft.ID, &draft.OwnerID, &draft.JobID, &draft.Index, &inv, &draft.Confidence, &draft.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("read draft %s: %w", id, err)
	}
	if err := json.Unmarshal(inv, &draft.Invoice); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &draft, nil
}

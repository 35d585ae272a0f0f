// Package sqlite implements the store contracts on SQLite for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	owner_id   TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS credit_entries (
	idempotency_key TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	amount          INTEGER NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_jobs (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	status         TEXT NOT NULL,
	target_format  TEXT NOT NULL DEFAULT '',
	sources        TEXT NOT NULL,
	total_segments INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS batch_jobs_status_updated ON batch_jobs (status, updated_at);
CREATE TABLE IF NOT EXISTS batch_results (
	job_id TEXT NOT NULL REFERENCES batch_jobs (id),
	idx    INTEGER NOT NULL,
	data   TEXT NOT NULL,
	PRIMARY KEY (job_id, idx)
);
CREATE TABLE IF NOT EXISTS extraction_drafts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	invoice    TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Config holds database configuration
type Config struct {
	// Path is a file path, or ":memory:" for a private in-memory database
	Path string
}

// DB is the SQLite-backed ledger, job store and draft store
type DB struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the store
type Option func(*DB)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithClock overrides the clock used for timestamps and staleness
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

var (
	_ store.Ledger     = (*DB)(nil)
	_ store.JobStore   = (*DB)(nil)
	_ store.DraftStore = (*DB)(nil)
)

// Open opens the database and applies the schema. A single connection
// serialises writers, which keeps the ledger's conditional updates atomic.
func Open(cfg Config, opts ...Option) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", cfg.Path)
	if cfg.Path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	d := &DB{db: sqlDB, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.logger.Info("database connection established", zap.String("driver", "sqlite"), zap.String("path", cfg.Path))
	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// withTransaction executes fn within a transaction
func (d *DB) withTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DB) stamp() int64 {
	return d.now().UTC().UnixNano()
}

// errReplay aborts a transaction whose key was already recorded
var errReplay = errors.New("replayed idempotency key")

// recordEntry stores the idempotency key. A key already recorded for the same
// operation yields errReplay; one recorded for anything else is a conflict.
func (d *DB) recordEntry(ctx context.Context, tx *sql.Tx, owner, kind string, amount int, key string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_entries (idempotency_key, owner_id, kind, amount, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (idempotency_key) DO NOTHING`,
		key, owner, kind, amount, d.stamp())
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	recorded, err := scanEntry(tx.QueryRowContext(ctx, entryQuery, key))
	if err != nil {
		return err
	}
	if !recorded.Replays(owner, kind, amount) {
		return store.ConflictError(key, recorded)
	}
	return errReplay
}

const entryQuery = `SELECT idempotency_key, owner_id, kind, amount, created_at FROM credit_entries WHERE idempotency_key = ?`

func scanEntry(row *sql.Row) (*store.Entry, error) {
	var (
		e       store.Entry
		created int64
	)
	err := row.Scan(&e.Key, &e.OwnerID, &e.Kind, &e.Amount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return &e, nil
}

// Entry implements store.Ledger
func (d *DB) Entry(ctx context.Context, key string) (*store.Entry, error) {
	return scanEntry(d.db.QueryRowContext(ctx, entryQuery, key))
}

// Deduct implements store.Ledger
func (d *DB) Deduct(ctx context.Context, owner string, amount int, key string) (bool, error) {
	if err := store.CheckMutation(owner, amount, key); err != nil {
		return false, err
	}

	ok := false
	err := d.withTransaction(ctx, func(tx *sql.Tx) error {
		if err := d.recordEntry(ctx, tx, owner, store.KindDeduct, amount, key); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET balance = balance - ?, updated_at = ?
			 WHERE owner_id = ? AND balance >= ?`,
			amount, d.stamp(), owner, amount)
		if err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrCreditInsufficient
		}
		ok = true
		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		d.logger.Debug("replayed deduction", zap.String("owner", owner), zap.String("key", key))
		return true, nil
	case errors.Is(err, model.ErrCreditInsufficient):
		return false, nil
	case err != nil:
		return false, err
	}
	return ok, nil
}

// Refund implements store.Ledger
func (d *DB) Refund(ctx context.Context, owner string, amount int, key string) error {
	return d.credit(ctx, owner, amount, key, store.KindRefund)
}

// Grant implements store.Ledger
func (d *DB) Grant(ctx context.Context, owner string, amount int, key string) error {
	return d.credit(ctx, owner, amount, key, store.KindGrant)
}

func (d *DB) credit(ctx context.Context, owner string, amount int, key, kind string) error {
	if err := store.CheckMutation(owner, amount, key); err != nil {
		return err
	}

	err := d.withTransaction(ctx, func(tx *sql.Tx) error {
		if err := d.recordEntry(ctx, tx, owner, kind, amount, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO credit_accounts (owner_id, balance, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (owner_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
			owner, amount, d.stamp())
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
func (d *DB) Balance(ctx context.Context, owner string) (int, error) {
	var balance int
	err := d.db.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE owner_id = ?`, owner).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Create implements store.JobStore
func (d *DB) Create(ctx context.Context, job *model.BatchJob) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	now := d.now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, owner_id, status, target_format, sources, total_segments, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.Status, job.TargetFormat, string(sources), job.TotalSegments, job.Error,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get implements store.JobStore
func (d *DB) Get(ctx context.Context, id string) (*model.BatchJob, error) {
	var (
		job              model.BatchJob
		sources          string
		created, updated int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, status, target_format, sources, total_segments, error, created_at, updated_at
		 FROM batch_jobs WHERE id = ?`, id).
		Scan(&job.ID, &job.OwnerID, &job.Status, &job.TargetFormat, &sources, &job.TotalSegments, &job.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &job.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()

	rows, err := d.db.QueryContext(ctx, `SELECT data FROM batch_results WHERE job_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	defer rows.Close()

	job.Results = []model.BatchResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r model.BatchResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Results = append(job.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	store.Tally(&job)
	return &job, nil
}

// Update implements store.JobStore
func (d *DB) Update(ctx context.Context, job *model.BatchJob) error {
	job.UpdatedAt = d.now().UTC()
	res, err := d.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, total_segments = ?, error = ?, updated_at = ? WHERE id = ?`,
		job.Status, job.TotalSegments, job.Error, job.UpdatedAt.UnixNano(), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

// Claim implements store.JobStore
func (d *DB) Claim(ctx context.Context, id string) (*model.BatchJob, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.JobStatusProcessing, d.stamp(), id, model.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, model.ErrJobNotClaimable
	}
	return d.Get(ctx, id)
}

// SaveResult implements store.JobStore
func (d *DB) SaveResult(ctx context.Context, jobID string, result model.BatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return d.withTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_results (job_id, idx, data) VALUES (?, ?, ?)
			 ON CONFLICT (job_id, idx) DO UPDATE SET data = excluded.data`,
			jobID, result.Index, string(data)); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		_, err := tx.ExecContext(ctx, `UPDATE batch_jobs SET updated_at = ? WHERE id = ?`, d.stamp(), jobID)
		return err
	})
}

// ListStalePending implements store.JobStore
func (d *DB) ListStalePending(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return d.listStale(ctx, model.JobStatusPending, olderThan)
}

// ListStaleProcessing implements store.JobStore
func (d *DB) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return d.listStale(ctx, model.JobStatusProcessing, olderThan)
}

func (d *DB) listStale(ctx context.Context, status model.JobStatus, olderThan time.Duration) ([]string, error) {
	cutoff := d.now().UTC().Add(-olderThan).UnixNano()
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM batch_jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale %s jobs: %w", status, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveDraft implements store.DraftStore
func (d *DB) SaveDraft(ctx context.Context, draft *store.Draft) error {
	inv, err := json.Marshal(draft.Invoice)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	draft.CreatedAt = d.now().UTC()
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO extraction_drafts (id, owner_id, job_id, idx, invoice, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.OwnerID, draft.JobID, draft.Index, string(inv), draft.Confidence, draft.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// GetDraft implements store.DraftStore
func (d *DB) GetDraft(ctx context.Context, id string) (*store.Draft, error) {
	var (
		draft   store.Draft
		inv     string
		created int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, job_id, idx, invoice, confidence, created_at FROM extraction_drafts WHERE id = ?`, id).
		Scan(&draft.ID, &draft.OwnerID, &draft.JobID, &draft.Index, &inv, &draft.Confidence, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	if err := json.Unmarshal([]byte(inv), &draft.Invoice); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	draft.CreatedAt = time.Unix(0, created).UTC()
	return &draft, nil
}

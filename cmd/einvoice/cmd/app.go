package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/llm"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/queue"
	"github.com/rezonia/einvoice-engine/internal/storage"
	"github.com/rezonia/einvoice-engine/internal/store"
	"github.com/rezonia/einvoice-engine/internal/store/postgres"
	"github.com/rezonia/einvoice-engine/internal/store/sqlite"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

// backend is the ledger, job store and draft store in one database
type backend interface {
	store.Ledger
	store.JobStore
	store.DraftStore
}

func openBackend(ctx context.Context) (backend, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		pg := postgres.New(pool, postgres.WithLogger(log))
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		printVerbose("Using postgres store\n")
		return pg, pg.Close, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.Open(sqlite.Config{Path: cfg.Database.Path}, sqlite.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		printVerbose("Using sqlite store at %s\n", cfg.Database.Path)
		return db, func() { _ = db.Close() }, nil
	}
}

func openBlobs(ctx context.Context) (storage.Store, error) {
	if cfg.Storage.Driver != "minio" {
		return storage.NewLocal(cfg.Storage.LocalDir, log), nil
	}
	blobs, err := storage.NewMinio(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return blobs, nil
}

func newRegistry(metrics *observability.Metrics) *format.Registry {
	opts := []format.Option{format.WithLogger(log)}
	if metrics != nil {
		opts = append(opts, format.WithMetrics(metrics))
	}
	if cfg.Validator.Enabled {
		opts = append(opts, format.WithExternal(external.New(cfg.Validator, external.WithLogger(log))))
	}
	return format.NewRegistry(opts...)
}

func newExtractor() (*llm.Extractor, error) {
	if cfg.LLM.APIKey == "" {
		return nil, errors.New("an LLM API key is required (set EINVOICE_LLM_API_KEY)")
	}
	client := llm.NewClient(cfg.LLM.APIKey,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithDefaultModel(cfg.LLM.Model),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	return llm.NewExtractor(client, llm.WithLogger(log)), nil
}

func redisOpt() asynq.RedisClientOpt {
	return queue.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

func newRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// readInvoice decodes canonical invoice JSON from a file, or stdin for "-"
func readInvoice(path string) (*model.Invoice, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var inv model.Invoice
	if err := json.NewDecoder(r).Decode(&inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice %s: %w", path, err)
	}
	return &inv, nil
}

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

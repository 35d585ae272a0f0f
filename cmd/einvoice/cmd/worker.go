package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/pdf"
	"github.com/rezonia/einvoice-engine/internal/queue"
	"github.com/rezonia/einvoice-engine/internal/ratelimit"
)

var (
	workerConcurrency int
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued batch jobs",
	Long: `Run the asynq worker that claims submitted batch jobs, extracts every
segment with the LLM provider and generates the target format.

The worker also schedules the recovery sweep that re-enqueues jobs left
pending after a lost enqueue.`,
	Annotations: map[string]string{annotationService: "true"},
	Args:        cobra.NoArgs,
	RunE:        runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 2, "Number of batch jobs processed at once")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	extractor, err := newExtractor()
	if err != nil {
		return err
	}

	db, closeDB, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeDB()

	blobs, err := openBlobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	metrics := observability.NewMetrics()
	opts := []batch.Option{
		batch.WithConfig(batch.Config{
			Concurrency: cfg.Batch.Concurrency,
			MaxAttempts: cfg.Batch.MaxAttempts,
			BackoffBase: cfg.Batch.BackoffBase,
			BackoffMax:  cfg.Batch.BackoffMax,
		}),
		batch.WithGenerators(newRegistry(metrics)),
		batch.WithMetrics(metrics),
		batch.WithLogger(log),
	}
	if cfg.Batch.ProviderRatePerMinute > 0 {
		rdb := newRedis()
		defer rdb.Close()
		opts = append(opts, batch.WithLimiter(ratelimit.PerMinute(rdb, cfg.Batch.ProviderRatePerMinute, ratelimit.WithLogger(log))))
	}

	orchestrator := batch.NewOrchestrator(batch.Deps{
		Jobs:      db,
		Drafts:    db,
		Ledger:    db,
		Blobs:     blobs,
		Extractor: extractor,
		Pages:     pdf.NewTextReader(log),
	}, opts...)

	client := queue.NewClient(redisOpt(), log)
	defer client.Close()
	recoverer := batch.NewRecoverer(db, db, client, cfg.Batch.StaleAfter, cfg.Batch.AbandonAfter, log)

	worker, err := queue.NewWorker(queue.WorkerConfig{
		RedisOpt:    redisOpt(),
		Concurrency: workerConcurrency,
		Logger:      log,
		Handlers: []queue.TaskHandler{
			{Type: queue.TaskBatchProcess, Handler: queue.HandleBatchProcess(orchestrator, log)},
			{Type: queue.TaskBatchRecover, Handler: queue.HandleRecover(recoverer, log)},
		},
		Cron: []queue.CronRegistration{
			{Spec: cfg.Batch.RecoverySchedule, Task: queue.NewRecoverTask()},
		},
	})
	if err != nil {
		return err
	}

	if workerMetricsAddr != "" {
		go serveMetrics(workerMetricsAddr, metrics)
	}

	log.Info("starting einvoice worker",
		zap.Int("concurrency", workerConcurrency),
		zap.Int("segment_concurrency", cfg.Batch.Concurrency),
		zap.String("recovery_schedule", cfg.Batch.RecoverySchedule),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

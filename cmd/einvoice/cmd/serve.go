package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/queue"
	"github.com/rezonia/einvoice-engine/internal/report"
	"github.com/rezonia/einvoice-engine/internal/server"
)

var (
	serverAddr  string
	serverDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the REST API for generation, validation, batch submission
and credit management.

Endpoints:
  GET  /health                      Health check
  GET  /metrics                     Prometheus metrics
  GET  /api/v1/formats              List formats
  POST /api/v1/generate/:format     Generate an e-invoice
  POST /api/v1/validate/:format     Validate without generating
  POST /api/v1/inspect              Read a generated document back
  POST /api/v1/batch                Submit scanned documents
  GET  /api/v1/batch/:id            Batch job status
  GET  /api/v1/batch/:id/report     Batch results as XLSX
  GET  /api/v1/credits/:owner       Credit balance
  POST /api/v1/credits/:owner       Grant credits

Batch jobs are processed by 'einvoice worker'.`,
	Annotations: map[string]string{annotationService: "true"},
	Args:        cobra.NoArgs,
	RunE:        runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serverAddr, "addr", "a", "", "Server address (default from config)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if serverAddr == "" {
		serverAddr = cfg.Server.Addr()
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

	client := queue.NewClient(redisOpt(), log)
	defer client.Close()

	metrics := observability.NewMetrics()
	srv := server.NewServer(&server.Config{
		Address:        serverAddr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Debug:          serverDebug,
	}, server.Deps{
		Formats: newRegistry(metrics),
		Batches: batch.NewService(db, blobs, client, log),
		Ledger:  db,
		Reports: report.NewExporter(db, log),
		Metrics: metrics,
		Logger:  log,
	})

	log.Info("starting einvoice server",
		zap.String("address", serverAddr),
		zap.String("version", version),
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Driver),
	)
	return srv.Run(ctx)
}

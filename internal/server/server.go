package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/report"
	"github.com/rezonia/einvoice-engine/internal/store"
	"github.com/rezonia/einvoice-engine/internal/tax"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Config holds server configuration
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
	Debug          bool
}

// Deps are the engine components the API exposes. Batch and credit routes
// answer 503 when their component is nil.
type Deps struct {
	Formats *format.Registry
	Batches *batch.Service
	Ledger  store.Ledger
	Reports *report.Exporter
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	router  *gin.Engine
	formats *format.Registry
	batches *batch.Service
	ledger  store.Ledger
	reports *report.Exporter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewServer creates a new API server
func NewServer(config *Config, deps Deps) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	formats := deps.Formats
	if formats == nil {
		formats = format.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  config,
		router:  router,
		formats: formats,
		batches: deps.Batches,
		ledger:  deps.Ledger,
		reports: deps.Reports,
		metrics: deps.Metrics,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/formats", s.handleFormats)
		v1.POST("/generate/:format", s.handleGenerate)
		v1.POST("/validate/:format", s.handleValidate)
		v1.POST("/inspect", s.handleInspect)

		v1.POST("/batch", s.handleSubmitBatch)
		v1.GET("/batch/:id", s.handleBatchStatus)
		v1.GET("/batch/:id/report", s.handleBatchReport)

		v1.GET("/credits/:owner", s.handleBalance)
		v1.POST("/credits/:owner", s.handleGrant)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("address", s.config.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFormats(c *gin.Context) {
	c.JSON(http.StatusOK, FormatsResponse{Formats: s.formats.Formats()})
}

func (s *Server) handleGenerate(c *gin.Context) {
	id := model.FormatID(c.Param("format"))
	gen, err := s.formats.Create(id)
	if err != nil {
		s.abort(c, err)
		return
	}

	inv, ok := bindInvoice(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	out, err := gen.Generate(ctx, inv)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleValidate(c *gin.Context) {
	inv, ok := bindInvoice(c)
	if !ok {
		return
	}

	result, err := s.formats.Validate(model.FormatID(c.Param("format")), inv)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, validationResponse(result))
}

func (s *Server) handleInspect(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	summary, err := format.Inspect(body)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleSubmitBatch(c *gin.Context) {
	if s.batches == nil {
		unavailable(c, "batch processing")
		return
	}
	if s.config.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid multipart form", Details: err.Error()})
		return
	}
	owner := c.PostForm("owner")

	uploads, err := readUploads(form.File["files"])
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read upload", Details: err.Error()})
		return
	}

	ctx := c.Request.Context()

	// every document costs at least one credit
	if s.ledger != nil && owner != "" && len(uploads) > 0 {
		balance, err := s.ledger.Balance(ctx, owner)
		if err != nil {
			s.abort(c, err)
			return
		}
		if balance < len(uploads) {
			s.abort(c, fmt.Errorf("%w: %d documents, balance %d", model.ErrCreditInsufficient, len(uploads), balance))
			return
		}
	}

	job, err := s.batches.Submit(ctx, owner, uploads, c.PostForm("format"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	if s.batches == nil {
		unavailable(c, "batch processing")
		return
	}

	job, err := s.batches.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleBatchReport(c *gin.Context) {
	if s.batches == nil || s.reports == nil {
		unavailable(c, "batch reports")
		return
	}

	ctx := c.Request.Context()
	job, err := s.batches.Status(ctx, c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}

	var buf bytes.Buffer
	if err := s.reports.Write(ctx, job, &buf); err != nil {
		s.abort(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.xlsx"`, job.ID))
	c.Data(http.StatusOK, mimeXLSX, buf.Bytes())
}

func (s *Server) handleBalance(c *gin.Context) {
	if s.ledger == nil {
		unavailable(c, "credits")
		return
	}

	owner := c.Param("owner")
	balance, err := s.ledger.Balance(c.Request.Context(), owner)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, CreditsResponse{Owner: owner, Balance: balance})
}

func (s *Server) handleGrant(c *gin.Context) {
	if s.ledger == nil {
		unavailable(c, "credits")
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid grant request", Details: err.Error()})
		return
	}

	ctx := c.Request.Context()
	owner := c.Param("owner")
	if err := s.ledger.Grant(ctx, owner, req.Amount, req.Key); err != nil {
		s.abort(c, err)
		return
	}

	balance, err := s.ledger.Balance(ctx, owner)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.logger.Info("credits granted", zap.String("owner", owner), zap.Int("amount", req.Amount), zap.String("key", req.Key))
	c.JSON(http.StatusOK, CreditsResponse{Owner: owner, Balance: balance})
}

// abort writes the error with the status its type maps to
func (s *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var blocked *model.BlockingValidationError
	if errors.As(err, &blocked) {
		resp = ErrorResponse{Error: "validation failed", Details: err.Error(), Rules: blocked.RuleIDs}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, resp)
}

func statusFor(err error) int {
	var (
		blocked     *model.BlockingValidationError
		unsupported *model.UnsupportedFormatError
		parseErr    *model.ParseError
	)
	switch {
	case errors.As(err, &blocked), errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unsupported), errors.Is(err, model.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrCreditInsufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, batch.ErrOwnerRequired), errors.Is(err, batch.ErrNoSources),
		errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrKeyRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: what + " not configured"})
}

// Helper functions

// bindInvoice decodes the JSON invoice body. ?compute=true fills totals from the lines.
func bindInvoice(c *gin.Context) (*model.Invoice, bool) {
	var inv model.Invoice
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice JSON", Details: err.Error()})
		return nil, false
	}
	if c.Query("compute") == "true" {
		tax.Compute(&inv)
	}
	return &inv, true
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return nil, false
	}
	return body, true
}

func readUploads(files []*multipart.FileHeader) ([]batch.Upload, error) {
	uploads := make([]batch.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		uploads = append(uploads, batch.Upload{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  data,
		})
	}
	return uploads, nil
}

func validationResponse(r *validation.Report) ValidationResponse {
	return ValidationResponse{
		Valid:    !r.HasErrors(),
		Status:   r.Status(),
		Errors:   r.Errors,
		Warnings: r.Warnings,
	}
}

package einvoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/llm"
	"github.com/rezonia/einvoice-engine/internal/tax"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

// ErrExtractionDisabled is returned by Extract when no LLM key is configured
var ErrExtractionDisabled = errors.New("extraction disabled: no LLM API key configured")

// Options configures an Engine
type Options struct {
	// LLM configuration; extraction is disabled without an API key
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// ReviewThreshold flags extractions below this confidence (default: 0.70)
	ReviewThreshold float64

	// Concurrency bounds ExtractAll (default: 3)
	Concurrency int

	// External validator (KoSIT-style CLI); disabled by default
	External ExternalConfig

	Logger *zap.Logger
}

// DefaultOptions returns default engine options
func DefaultOptions() Options {
	return Options{
		LLMBaseURL:      llm.DefaultBaseURL,
		LLMModel:        llm.ModelClaude35Sonnet,
		ReviewThreshold: 0.70,
		Concurrency:     3,
	}
}

// Document is one input to ExtractAll
type Document struct {
	Filename string
	Content  []byte
}

// ExtractionResult is an extraction with review metadata
type ExtractionResult struct {
	Invoice     *Invoice
	Confidence  float64
	MimeType    string
	NeedsReview bool
}

// Engine generates, validates and reads back e-invoices
type Engine struct {
	registry  *format.Registry
	extractor *llm.Extractor
	options   Options
}

// New creates an engine with the given options
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var regOpts []format.Option
	regOpts = append(regOpts, format.WithLogger(logger))
	if opts.External.Enabled {
		regOpts = append(regOpts, format.WithExternal(external.New(opts.External, external.WithLogger(logger))))
	}

	var extractor *llm.Extractor
	if opts.LLMAPIKey != "" {
		var clientOpts []llm.ClientOption
		if opts.LLMBaseURL != "" {
			clientOpts = append(clientOpts, llm.WithBaseURL(opts.LLMBaseURL))
		}
		if opts.LLMModel != "" {
			clientOpts = append(clientOpts, llm.WithDefaultModel(opts.LLMModel))
		}
		extractor = llm.NewExtractor(llm.NewClient(opts.LLMAPIKey, clientOpts...), llm.WithLogger(logger))
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}

	return &Engine{
		registry:  format.NewRegistry(regOpts...),
		extractor: extractor,
		options:   opts,
	}
}

// NewDefault creates an engine with default options
func NewDefault() *Engine {
	return New(DefaultOptions())
}

// Formats describes every supported output format
func (e *Engine) Formats() []FormatInfo {
	return e.registry.Formats()
}

// Generate validates inv against the format profile and serialises it. A
// blocking finding returns *BlockingValidationError and no output.
func (e *Engine) Generate(ctx context.Context, id FormatID, inv *Invoice) (*Output, error) {
	gen, err := e.registry.Create(id)
	if err != nil {
		return nil, err
	}
	return gen.Generate(ctx, inv)
}

// Validate runs every validation tier for the format without generating
func (e *Engine) Validate(id FormatID, inv *Invoice) (*Report, error) {
	return e.registry.Validate(id, inv)
}

// Compute fills line totals and replaces the invoice totals with the values
// derived from its tax categories
func (e *Engine) Compute(inv *Invoice) {
	tax.Compute(inv)
}

// Inspect reads a produced XML document, or the XML inside a Factur-X PDF
func (e *Engine) Inspect(r io.Reader) (*Summary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Syntax: "unknown", Message: "failed to read input", Cause: err}
	}
	return format.Inspect(data)
}

// Extract turns a scanned or digital document into a canonical invoice
func (e *Engine) Extract(ctx context.Context, filename string, r io.Reader) (*ExtractionResult, error) {
	if e.extractor == nil {
		return nil, ErrExtractionDisabled
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Syntax: "unknown", Message: "failed to read input", Cause: err}
	}

	mimeType := batch.DetectMimeType(data, "")
	ext, err := e.extractor.ExtractFromFile(ctx, data, filepath.Base(filename), mimeType)
	if err != nil {
		return nil, err
	}

	return &ExtractionResult{
		Invoice:     ext.Invoice,
		Confidence:  ext.Confidence,
		MimeType:    mimeType,
		NeedsReview: ext.Confidence < e.options.ReviewThreshold,
	}, nil
}

// ExtractAll extracts documents concurrently. Results keep input order; a
// failed document leaves a nil entry and the first error is returned.
func (e *Engine) ExtractAll(ctx context.Context, docs []Document) ([]*ExtractionResult, error) {
	results := make([]*ExtractionResult, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(e.options.Concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := e.Extract(ctx, doc.Filename, bytes.NewReader(doc.Content))
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", doc.Filename, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Package format turns a canonical invoice into one of the supported EU
// e-invoice syntaxes. Generators are looked up through an explicitly
// constructed Registry; each one validates its profile before writing XML.
package format

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/validation"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

// Generator produces one output format
type Generator interface {
	FormatID() model.FormatID
	FormatName() string
	Generate(ctx context.Context, inv *model.Invoice) (*Output, error)
}

// Output is the result of a successful generation
type Output struct {
	XMLContent         string               `json:"xmlContent"`
	FileName           string               `json:"fileName"`
	FileSize           int                  `json:"fileSize"`
	PDFContent         []byte               `json:"pdfContent,omitempty"`
	ValidationStatus   validation.Status    `json:"validationStatus"`
	ValidationErrors   []validation.Finding `json:"validationErrors"`
	ValidationWarnings []validation.Finding `json:"validationWarnings"`
	External           *external.Result     `json:"external,omitempty"`
}

// Info describes a registered format
type Info struct {
	ID     model.FormatID `json:"id"`
	Name   string         `json:"name"`
	Syntax string         `json:"syntax"`
	Hybrid bool           `json:"hybrid"`
}

// Registry maps format ids to generators. It is built once and shared by reference.
type Registry struct {
	profiles map[model.FormatID]profile

	pipeline *validation.Pipeline
	external *external.Validator
	metrics  *observability.Metrics
	clock    func() time.Time
	logger   *zap.Logger
}

// Option configures the registry
type Option func(*Registry)

// WithPipeline sets the validation pipeline shared by every generator
func WithPipeline(p *validation.Pipeline) Option {
	return func(r *Registry) {
		r.pipeline = p
	}
}

// WithExternal attaches the optional external validator
func WithExternal(v *external.Validator) Option {
	return func(r *Registry) {
		r.external = v
	}
}

// WithMetrics records generation outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides the clock used for creation timestamps (KSeF)
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry holding every supported format
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		profiles: make(map[model.FormatID]profile),
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pipeline == nil {
		r.pipeline = validation.NewPipeline()
	}

	for _, p := range profiles() {
		r.profiles[p.id] = p
	}
	return r
}

// Create returns the generator for a format id
func (r *Registry) Create(id model.FormatID) (Generator, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, &model.UnsupportedFormatError{FormatID: string(id)}
	}
	return &generator{profile: p, registry: r}, nil
}

// AvailableFormats returns every registered format id, sorted
func (r *Registry) AvailableFormats() []model.FormatID {
	ids := make([]model.FormatID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Formats describes every registered format in id order
func (r *Registry) Formats() []Info {
	ids := r.AvailableFormats()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		p := r.profiles[id]
		out = append(out, Info{ID: p.id, Name: p.name, Syntax: p.syntax, Hybrid: p.conformance != ""})
	}
	return out
}

// Validate runs the validation pipeline for a format without generating
func (r *Registry) Validate(id model.FormatID, inv *model.Invoice) (*validation.Report, error) {
	if _, ok := r.profiles[id]; !ok {
		return nil, &model.UnsupportedFormatError{FormatID: string(id)}
	}
	return r.pipeline.Validate(id, inv), nil
}

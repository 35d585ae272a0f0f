// Package external runs an optional command-line validator (KoSIT style) against
// generated XML. Its findings are advisory and never block generation.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// Config for the external validator
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Executable string        `mapstructure:"executable"`
	Scenarios  string        `mapstructure:"scenarios"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// TempDir is the parent of the per-run scratch directory; empty means os.TempDir
	TempDir string `mapstructure:"temp_dir"`
}

// Result of one external validation run
type Result struct {
	Ran      bool                 `json:"ran"`
	Error    string               `json:"error,omitempty"`
	Errors   []validation.Finding `json:"errors,omitempty"`
	Warnings []validation.Finding `json:"warnings,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// Findings returns errors followed by warnings
func (r *Result) Findings() []validation.Finding {
	out := make([]validation.Finding, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Validator invokes the configured executable
type Validator struct {
	cfg    Config
	logger *zap.Logger
}

// Option configures the validator
type Option func(*Validator)

// WithLogger sets the logger used for unavailable-validator diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New creates a validator from config
func New(cfg Config, opts ...Option) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	v := &Validator{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether the feature flag is on
func (v *Validator) Enabled() bool {
	return v.cfg.Enabled
}

// Validate runs `<executable> --scenarios <file> --input <xml>` and parses the
// SVRL report printed on stdout. It never returns an error: every failure mode
// degrades to Result{Ran: false}.
func (v *Validator) Validate(ctx context.Context, format model.FormatID, xmlContent []byte) *Result {
	start := time.Now()

	if err := v.check(); err != nil {
		return v.unavailable(format, err, start)
	}

	dir, err := os.MkdirTemp(v.cfg.TempDir, "einvoice-validate-*")
	if err != nil {
		return v.unavailable(format, &model.ExternalValidatorUnavailable{Reason: "cannot create temp dir", Cause: err}, start)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "invoice.xml")
	if err := os.WriteFile(input, xmlContent, 0o600); err != nil {
		return v.unavailable(format, &model.ExternalValidatorUnavailable{Reason: "cannot write input", Cause: err}, start)
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.cfg.Executable, "--scenarios", v.cfg.Scenarios, "--input", input)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		reason := "validator exited with error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("validator timed out after %s", v.cfg.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			reason = reason + ": " + msg
		}
		return v.unavailable(format, &model.ExternalValidatorUnavailable{Reason: reason, Cause: err}, start)
	}

	findings, err := ParseSVRL(stdout.Bytes())
	if err != nil {
		return v.unavailable(format, &model.ExternalValidatorUnavailable{Reason: "unreadable validator report", Cause: err}, start)
	}

	result := &Result{Ran: true, Duration: time.Since(start)}
	for _, f := range findings {
		if f.Severity == validation.SeverityError {
			result.Errors = append(result.Errors, f)
		} else {
			result.Warnings = append(result.Warnings, f)
		}
	}

	v.logger.Debug("external validation finished",
		zap.String("format", string(format)),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (v *Validator) check() error {
	if !v.cfg.Enabled {
		return &model.ExternalValidatorUnavailable{Reason: "external validation disabled"}
	}
	if v.cfg.Executable == "" {
		return &model.ExternalValidatorUnavailable{Reason: "no executable configured"}
	}
	if _, err := exec.LookPath(v.cfg.Executable); err != nil {
		return &model.ExternalValidatorUnavailable{Reason: fmt.Sprintf("executable %s not found", v.cfg.Executable), Cause: err}
	}
	if _, err := os.Stat(v.cfg.Scenarios); err != nil {
		return &model.ExternalValidatorUnavailable{Reason: fmt.Sprintf("scenarios file %s not found", v.cfg.Scenarios), Cause: err}
	}
	return nil
}

func (v *Validator) unavailable(format model.FormatID, err error, start time.Time) *Result {
	if v.cfg.Enabled {
		v.logger.Warn("external validator unavailable",
			zap.String("format", string(format)),
			zap.Error(err),
		)
	}
	return &Result{Ran: false, Error: err.Error(), Duration: time.Since(start)}
}

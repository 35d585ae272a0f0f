package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCreditInsufficient blocks a batch before any side effect
var ErrCreditInsufficient = errors.New("insufficient credits")

// ErrJobNotFound is returned by job stores for unknown ids
var ErrJobNotFound = errors.New("batch job not found")

// ErrJobNotClaimable is returned when a job is not pending (or not stale)
var ErrJobNotClaimable = errors.New("batch job not claimable")

// SchemaError represents malformed or missing input
type SchemaError struct {
	RuleID  string
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.RuleID, e.Message)
}

// NewSchemaError creates a new schema error
func NewSchemaError(ruleID, field, message string) *SchemaError {
	return &SchemaError{RuleID: ruleID, Field: field, Message: message}
}

// BusinessRuleError represents an EN 16931 or national rule violation
type BusinessRuleError struct {
	RuleID  string
	Field   string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.RuleID, e.Message)
}

// NewBusinessRuleError creates a new business rule error
func NewBusinessRuleError(ruleID, field, message string) *BusinessRuleError {
	return &BusinessRuleError{RuleID: ruleID, Field: field, Message: message}
}

// BlockingValidationError aggregates every error-severity finding of a validation run.
// Generation returns it instead of emitting XML.
type BlockingValidationError struct {
	Format  string
	RuleIDs []string
	Errors  []error
}

func (e *BlockingValidationError) Error() string {
	return fmt.Sprintf("%s: invoice failed validation with %d error(s): %s",
		e.Format, len(e.RuleIDs), strings.Join(e.RuleIDs, ", "))
}

// Unwrap exposes the individual rule errors to errors.As
func (e *BlockingValidationError) Unwrap() []error {
	return e.Errors
}

// HasRule reports whether ruleID is among the blocking findings
func (e *BlockingValidationError) HasRule(ruleID string) bool {
	for _, id := range e.RuleIDs {
		if id == ruleID {
			return true
		}
	}
	return false
}

// ExternalValidatorUnavailable is logged when the external validator cannot run
type ExternalValidatorUnavailable struct {
	Reason string
	Cause  error
}

func (e *ExternalValidatorUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("external validator unavailable: %s (%v)", e.Reason, e.Cause)
	}
	return fmt.Sprintf("external validator unavailable: %s", e.Reason)
}

func (e *ExternalValidatorUnavailable) Unwrap() error {
	return e.Cause
}

// ExtractionError represents extraction failures
type ExtractionError struct {
	Method      string
	Message     string
	Retryable   bool
	RateLimited bool
	Cause       error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed [%s]: %s (%v)", e.Method, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction failed [%s]: %s", e.Method, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure may succeed on retry
func (e *ExtractionError) Transient() bool {
	return e.Retryable || e.RateLimited
}

// NewExtractionError creates a new non-retryable extraction error
func NewExtractionError(method, message string, cause error) *ExtractionError {
	return &ExtractionError{
		Method:  method,
		Message: message,
		Cause:   cause,
	}
}

// NewRetryableExtractionError creates a transient extraction error
func NewRetryableExtractionError(method, message string, rateLimited bool, cause error) *ExtractionError {
	return &ExtractionError{
		Method:      method,
		Message:     message,
		Retryable:   true,
		RateLimited: rateLimited,
		Cause:       cause,
	}
}

// IsTransient reports whether err carries a retryable extraction failure
func IsTransient(err error) bool {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Transient()
	}
	return false
}

// UnsupportedFormatError is returned by the generator registry for unknown format ids
type UnsupportedFormatError struct {
	FormatID string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %q", e.FormatID)
}

// ParseError represents read-back failures of generated documents
type ParseError struct {
	Syntax  string
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Syntax, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Syntax, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(syntax, field, message string, cause error) *ParseError {
	return &ParseError{
		Syntax:  syntax,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// Package einvoice provides a public API for producing and checking EU
// e-invoices.
//
// It exposes the canonical invoice model, the format registry with its
// validation pipeline and an optional LLM extractor for scanned documents.
//
// Example usage:
//
//	engine := einvoice.New(einvoice.DefaultOptions())
//	out, err := engine.Generate(ctx, einvoice.FormatXRechnungCII, inv)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.FileName)
package einvoice

import (
	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/validation"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

// Re-export core types for public API
type (
	Invoice          = model.Invoice
	LineItem         = model.LineItem
	Party            = model.Party
	Payment          = model.Payment
	Totals           = model.Totals
	AllowanceCharge  = model.AllowanceCharge
	TaxCategory      = model.TaxCategory
	DocumentTypeCode = model.DocumentTypeCode
	FormatID         = model.FormatID
	Extraction       = model.Extraction
)

// Re-export generation and validation results
type (
	Output     = format.Output
	FormatInfo = format.Info
	Summary    = format.Summary
	Report     = validation.Report
	Finding    = validation.Finding

	// ExternalConfig configures the optional external validator CLI
	ExternalConfig = external.Config
)

// Re-export format ids
const (
	FormatXRechnungCII   = model.FormatXRechnungCII
	FormatXRechnungUBL   = model.FormatXRechnungUBL
	FormatPeppolBIS      = model.FormatPeppolBIS
	FormatFacturXEN16931 = model.FormatFacturXEN16931
	FormatFacturXBasic   = model.FormatFacturXBasic
	FormatFatturaPA      = model.FormatFatturaPA
	FormatKSeF           = model.FormatKSeF
	FormatNLCIUS         = model.FormatNLCIUS
	FormatCIUSRO         = model.FormatCIUSRO
)

// Re-export error types
type (
	SchemaError                  = model.SchemaError
	BusinessRuleError            = model.BusinessRuleError
	BlockingValidationError      = model.BlockingValidationError
	ExternalValidatorUnavailable = model.ExternalValidatorUnavailable
	ExtractionError              = model.ExtractionError
	UnsupportedFormatError       = model.UnsupportedFormatError
	ParseError                   = model.ParseError
)

package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/model"
)

func TestInvoice_Creation(t *testing.T) {
	inv := model.Invoice{
		InvoiceNumber:    "RE-2024-001",
		InvoiceDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:         "EUR",
		DocumentTypeCode: model.DocumentTypeCommercial,
		Seller: model.Party{
			Name:        "Muster GmbH",
			CountryCode: "DE",
			VATID:       "DE123456789",
		},
		Buyer: model.Party{
			Name:        "Kunde AG",
			CountryCode: "DE",
		},
	}

	assert.Equal(t, "RE-2024-001", inv.InvoiceNumber)
	assert.Equal(t, "DE123456789", inv.Seller.VATID)
	assert.False(t, inv.IsCreditNote())
	assert.False(t, inv.Buyer.HasElectronicAddress())
}

func TestDocumentTypeCode_IsCreditNote(t *testing.T) {
	assert.True(t, model.DocumentTypeCreditNote.IsCreditNote())
	assert.False(t, model.DocumentTypeCommercial.IsCreditNote())
	assert.False(t, model.DocumentTypeCorrected.IsCreditNote())
}

func TestLineItem_Calculate(t *testing.T) {
	item := model.LineItem{
		Description: "Consulting",
		Quantity:    decimal.RequireFromString("2.5"),
		UnitPrice:   decimal.RequireFromString("99.99"),
		TaxRate:     model.Rate(19),
		TaxCategory: model.TaxCategoryStandard,
	}

	item.Calculate()

	// 2.5 * 99.99 = 249.975 -> 249.98
	assert.True(t, item.LineTotal.Equal(decimal.RequireFromString("249.98")),
		"Expected line total 249.98, got %s", item.LineTotal.String())
	assert.True(t, item.Rate().Equal(decimal.NewFromInt(19)))
}

func TestLineItem_Defaults(t *testing.T) {
	item := model.LineItem{Description: "Widget"}

	assert.Equal(t, "C62", item.EffectiveUnitCode())
	assert.Equal(t, "Widget", item.ItemName())
	assert.True(t, item.Rate().IsZero())

	item.Name = "W-1"
	item.UnitCode = "HUR"
	assert.Equal(t, "HUR", item.EffectiveUnitCode())
	assert.Equal(t, "W-1", item.ItemName())
}

func TestPayment_EffectiveMeansCode(t *testing.T) {
	assert.Equal(t, "58", model.Payment{}.EffectiveMeansCode())
	assert.Equal(t, "59", model.Payment{MeansCode: "59"}.EffectiveMeansCode())
}

func TestAllowanceCharge_SignedAmount(t *testing.T) {
	allowance := model.AllowanceCharge{Amount: decimal.NewFromInt(10)}
	charge := model.AllowanceCharge{ChargeIndicator: true, Amount: decimal.NewFromInt(5)}

	assert.True(t, allowance.SignedAmount().Equal(decimal.NewFromInt(-10)))
	assert.True(t, charge.SignedAmount().Equal(decimal.NewFromInt(5)))
}

func TestTotals_Effective(t *testing.T) {
	totals := model.Totals{
		Subtotal:       decimal.NewFromInt(1000),
		AllowanceTotal: decimal.NewFromInt(100),
		ChargeTotal:    decimal.NewFromInt(20),
		TotalAmount:    decimal.NewFromInt(1100),
		PrepaidAmount:  decimal.NewFromInt(100),
	}

	assert.True(t, totals.EffectiveTaxBasis().Equal(decimal.NewFromInt(920)))
	assert.True(t, totals.EffectiveAmountDue().Equal(decimal.NewFromInt(1000)))
}

func TestFinalStatus(t *testing.T) {
	tests := []struct {
		total, failed int
		expected      model.JobStatus
	}{
		{3, 0, model.JobStatusCompleted},
		{3, 1, model.JobStatusPartialSuccess},
		{3, 3, model.JobStatusFailed},
		{1, 1, model.JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.failed, tt.total), func(t *testing.T) {
			status := model.FinalStatus(tt.total, tt.failed)
			assert.Equal(t, tt.expected, status)
			assert.True(t, status.IsTerminal())
		})
	}

	assert.False(t, model.JobStatusPending.IsTerminal())
	assert.False(t, model.JobStatusProcessing.IsTerminal())
}

func TestParseError(t *testing.T) {
	err := &model.ParseError{
		Syntax:  "UBL",
		Field:   "cbc:ID",
		Message: "missing",
	}

	require.Contains(t, err.Error(), "UBL")
	require.Contains(t, err.Error(), "cbc:ID")
	require.Contains(t, err.Error(), "missing")
}

func TestParseError_WithCause(t *testing.T) {
	cause := assert.AnError
	err := model.NewParseError("CII", "document", "parse failed", cause)

	require.Contains(t, err.Error(), "CII")
	require.ErrorIs(t, err, cause)
}

func TestBlockingValidationError(t *testing.T) {
	err := &model.BlockingValidationError{
		Format:  "xrechnung-ubl",
		RuleIDs: []string{"BR-DE-23-a", "SCHEMA-001"},
		Errors: []error{
			model.NewBusinessRuleError("BR-DE-23-a", "payment.iban", "IBAN required"),
			model.NewSchemaError("SCHEMA-001", "invoice_number", "required"),
		},
	}

	assert.Contains(t, err.Error(), "xrechnung-ubl")
	assert.Contains(t, err.Error(), "BR-DE-23-a")
	assert.True(t, err.HasRule("SCHEMA-001"))
	assert.False(t, err.HasRule("BR-01"))

	var ruleErr *model.BusinessRuleError
	require.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, "BR-DE-23-a", ruleErr.RuleID)

	var schemaErr *model.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "invoice_number", schemaErr.Field)
}

func TestExtractionError_Transient(t *testing.T) {
	permanent := model.NewExtractionError("llm", "unreadable", nil)
	retryable := model.NewRetryableExtractionError("llm", "upstream 503", false, assert.AnError)
	limited := model.NewRetryableExtractionError("llm", "429", true, nil)

	assert.False(t, model.IsTransient(permanent))
	assert.True(t, model.IsTransient(retryable))
	assert.True(t, model.IsTransient(fmt.Errorf("segment 2: %w", limited)))
	assert.False(t, model.IsTransient(assert.AnError))
	require.ErrorIs(t, retryable, assert.AnError)
}

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("reserve 4 credits: %w", model.ErrCreditInsufficient)
	assert.ErrorIs(t, wrapped, model.ErrCreditInsufficient)

	unsupported := &model.UnsupportedFormatError{FormatID: "zugferd-1"}
	assert.Contains(t, unsupported.Error(), "zugferd-1")

	unavailable := &model.ExternalValidatorUnavailable{Reason: "executable missing", Cause: assert.AnError}
	assert.ErrorIs(t, unavailable, assert.AnError)
}

package validation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/model/modeltest"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

func TestPipeline_FixturesPassEveryProfile(t *testing.T) {
	p := validation.NewPipeline()

	for _, format := range model.AllFormats() {
		t.Run(string(format), func(t *testing.T) {
			report := p.Validate(format, modeltest.ForFormat(format))
			assert.False(t, report.HasErrors(), "unexpected errors: %+v", report.Errors)
			assert.NoError(t, report.Err())
		})
	}
}

func TestPipeline_NilInvoice(t *testing.T) {
	report := validation.NewPipeline().Validate(model.FormatPeppolBIS, nil)
	require.True(t, report.HasErrors())
	assert.Equal(t, validation.StatusInvalid, report.Status())
}

func TestPipeline_Supports(t *testing.T) {
	p := validation.NewPipeline()
	for _, format := range model.AllFormats() {
		assert.True(t, p.Supports(format), format)
	}
	assert.False(t, p.Supports("zugferd-1"))
}

func TestSchema_CollectsAllFindings(t *testing.T) {
	inv := modeltest.GermanInvoice()
	inv.InvoiceNumber = ""
	inv.Currency = "EURO"
	inv.Seller.Name = ""
	inv.Buyer.CountryCode = "XX"
	inv.Seller.Contact.Email = "not-an-email"

	report := validation.NewPipeline().Validate(model.FormatPeppolBIS, inv)

	for _, rule := range []string{"SCHEMA-001", "SCHEMA-003", "SCHEMA-006", "SCHEMA-009", "SCHEMA-010"} {
		assert.True(t, report.HasRule(rule), "expected %s", rule)
	}
}

func TestSchema_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		rule   string
	}{
		{"missing date", func(inv *model.Invoice) { inv.InvoiceDate = time.Time{} }, "SCHEMA-002"},
		{"bad type code", func(inv *model.Invoice) { inv.DocumentTypeCode = "999" }, "SCHEMA-004"},
		{"zero total", func(inv *model.Invoice) {
			inv.Lines[0].Quantity = decimal.Zero
			inv.Lines[0].LineTotal = decimal.Zero
			inv.Lines[1].Quantity = decimal.Zero
			inv.Lines[1].LineTotal = decimal.Zero
			inv.Totals = model.Totals{}
		}, "SCHEMA-005"},
		{"missing buyer", func(inv *model.Invoice) { inv.Buyer.Name = " " }, "SCHEMA-007"},
		{"no lines", func(inv *model.Invoice) { inv.Lines = nil }, "SCHEMA-008"},
		{"total mismatch", func(inv *model.Invoice) { inv.Totals.TotalAmount = decimal.NewFromInt(1500) }, "SCHEMA-011"},
		{"line mismatch", func(inv *model.Invoice) { inv.Lines[0].LineTotal = decimal.NewFromInt(999) }, "SCHEMA-012"},
		{"credit note without reference", func(inv *model.Invoice) { inv.DocumentTypeCode = model.DocumentTypeCreditNote }, "SCHEMA-013"},
		{"due before issue", func(inv *model.Invoice) {
			due := inv.InvoiceDate.AddDate(0, 0, -1)
			inv.DueDate = &due
		}, "SCHEMA-014"},
		{"unknown category", func(inv *model.Invoice) { inv.Lines[0].TaxCategory = "X" }, "SCHEMA-015"},
	}

	p := validation.NewPipeline()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := modeltest.GermanInvoice()
			tt.mutate(inv)
			report := p.Validate(model.FormatPeppolBIS, inv)
			assert.True(t, report.HasRule(tt.rule), "expected %s, got %+v", tt.rule, report.Errors)
		})
	}
}

func TestSchema_CreditNoteNegativeTotals(t *testing.T) {
	report := validation.NewPipeline().Validate(model.FormatXRechnungUBL, modeltest.CreditNote())

	assert.False(t, report.HasRule("SCHEMA-005"))
	assert.False(t, report.HasErrors(), "unexpected errors: %+v", report.Errors)
}

func TestEN16931_ElectronicAddresses(t *testing.T) {
	inv := modeltest.GermanInvoice()
	inv.Seller.ElectronicAddress = ""
	inv.Buyer.ElectronicAddress = ""

	report := validation.NewPipeline().Validate(model.FormatPeppolBIS, inv)

	assert.True(t, report.HasRule("PEPPOL-EN16931-R010"))
	assert.True(t, report.HasRule("PEPPOL-EN16931-R020"))

	// National syntaxes carry their own routing rules
	ksef := modeltest.PolishInvoice()
	ksef.Seller.ElectronicAddress = ""
	ksef.Buyer.ElectronicAddress = ""
	report = validation.NewPipeline().Validate(model.FormatKSeF, ksef)
	assert.False(t, report.HasRule("PEPPOL-EN16931-R010"))
}

func TestEN16931_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		rule   string
	}{
		{"declared tax off", func(inv *model.Invoice) {
			inv.Totals.TaxAmount = decimal.NewFromInt(228)
			inv.Totals.TotalAmount = decimal.NewFromInt(1428)
		}, "BR-CO-14"},
		{"subtotal off", func(inv *model.Invoice) { inv.Totals.Subtotal = decimal.NewFromInt(1100) }, "BR-CO-10"},
		{"no due date or terms", func(inv *model.Invoice) {
			inv.DueDate = nil
			inv.Payment.Terms = ""
		}, "BR-CO-25"},
		{"vat id without prefix", func(inv *model.Invoice) { inv.Seller.VATID = "123456789" }, "BR-CO-09"},
		{"missing item name", func(inv *model.Invoice) {
			inv.Lines[0].Name = ""
			inv.Lines[0].Description = ""
		}, "BR-25"},
		{"negative price", func(inv *model.Invoice) {
			inv.Lines[0].UnitPrice = decimal.NewFromInt(-100)
			inv.Lines[0].Quantity = decimal.NewFromInt(-10)
		}, "BR-27"},
		{"zero rated with rate", func(inv *model.Invoice) { inv.Lines[1].TaxCategory = model.TaxCategoryZeroRated }, "BR-Z-05"},
		{"standard with zero rate", func(inv *model.Invoice) { inv.Lines[1].TaxRate = model.Rate(0) }, "BR-S-05"},
		{"reverse charge without buyer vat", func(inv *model.Invoice) {
			inv.Lines[1].TaxCategory = model.TaxCategoryReverseCharge
			inv.Lines[1].TaxRate = model.Rate(0)
		}, "BR-AE-02"},
		{"not subject mixed", func(inv *model.Invoice) {
			inv.Lines[1].TaxCategory = model.TaxCategoryNotSubject
			inv.Lines[1].TaxRate = model.Rate(0)
		}, "BR-O-11"},
		{"allowance without reason", func(inv *model.Invoice) {
			inv.AllowanceCharges = []model.AllowanceCharge{{Amount: decimal.NewFromInt(10), TaxRate: model.Rate(19), TaxCategory: model.TaxCategoryStandard}}
		}, "BR-33"},
		{"credit transfer without iban", func(inv *model.Invoice) { inv.Payment.IBAN = "" }, "BR-61"},
		{"billing period reversed", func(inv *model.Invoice) {
			inv.BillingPeriod = &model.Period{Start: inv.InvoiceDate, End: inv.InvoiceDate.AddDate(0, 0, -7)}
		}, "BR-29"},
	}

	p := validation.NewPipeline()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := modeltest.GermanInvoice()
			tt.mutate(inv)
			report := p.Validate(model.FormatFacturXEN16931, inv)
			assert.True(t, report.HasRule(tt.rule), "expected %s, got %+v", tt.rule, report.Errors)
		})
	}
}

func TestXRechnung_MissingIBANBlocks(t *testing.T) {
	inv := modeltest.GermanInvoice()
	inv.Payment.IBAN = ""

	report := validation.NewPipeline().Validate(model.FormatXRechnungCII, inv)

	require.True(t, report.HasErrors())
	assert.True(t, report.HasRule("BR-DE-23-a"))

	err := report.Err()
	var blocking *model.BlockingValidationError
	require.True(t, errors.As(err, &blocking))
	assert.True(t, blocking.HasRule("BR-DE-23-a"))
	assert.Equal(t, "xrechnung-cii", blocking.Format)
}

func TestXRechnung_DefaultMeansCodeNeedsIBAN(t *testing.T) {
	inv := modeltest.GermanInvoice()
	inv.Payment = model.Payment{Terms: "30 days"}

	report := validation.NewPipeline().Validate(model.FormatXRechnungUBL, inv)
	assert.True(t, report.HasRule("BR-DE-23-a"))
	assert.False(t, report.HasRule("BR-DE-1"))
}

func TestXRechnung_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(inv *model.Invoice)
		rule    string
		warning bool
	}{
		{"no payment at all", func(inv *model.Invoice) { inv.Payment = model.Payment{} }, "BR-DE-1", false},
		{"seller phone", func(inv *model.Invoice) { inv.Seller.Contact.Phone = "" }, "BR-DE-2", false},
		{"seller city", func(inv *model.Invoice) { inv.Seller.City = "" }, "BR-DE-3", false},
		{"seller post code", func(inv *model.Invoice) { inv.Seller.PostalCode = "" }, "BR-DE-4", false},
		{"seller contact name", func(inv *model.Invoice) { inv.Seller.Contact.Name = "" }, "BR-DE-5", false},
		{"seller contact email", func(inv *model.Invoice) { inv.Seller.Contact.Email = "" }, "BR-DE-7", false},
		{"buyer city", func(inv *model.Invoice) { inv.Buyer.City = "" }, "BR-DE-8", false},
		{"buyer post code", func(inv *model.Invoice) { inv.Buyer.PostalCode = "" }, "BR-DE-9", false},
		{"card without account", func(inv *model.Invoice) { inv.Payment = model.Payment{MeansCode: "48"} }, "BR-DE-24-a", true},
		{"direct debit without mandate", func(inv *model.Invoice) { inv.Payment = model.Payment{MeansCode: "59"} }, "BR-DE-25-a", false},
		{"corrected without reference", func(inv *model.Invoice) { inv.DocumentTypeCode = model.DocumentTypeCorrected }, "BR-DE-26", false},
	}

	p := validation.NewPipeline()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := modeltest.GermanInvoice()
			tt.mutate(inv)
			report := p.Validate(model.FormatXRechnungUBL, inv)
			require.True(t, report.HasRule(tt.rule), "expected %s, got %+v / %+v", tt.rule, report.Errors, report.Warnings)

			found := report.Errors
			if tt.warning {
				found = report.Warnings
			}
			ids := make([]string, 0, len(found))
			for _, f := range found {
				ids = append(ids, f.RuleID)
			}
			assert.Contains(t, ids, tt.rule)
		})
	}
}

func TestXRechnung_BuyerReferenceWarning(t *testing.T) {
	p := validation.NewPipeline()

	inv := modeltest.GermanInvoice()
	inv.BuyerReference = ""
	report := p.Validate(model.FormatXRechnungCII, inv)
	assert.False(t, report.HasRule("BR-DE-15"), "invoice number stands in for the buyer reference")

	inv.InvoiceNumber = ""
	report = p.Validate(model.FormatXRechnungCII, inv)
	require.True(t, report.HasRule("BR-DE-15"))
	require.NotEmpty(t, report.Warnings)
	for _, f := range report.Errors {
		assert.NotEqual(t, "BR-DE-15", f.RuleID, "BR-DE-15 never blocks")
	}
}

func TestPeppol_Rules(t *testing.T) {
	p := validation.NewPipeline()

	inv := modeltest.GermanInvoice()
	inv.BuyerReference = ""
	inv.OrderReference = ""
	assert.True(t, p.Validate(model.FormatPeppolBIS, inv).HasRule("PEPPOL-EN16931-R003"))

	inv = modeltest.GermanInvoice()
	base := decimal.NewFromInt(1000)
	pct := decimal.NewFromInt(10)
	inv.AllowanceCharges = []model.AllowanceCharge{{
		Amount: decimal.NewFromInt(50), BaseAmount: &base, Percentage: &pct,
		Reason: "Rabatt", TaxRate: model.Rate(19), TaxCategory: model.TaxCategoryStandard,
	}}
	assert.True(t, p.Validate(model.FormatPeppolBIS, inv).HasRule("PEPPOL-EN16931-R040"))

	inv = modeltest.GermanInvoice()
	inv.Payment = model.Payment{MeansCode: "59", DebitedAccountID: "DE02120300000000202051"}
	assert.True(t, p.Validate(model.FormatPeppolBIS, inv).HasRule("PEPPOL-EN16931-R061"))

	inv = modeltest.GermanInvoice()
	inv.Currency = "eur"
	report := p.Validate(model.FormatPeppolBIS, inv)
	assert.True(t, report.HasRule("SCHEMA-003"), "document currency codes are checked once, against ISO 4217")
}

func TestNLCIUS_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		rule   string
	}{
		{"short OIN", func(inv *model.Invoice) { inv.Buyer.ElectronicAddress = "123" }, "NLCIUS-OIN-FORMAT"},
		{"long KVK", func(inv *model.Invoice) { inv.Seller.LegalRegistrationID = "123456789" }, "NLCIUS-KVK-FORMAT"},
		{"bad BTW", func(inv *model.Invoice) { inv.Seller.VATID = "NL123456789" }, "NLCIUS-BTW-FORMAT"},
		{"no registration", func(inv *model.Invoice) {
			inv.Seller.LegalRegistrationID = ""
			inv.Seller.LegalRegistrationScheme = ""
		}, "BR-NL-1"},
		{"seller street", func(inv *model.Invoice) { inv.Seller.Street = "" }, "BR-NL-10"},
		{"buyer post code", func(inv *model.Invoice) { inv.Buyer.PostalCode = "" }, "BR-NL-11"},
		{"no means code", func(inv *model.Invoice) { inv.Payment.MeansCode = "" }, "BR-NL-29"},
	}

	p := validation.NewPipeline()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := modeltest.DutchInvoice()
			tt.mutate(inv)
			assert.True(t, p.Validate(model.FormatNLCIUS, inv).HasRule(tt.rule))
		})
	}
}

func TestCIUSRO_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		rule   string
	}{
		{"bad control digit", func(inv *model.Invoice) { inv.Seller.TaxID = "18547291" }, "CIUS-RO-CUI-FORMAT"},
		{"bad vat", func(inv *model.Invoice) { inv.Seller.VATID = "RO1" }, "CIUS-RO-VAT-FORMAT"},
		{"seller street", func(inv *model.Invoice) { inv.Seller.Street = "" }, "BR-RO-080"},
		{"seller county", func(inv *model.Invoice) { inv.Seller.Subdivision = "" }, "BR-RO-100"},
		{"buyer county", func(inv *model.Invoice) { inv.Buyer.Subdivision = "" }, "BR-RO-110"},
	}

	p := validation.NewPipeline()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := modeltest.RomanianInvoice()
			tt.mutate(inv)
			assert.True(t, p.Validate(model.FormatCIUSRO, inv).HasRule(tt.rule))
		})
	}

	inv := modeltest.RomanianInvoice()
	inv.Buyer.Subdivision = ""
	report := p.Validate(model.FormatCIUSRO, inv)
	assert.Equal(t, validation.StatusWarnings, report.Status())
}

func TestFatturaPA_Rules(t *testing.T) {
	p := validation.NewPipeline()

	inv := modeltest.ItalianInvoice()
	inv.Seller.VATID = "IT123"
	assert.True(t, p.Validate(model.FormatFatturaPA, inv).HasRule("FPA-IVA-FORMAT"))

	inv = modeltest.ItalianInvoice()
	inv.Buyer.ElectronicAddress = ""
	report := p.Validate(model.FormatFatturaPA, inv)
	assert.True(t, report.HasRule("FPA-DESTINATARIO"))
	assert.False(t, report.HasErrors())

	inv.Buyer.ElectronicAddress = "AB"
	assert.True(t, p.Validate(model.FormatFatturaPA, inv).HasErrors())

	inv.Buyer.ElectronicAddress = "cliente@pec.example.it"
	assert.False(t, p.Validate(model.FormatFatturaPA, inv).HasRule("FPA-DESTINATARIO"))

	inv = modeltest.ItalianInvoice()
	inv.Seller.VATID = ""
	inv.Seller.TaxID = ""
	assert.True(t, p.Validate(model.FormatFatturaPA, inv).HasRule("FPA-CF"))

	inv = modeltest.ItalianInvoice()
	inv.Lines[1].TaxCategory = model.TaxCategoryStandard
	assert.True(t, p.Validate(model.FormatFatturaPA, inv).HasRule("FPA-NATURA"))
}

func TestKSeF_Rules(t *testing.T) {
	p := validation.NewPipeline()

	inv := modeltest.PolishInvoice()
	inv.Seller.TaxID = "5260250275"
	assert.True(t, p.Validate(model.FormatKSeF, inv).HasRule("KSEF-NIP-FORMAT"))

	inv = modeltest.PolishInvoice()
	inv.Buyer.TaxID = ""
	assert.True(t, p.Validate(model.FormatKSeF, inv).HasRule("KSEF-BUYER-ID"))

	inv = modeltest.PolishInvoice()
	inv.Currency = "EUR"
	report := p.Validate(model.FormatKSeF, inv)
	assert.True(t, report.HasRule("KSEF-CURRENCY"))
	assert.False(t, report.HasErrors())
}

func TestFacturXBasic_LineIDs(t *testing.T) {
	p := validation.NewPipeline()

	inv := modeltest.GermanInvoice()
	inv.Lines[1].ID = ""

	assert.True(t, p.Validate(model.FormatFacturXBasic, inv).HasRule("FX-BASIC-01"))
	assert.False(t, p.Validate(model.FormatFacturXEN16931, inv).HasRule("FX-BASIC-01"))
}

func TestReport_StatusAndMerge(t *testing.T) {
	report := validation.NewPipeline().Validate(model.FormatPeppolBIS, modeltest.GermanInvoice())
	assert.Equal(t, validation.StatusValid, report.Status())

	report.Merge([]validation.Finding{{RuleID: "EXT-1", Severity: validation.SeverityWarning, Message: "advisory"}})
	assert.Equal(t, validation.StatusWarnings, report.Status())

	report.Merge([]validation.Finding{{RuleID: "EXT-2", Severity: validation.SeverityError, Message: "fatal"}})
	assert.Equal(t, validation.StatusInvalid, report.Status())
	assert.Equal(t, []string{"EXT-2"}, report.RuleIDs())
}

func TestIdentifierChecks(t *testing.T) {
	assert.True(t, validation.ValidCUI("18547290"))
	assert.True(t, validation.ValidCUI("RO18547290"))
	assert.True(t, validation.ValidCUI("12345674"))
	assert.False(t, validation.ValidCUI("12345675"))
	assert.False(t, validation.ValidCUI("1"))

	assert.True(t, validation.ValidNIP("5260250274"))
	assert.True(t, validation.ValidNIP("PL5260250274"))
	assert.True(t, validation.ValidNIP("526-025-02-74"))
	assert.False(t, validation.ValidNIP("526025027"))

	assert.True(t, validation.ValidDutchVAT("NL123456789B01"))
	assert.False(t, validation.ValidDutchVAT("NL123456789"))
	assert.True(t, validation.ValidOIN("00000001234567890000"))
	assert.True(t, validation.ValidKVK("12345678"))
	assert.True(t, validation.ValidItalianVAT("IT01234567890"))
	assert.True(t, validation.ValidDestinatario("ABC123"))
	assert.True(t, validation.ValidDestinatario("abc1234"))
	assert.False(t, validation.ValidDestinatario("AB"))
}

func BenchmarkPipeline_Validate(b *testing.B) {
	p := validation.NewPipeline()
	inv := modeltest.GermanInvoice()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Validate(model.FormatXRechnungUBL, inv)
	}
}

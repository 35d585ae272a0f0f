package format

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/pdf"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// Specification identifiers (BT-24) and business process ids (BT-23)
const (
	customizationXRechnung = "urn:cen.eu:en16931:2017#compliant#urn:xeinkauf.de:kosit:xrechnung_3.0"
	customizationPeppol    = "urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0"
	customizationNLCIUS    = "urn:cen.eu:en16931:2017#compliant#urn:fdc:nen.nl:nlcius:v1.0"
	customizationCIUSRO    = "urn:cen.eu:en16931:2017#compliant#urn:efactura.mfinante.ro:CIUS-RO:1.0.1"
	customizationEN16931   = "urn:cen.eu:en16931:2017"
	customizationBasic     = "urn:cen.eu:en16931:2017#compliant#urn:factur-x.eu:1p0:basic"
	processPeppolBilling   = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"
)

// Syntax names reported by Info and read-back
const (
	SyntaxUBL        = "ubl"
	SyntaxCII        = "cii"
	SyntaxFatturaPA  = "fatturapa"
	SyntaxKSeF       = "ksef"
	syntaxCreditNote = "ubl-creditnote"
)

type buildFunc func(inv *model.Invoice, p profile, now time.Time) *etree.Document

// profile binds a format id to its builder and identifiers
type profile struct {
	id            model.FormatID
	name          string
	syntax        string
	suffix        string
	customization string
	process       string
	conformance   string // Factur-X level; empty for XML-only formats
	build         buildFunc
}

func profiles() []profile {
	return []profile{
		{id: model.FormatXRechnungCII, name: "XRechnung 3.0 (CII)", syntax: SyntaxCII, suffix: "xrechnung_cii",
			customization: customizationXRechnung, process: processPeppolBilling, build: buildCII},
		{id: model.FormatXRechnungUBL, name: "XRechnung 3.0 (UBL)", syntax: SyntaxUBL, suffix: "xrechnung_ubl",
			customization: customizationXRechnung, process: processPeppolBilling, build: buildUBL},
		{id: model.FormatPeppolBIS, name: "PEPPOL BIS Billing 3.0", syntax: SyntaxUBL, suffix: "peppol",
			customization: customizationPeppol, process: processPeppolBilling, build: buildUBL},
		{id: model.FormatFacturXEN16931, name: "Factur-X EN 16931", syntax: SyntaxCII, suffix: "facturx_en16931",
			customization: customizationEN16931, conformance: pdf.ConformanceEN16931, build: buildCII},
		{id: model.FormatFacturXBasic, name: "Factur-X BASIC", syntax: SyntaxCII, suffix: "facturx_basic",
			customization: customizationBasic, conformance: pdf.ConformanceBasic, build: buildCII},
		{id: model.FormatFatturaPA, name: "FatturaPA 1.2.2", syntax: SyntaxFatturaPA, suffix: "fatturapa",
			build: buildFatturaPA},
		{id: model.FormatKSeF, name: "KSeF FA(2)", syntax: SyntaxKSeF, suffix: "ksef",
			build: buildKSeF},
		{id: model.FormatNLCIUS, name: "NLCIUS 1.0", syntax: SyntaxUBL, suffix: "nlcius",
			customization: customizationNLCIUS, process: processPeppolBilling, build: buildUBL},
		{id: model.FormatCIUSRO, name: "CIUS-RO 1.0.1", syntax: SyntaxUBL, suffix: "ciusro",
			customization: customizationCIUSRO, build: buildUBL},
	}
}

type generator struct {
	profile  profile
	registry *Registry
}

func (g *generator) FormatID() model.FormatID {
	return g.profile.id
}

func (g *generator) FormatName() string {
	return g.profile.name
}

// Generate validates the invoice against the profile and serialises it.
// Any error-severity finding aborts with *model.BlockingValidationError.
func (g *generator) Generate(ctx context.Context, inv *model.Invoice) (*Output, error) {
	start := time.Now()
	r := g.registry
	id := g.profile.id

	report := r.pipeline.Validate(id, inv)
	if err := report.Err(); err != nil {
		r.metrics.ObserveGeneration(string(id), string(validation.StatusInvalid), time.Since(start))
		r.logger.Info("generation blocked by validation",
			zap.String("format", string(id)),
			zap.Strings("rules", report.RuleIDs()),
		)
		return nil, err
	}

	doc := g.profile.build(inv, g.profile, r.clock())
	doc.Indent(2)
	content, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("serialise %s: %w", id, err)
	}

	out := &Output{
		XMLContent:         content,
		FileName:           FileName(inv.InvoiceNumber, g.profile.suffix),
		FileSize:           len(content),
		ValidationStatus:   report.Status(),
		ValidationErrors:   report.Errors,
		ValidationWarnings: report.Warnings,
	}

	if r.external != nil && r.external.Enabled() {
		out.External = r.external.Validate(ctx, id, []byte(content))
		r.metrics.ObserveExternal(out.External.Ran)
	}

	if g.profile.conformance != "" {
		out.PDFContent = pdf.FacturX([]byte(content), facturXMeta(inv, g.profile.conformance))
	}

	r.metrics.ObserveGeneration(string(id), string(out.ValidationStatus), time.Since(start))
	r.logger.Debug("generated document",
		zap.String("format", string(id)),
		zap.String("invoice", inv.InvoiceNumber),
		zap.Int("bytes", out.FileSize),
		zap.String("status", string(out.ValidationStatus)),
	)
	return out, nil
}

func facturXMeta(inv *model.Invoice, conformance string) pdf.FacturXMeta {
	docType := "INVOICE"
	if inv.IsCreditNote() {
		docType = "CREDIT NOTE"
	}

	var lines []string
	for i, line := range inv.Lines {
		lines = append(lines, fmt.Sprintf("%d. %s  %s x %s = %s %s",
			i+1, cleanText(line.ItemName()), dec.Quantity(line.Quantity), dec.Amount(line.UnitPrice),
			dec.Amount(line.LineTotal), inv.Currency))
	}
	lines = append(lines, "",
		fmt.Sprintf("Net: %s %s", dec.Amount(inv.Totals.EffectiveTaxBasis()), inv.Currency),
		fmt.Sprintf("VAT: %s %s", dec.Amount(inv.Totals.TaxAmount), inv.Currency),
		fmt.Sprintf("Total: %s %s", dec.Amount(inv.Totals.TotalAmount), inv.Currency),
	)

	return pdf.FacturXMeta{
		InvoiceNumber: cleanText(inv.InvoiceNumber),
		SellerName:    cleanText(inv.Seller.Name),
		BuyerName:     cleanText(inv.Buyer.Name),
		IssueDate:     inv.InvoiceDate,
		Conformance:   conformance,
		DocumentType:  docType,
		Lines:         lines,
	}
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// lineID returns the line identifier, numbering from 1 when absent
func lineID(line model.LineItem, index int) string {
	if line.ID != "" {
		return line.ID
	}
	return fmt.Sprintf("%d", index+1)
}

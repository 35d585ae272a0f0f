package validation

import (
	"fmt"
	"strings"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

var allowedTypeCodes = map[model.DocumentTypeCode]bool{
	model.DocumentTypeCommercial: true,
	model.DocumentTypeCreditNote: true,
	model.DocumentTypeCorrected:  true,
	model.DocumentTypeSelfBilled: true,
}

// checkSchema is tier 1: presence and format of individual fields
func (p *Pipeline) checkSchema(inv *model.Invoice, r *Report) {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		r.addError("SCHEMA-001", "invoice_number", "invoice number is required")
	}
	if inv.InvoiceDate.IsZero() {
		r.addError("SCHEMA-002", "invoice_date", "invoice date is required")
	}
	if err := p.validate.Var(inv.Currency, "required,iso4217"); err != nil {
		r.addError("SCHEMA-003", "currency", fmt.Sprintf("currency %q is not an ISO 4217 code", inv.Currency))
	}
	if !allowedTypeCodes[inv.DocumentTypeCode] {
		r.addError("SCHEMA-004", "document_type_code",
			fmt.Sprintf("document type code %q is not one of 380, 381, 384, 389", inv.DocumentTypeCode))
	}
	if !inv.IsCreditNote() && !dec.IsPositive(inv.Totals.TotalAmount) {
		r.addError("SCHEMA-005", "totals.total_amount", "total amount must be positive for a non-credit-note")
	}

	if strings.TrimSpace(inv.Seller.Name) == "" {
		r.addError("SCHEMA-006", "seller.name", "seller name is required")
	}
	if strings.TrimSpace(inv.Buyer.Name) == "" {
		r.addError("SCHEMA-007", "buyer.name", "buyer name is required")
	}
	if len(inv.Lines) == 0 {
		r.addError("SCHEMA-008", "lines", "at least one line item is required")
	}

	p.checkCountry("seller.country_code", inv.Seller.CountryCode, r)
	p.checkCountry("buyer.country_code", inv.Buyer.CountryCode, r)

	p.checkEmail("seller.contact.email", inv.Seller.Contact.Email, r)
	p.checkEmail("buyer.contact.email", inv.Buyer.Contact.Email, r)
	if inv.Seller.ElectronicAddressScheme == model.SchemeEmail {
		p.checkEmail("seller.electronic_address", inv.Seller.ElectronicAddress, r)
	}
	if inv.Buyer.ElectronicAddressScheme == model.SchemeEmail {
		p.checkEmail("buyer.electronic_address", inv.Buyer.ElectronicAddress, r)
	}

	// Monetary identity
	basis := inv.Totals.EffectiveTaxBasis()
	expected := basis.Add(inv.Totals.TaxAmount)
	if !dec.WithinTolerance(inv.Totals.TotalAmount, expected) {
		r.addError("SCHEMA-011", "totals.total_amount",
			fmt.Sprintf("total amount %s does not equal tax basis %s + tax %s",
				dec.Amount(inv.Totals.TotalAmount), dec.Amount(basis), dec.Amount(inv.Totals.TaxAmount)))
	}

	for i, line := range inv.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		expected := line.Quantity.Mul(line.UnitPrice)
		if !dec.WithinTolerance(line.LineTotal, expected) {
			r.addError("SCHEMA-012", field+".line_total",
				fmt.Sprintf("line total %s does not equal quantity %s x unit price %s",
					dec.Amount(line.LineTotal), dec.Quantity(line.Quantity), dec.Amount(line.UnitPrice)))
		}
		if line.TaxCategory != "" && !tax.IsKnown(line.TaxCategory) {
			r.addError("SCHEMA-015", field+".tax_category_code",
				fmt.Sprintf("unknown tax category %q", line.TaxCategory))
		}
	}
	for i, ac := range inv.AllowanceCharges {
		if ac.TaxCategory != "" && !tax.IsKnown(ac.TaxCategory) {
			r.addError("SCHEMA-015", fmt.Sprintf("allowance_charges[%d].tax_category_code", i),
				fmt.Sprintf("unknown tax category %q", ac.TaxCategory))
		}
	}

	if inv.IsCreditNote() && (inv.PrecedingInvoice == nil || strings.TrimSpace(inv.PrecedingInvoice.Number) == "") {
		r.addError("SCHEMA-013", "preceding_invoice.number", "credit note must reference the preceding invoice")
	}
	if inv.DueDate != nil && !inv.InvoiceDate.IsZero() && inv.DueDate.Before(inv.InvoiceDate) {
		r.addError("SCHEMA-014", "due_date", "due date must not be before the invoice date")
	}
}

func (p *Pipeline) checkCountry(field, code string, r *Report) {
	if err := p.validate.Var(code, "required,iso3166_1_alpha2"); err != nil {
		r.addError("SCHEMA-009", field, fmt.Sprintf("country code %q is not ISO 3166-1 alpha-2", code))
	}
}

func (p *Pipeline) checkEmail(field, email string, r *Report) {
	if email == "" {
		return
	}
	if err := p.validate.Var(email, "email"); err != nil {
		r.addError("SCHEMA-010", field, fmt.Sprintf("%q is not a valid e-mail address", email))
	}
}

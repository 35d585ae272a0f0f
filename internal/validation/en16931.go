package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

// VAT identifiers start with an ISO country prefix (EL for Greece)
var vatPrefixPattern = regexp.MustCompile(`^[A-Z]{2}[0-9A-Za-z+*.]{2,}$`)

// checkEN16931 is tier 2: cross-field rules of the European semantic model
func checkEN16931(profile model.FormatID, inv *model.Invoice, r *Report) {
	checkLines(inv, r)
	checkAllowanceCharges(inv, r)
	checkTotals(inv, r)
	checkCategories(inv, r)
	checkPartyIdentifiers(inv, r)
	checkPaymentRules(inv, r)

	if inv.BillingPeriod != nil && inv.BillingPeriod.End.Before(inv.BillingPeriod.Start) {
		r.addError("BR-29", "billing_period.end", "billing period end date must not be before the start date")
	}
	if inv.PrecedingInvoice != nil && strings.TrimSpace(inv.PrecedingInvoice.Number) == "" {
		r.addError("BR-55", "preceding_invoice.number", "preceding invoice reference must contain the invoice number")
	}

	// National syntaxes route through their own endpoint rules
	if !profile.IsNational() {
		if !inv.Buyer.HasElectronicAddress() {
			r.addError("PEPPOL-EN16931-R010", "buyer.electronic_address", "buyer electronic address must be provided")
		}
		if !inv.Seller.HasElectronicAddress() {
			r.addError("PEPPOL-EN16931-R020", "seller.electronic_address", "seller electronic address must be provided")
		}
	}
}

func checkLines(inv *model.Invoice, r *Report) {
	for i, line := range inv.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(line.ItemName()) == "" {
			r.addError("BR-25", field+".name", "each invoice line must contain the item name")
		}
		if line.Quantity.IsZero() && !line.LineTotal.IsZero() {
			r.addError("BR-22", field+".quantity", "each invoice line must have an invoiced quantity")
		}
		if line.UnitPrice.IsNegative() {
			r.addError("BR-27", field+".unit_price", "item net price must not be negative")
		}
		if line.TaxCategory == "" {
			r.addError("BR-CO-04", field+".tax_category_code", "each invoice line must be categorized with a VAT category code")
		}
	}
}

func checkAllowanceCharges(inv *model.Invoice, r *Report) {
	for i, ac := range inv.AllowanceCharges {
		field := fmt.Sprintf("allowance_charges[%d]", i)
		hasReason := strings.TrimSpace(ac.Reason) != "" || strings.TrimSpace(ac.ReasonCode) != ""
		if ac.ChargeIndicator {
			if ac.TaxCategory == "" {
				r.addError("BR-37", field+".tax_category_code", "document level charge must have a VAT category code")
			}
			if !hasReason {
				r.addError("BR-42", field+".reason", "document level charge must have a reason or reason code")
			}
		} else {
			if ac.TaxCategory == "" {
				r.addError("BR-32", field+".tax_category_code", "document level allowance must have a VAT category code")
			}
			if !hasReason {
				r.addError("BR-33", field+".reason", "document level allowance must have a reason or reason code")
			}
		}
	}
}

func checkTotals(inv *model.Invoice, r *Report) {
	if len(inv.Lines) == 0 {
		return
	}

	computed := tax.ComputedTotals(inv)
	declared := inv.Totals

	compare := func(ruleID, field string, got, want decimal.Decimal, what string) {
		if !dec.WithinTolerance(got, want) {
			r.addError(ruleID, field, fmt.Sprintf("%s %s does not match computed %s", what, dec.Amount(got), dec.Amount(want)))
		}
	}

	compare("BR-CO-10", "totals.subtotal", declared.Subtotal, computed.Subtotal, "sum of invoice line net amounts")
	compare("BR-CO-11", "totals.allowance_total", declared.AllowanceTotal, computed.AllowanceTotal, "sum of allowances")
	compare("BR-CO-12", "totals.charge_total", declared.ChargeTotal, computed.ChargeTotal, "sum of charges")
	compare("BR-CO-13", "totals.tax_basis", declared.EffectiveTaxBasis(), computed.TaxBasis, "invoice total without VAT")
	compare("BR-CO-14", "totals.tax_amount", declared.TaxAmount, computed.TaxAmount, "invoice total VAT amount")
	compare("BR-CO-15", "totals.total_amount", declared.TotalAmount, declared.EffectiveTaxBasis().Add(declared.TaxAmount), "invoice total with VAT")
	compare("BR-CO-16", "totals.amount_due", declared.EffectiveAmountDue(), declared.TotalAmount.Sub(declared.PrepaidAmount), "amount due for payment")

	if dec.IsPositive(declared.EffectiveAmountDue()) && inv.DueDate == nil && strings.TrimSpace(inv.Payment.Terms) == "" {
		r.addError("BR-CO-25", "due_date", "a positive amount due requires a payment due date or payment terms")
	}
}

func checkCategories(inv *model.Invoice, r *Report) {
	type usage struct {
		field string
		rate  decimal.Decimal
	}
	used := make(map[model.TaxCategory][]usage)
	for i, line := range inv.Lines {
		used[line.TaxCategory] = append(used[line.TaxCategory], usage{fmt.Sprintf("lines[%d].tax_rate", i), line.Rate()})
	}
	for i, ac := range inv.AllowanceCharges {
		used[ac.TaxCategory] = append(used[ac.TaxCategory], usage{fmt.Sprintf("allowance_charges[%d].tax_rate", i), ac.Rate()})
	}

	sellerHasVAT := inv.Seller.VATID != "" || inv.Seller.TaxID != ""
	buyerHasVAT := inv.Buyer.VATID != "" || inv.Buyer.LegalRegistrationID != ""

	for _, category := range tax.Categories() {
		usages, ok := used[category]
		if !ok {
			continue
		}
		rule := tax.MustLookup(category)

		for _, u := range usages {
			switch {
			case rule.RequiresZeroRate && !u.rate.IsZero():
				r.addError(rule.RulePrefix+"-05", u.field,
					fmt.Sprintf("VAT category %s requires a rate of 0, got %s", category, dec.Percent(u.rate)))
			case !rule.RequiresZeroRate && !dec.IsPositive(u.rate):
				r.addError(rule.RulePrefix+"-05", u.field,
					fmt.Sprintf("VAT category %s requires a rate greater than 0", category))
			}
		}

		if category == model.TaxCategoryNotSubject {
			if len(used) > 1 {
				r.addError("BR-O-11", "lines", "an invoice with VAT category O must not contain other VAT categories")
			}
			continue
		}
		if !sellerHasVAT {
			r.addError(rule.RulePrefix+"-02", "seller.vat_id",
				fmt.Sprintf("VAT category %s requires the seller VAT identifier or tax registration", category))
		}
		if rule.ForeignVATExpected && !buyerHasVAT {
			r.addError(rule.RulePrefix+"-02", "buyer.vat_id",
				fmt.Sprintf("VAT category %s requires the buyer VAT identifier", category))
		}
	}
}

func checkPartyIdentifiers(inv *model.Invoice, r *Report) {
	for _, p := range []struct {
		field string
		vatID string
	}{
		{"seller.vat_id", inv.Seller.VATID},
		{"buyer.vat_id", inv.Buyer.VATID},
	} {
		if p.vatID != "" && !vatPrefixPattern.MatchString(p.vatID) {
			r.addError("BR-CO-09", p.field, fmt.Sprintf("VAT identifier %q must be prefixed with a country code", p.vatID))
		}
	}

	s := inv.Seller
	if s.VATID == "" && s.TaxID == "" && s.LegalRegistrationID == "" {
		r.addError("BR-CO-26", "seller.vat_id", "seller must carry a VAT identifier, tax registration or legal registration identifier")
	}
}

func checkPaymentRules(inv *model.Invoice, r *Report) {
	pay := inv.Payment
	if pay.MeansCode != model.PaymentMeansCreditTransfer && pay.MeansCode != model.PaymentMeansSEPACreditTransfer {
		return
	}
	if pay.IBAN == "" {
		r.addError("BR-61", "payment.iban", "credit transfer requires the payment account identifier")
	}
}

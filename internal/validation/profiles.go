package validation

import (
	"fmt"
	"net/mail"
	"strings"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// XRechnung 3.0 (both syntaxes)
func checkXRechnung(inv *model.Invoice, r *Report) {
	pay := inv.Payment
	if pay == (model.Payment{}) {
		r.addError("BR-DE-1", "payment", "an invoice must contain payment instructions")
	}

	seller := inv.Seller
	if blank(seller.Contact.Phone) {
		r.addError("BR-DE-2", "seller.contact.phone", "seller contact telephone number is required")
	}
	if blank(seller.City) {
		r.addError("BR-DE-3", "seller.city", "seller city is required")
	}
	if blank(seller.PostalCode) {
		r.addError("BR-DE-4", "seller.postal_code", "seller post code is required")
	}
	if blank(seller.Contact.Name) {
		r.addError("BR-DE-5", "seller.contact.name", "seller contact point is required")
	}
	if blank(seller.Contact.Email) {
		r.addError("BR-DE-7", "seller.contact.email", "seller contact e-mail address is required")
	}

	if blank(inv.Buyer.City) {
		r.addError("BR-DE-8", "buyer.city", "buyer city is required")
	}
	if blank(inv.Buyer.PostalCode) {
		r.addError("BR-DE-9", "buyer.postal_code", "buyer post code is required")
	}

	// The invoice number stands in as buyer reference when no Leitweg-ID is given
	if blank(inv.BuyerReference) && blank(inv.InvoiceNumber) {
		r.addWarning("BR-DE-15", "buyer_reference", "buyer reference (Leitweg-ID) should be provided")
	}

	switch inv.DocumentTypeCode {
	case "326", "380", "381", "384", "389", "875", "876", "877":
	default:
		r.addError("BR-DE-17", "document_type_code",
			fmt.Sprintf("document type code %q is not permitted in XRechnung", inv.DocumentTypeCode))
	}

	switch pay.EffectiveMeansCode() {
	case model.PaymentMeansCreditTransfer, model.PaymentMeansSEPACreditTransfer:
		if blank(pay.IBAN) {
			r.addError("BR-DE-23-a", "payment.iban", "credit transfer requires the seller IBAN")
		}
	case model.PaymentMeansCard, "54", "55":
		if blank(pay.CardAccountID) {
			r.addWarning("BR-DE-24-a", "payment.card_account_id", "card payment should carry the card account number")
		}
	case model.PaymentMeansSEPADirectDebit:
		if blank(pay.MandateReference) {
			r.addError("BR-DE-25-a", "payment.mandate_reference", "direct debit requires the mandate reference")
		}
	}

	if inv.DocumentTypeCode == model.DocumentTypeCorrected &&
		(inv.PrecedingInvoice == nil || blank(inv.PrecedingInvoice.Number)) {
		r.addError("BR-DE-26", "preceding_invoice.number", "a corrected invoice must reference the preceding invoice")
	}
}

// PEPPOL BIS Billing 3.0
func checkPeppol(inv *model.Invoice, r *Report) {
	if blank(inv.BuyerReference) && blank(inv.OrderReference) {
		r.addError("PEPPOL-EN16931-R003", "buyer_reference", "a buyer reference or purchase order reference must be provided")
	}

	for i, ac := range inv.AllowanceCharges {
		if ac.Percentage == nil || ac.BaseAmount == nil {
			continue
		}
		expected := dec.CalculatePercentage(*ac.BaseAmount, *ac.Percentage)
		if !dec.WithinTolerance(ac.Amount, expected) {
			r.addError("PEPPOL-EN16931-R040", fmt.Sprintf("allowance_charges[%d].amount", i),
				fmt.Sprintf("amount %s must equal base amount x percentage (%s)", dec.Amount(ac.Amount), dec.Amount(expected)))
		}
	}

	if inv.Payment.MeansCode == model.PaymentMeansSEPADirectDebit && blank(inv.Payment.MandateReference) {
		r.addError("PEPPOL-EN16931-R061", "payment.mandate_reference", "direct debit requires the mandate reference")
	}
}

// NLCIUS 1.0
func checkNLCIUS(inv *model.Invoice, r *Report) {
	for _, p := range []struct {
		prefix string
		party  model.Party
	}{
		{"seller", inv.Seller},
		{"buyer", inv.Buyer},
	} {
		checkDutchScheme(p.prefix+".electronic_address", p.party.ElectronicAddressScheme, p.party.ElectronicAddress, r)
		checkDutchScheme(p.prefix+".legal_registration_id", p.party.LegalRegistrationScheme, p.party.LegalRegistrationID, r)
		if strings.HasPrefix(p.party.VATID, "NL") && !ValidDutchVAT(p.party.VATID) {
			r.addError("NLCIUS-BTW-FORMAT", p.prefix+".vat_id",
				fmt.Sprintf("Dutch VAT number %q must match NL + 9 digits + B + 2 digits", p.party.VATID))
		}
	}

	seller := inv.Seller
	if seller.CountryCode == "NL" {
		scheme := seller.LegalRegistrationScheme
		if blank(seller.LegalRegistrationID) || (scheme != model.SchemeKVK && scheme != model.SchemeOIN) {
			r.addError("BR-NL-1", "seller.legal_registration_id", "a Dutch seller must carry a KVK or OIN registration")
		}
		if blank(seller.Street) || blank(seller.City) || blank(seller.PostalCode) {
			r.addError("BR-NL-10", "seller.street", "a Dutch seller address must contain street, city and post code")
		}
	}
	if inv.Buyer.CountryCode == "NL" && (blank(inv.Buyer.Street) || blank(inv.Buyer.City) || blank(inv.Buyer.PostalCode)) {
		r.addError("BR-NL-11", "buyer.street", "a Dutch buyer address must contain street, city and post code")
	}

	if blank(inv.Payment.MeansCode) {
		r.addError("BR-NL-29", "payment.means_code", "payment means code is required")
	}
}

func checkDutchScheme(field, scheme, value string, r *Report) {
	switch scheme {
	case model.SchemeOIN:
		if !ValidOIN(value) {
			r.addError("NLCIUS-OIN-FORMAT", field, fmt.Sprintf("OIN %q must be exactly 20 digits", value))
		}
	case model.SchemeKVK:
		if !ValidKVK(value) {
			r.addError("NLCIUS-KVK-FORMAT", field, fmt.Sprintf("KVK number %q must be exactly 8 digits", value))
		}
	}
}

// CIUS-RO 1.0.1
func checkCIUSRO(inv *model.Invoice, r *Report) {
	for _, p := range []struct {
		prefix string
		party  model.Party
	}{
		{"seller", inv.Seller},
		{"buyer", inv.Buyer},
	} {
		if p.party.CountryCode != "RO" {
			continue
		}
		if p.party.TaxID != "" && !ValidCUI(p.party.TaxID) {
			r.addError("CIUS-RO-CUI-FORMAT", p.prefix+".tax_id",
				fmt.Sprintf("CUI %q must be 2-10 digits with a valid control digit", p.party.TaxID))
		}
		if p.party.VATID != "" && !ValidRomanianVAT(p.party.VATID) {
			r.addError("CIUS-RO-VAT-FORMAT", p.prefix+".vat_id",
				fmt.Sprintf("Romanian VAT number %q must match RO + 2-10 digits", p.party.VATID))
		}
	}

	if blank(inv.Seller.Street) {
		r.addError("BR-RO-080", "seller.street", "seller street address is required")
	}
	if inv.Seller.CountryCode == "RO" && blank(inv.Seller.Subdivision) {
		r.addError("BR-RO-100", "seller.subdivision", "a Romanian seller must state the county (ISO 3166-2:RO)")
	}
	if inv.Buyer.CountryCode == "RO" && blank(inv.Buyer.Subdivision) {
		r.addWarning("BR-RO-110", "buyer.subdivision", "a Romanian buyer should state the county (ISO 3166-2:RO)")
	}
}

// FatturaPA 1.2.2
func checkFatturaPA(inv *model.Invoice, r *Report) {
	for _, p := range []struct {
		field string
		vatID string
	}{
		{"seller.vat_id", inv.Seller.VATID},
		{"buyer.vat_id", inv.Buyer.VATID},
	} {
		if strings.HasPrefix(p.vatID, "IT") && !ValidItalianVAT(p.vatID) {
			r.addError("FPA-IVA-FORMAT", p.field, fmt.Sprintf("Partita IVA %q must match IT + 11 digits", p.vatID))
		}
	}

	addr := strings.TrimSpace(inv.Buyer.ElectronicAddress)
	switch {
	case addr == "":
		r.addWarning("FPA-DESTINATARIO", "buyer.electronic_address",
			"no recipient code or PEC address, CodiceDestinatario defaults to 0000000")
	case strings.Contains(addr, "@"):
		if _, err := mail.ParseAddress(addr); err != nil {
			r.addError("FPA-DESTINATARIO", "buyer.electronic_address", fmt.Sprintf("PEC address %q is invalid", addr))
		}
	case !ValidDestinatario(addr):
		r.addError("FPA-DESTINATARIO", "buyer.electronic_address",
			fmt.Sprintf("recipient code %q must be 6 or 7 alphanumeric characters", addr))
	}

	if blank(inv.Seller.TaxID) && blank(inv.Seller.VATID) {
		r.addError("FPA-CF", "seller.tax_id", "seller Codice Fiscale or Partita IVA is required")
	}

	for i, line := range inv.Lines {
		if line.Rate().IsZero() && line.TaxCategory == model.TaxCategoryStandard {
			r.addError("FPA-NATURA", fmt.Sprintf("lines[%d].tax_category_code", i),
				"a zero-rated line needs a VAT category that maps to a Natura code")
		}
	}
}

// KSeF FA(2)
func checkKSeF(inv *model.Invoice, r *Report) {
	nip := inv.Seller.TaxID
	if nip == "" {
		nip = inv.Seller.VATID
	}
	if !ValidNIP(nip) {
		r.addError("KSEF-NIP-FORMAT", "seller.tax_id", fmt.Sprintf("seller NIP %q must be 10 digits with a valid checksum", nip))
	}

	if blank(inv.Buyer.TaxID) && blank(inv.Buyer.VATID) {
		r.addError("KSEF-BUYER-ID", "buyer.tax_id", "buyer NIP or VAT identifier is required")
	}

	if inv.Currency != "" && inv.Currency != "PLN" {
		r.addWarning("KSEF-CURRENCY", "currency",
			fmt.Sprintf("invoice in %s: VAT must also be reported in PLN, exchange rate data is not carried", inv.Currency))
	}
}

// Factur-X BASIC
func checkFacturXBasic(inv *model.Invoice, r *Report) {
	for i, line := range inv.Lines {
		if blank(line.ID) {
			r.addError("FX-BASIC-01", fmt.Sprintf("lines[%d].id", i), "BASIC profile requires a line identifier on every line")
		}
	}
}

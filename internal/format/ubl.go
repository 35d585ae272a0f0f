package format

import (
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

const (
	nsUBLInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	nsUBLCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
	nsUBLCAC        = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	nsUBLCBC        = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
)

// buildUBL writes an OASIS UBL 2.1 Invoice, or a CreditNote for type 381
func buildUBL(inv *model.Invoice, p profile, _ time.Time) *etree.Document {
	credit := inv.IsCreditNote()
	cur := inv.Currency

	doc := newDocument()
	rootTag, ns, typeTag, lineTag, qtyTag := "Invoice", nsUBLInvoice, "cbc:InvoiceTypeCode", "cac:InvoiceLine", "cbc:InvoicedQuantity"
	if credit {
		rootTag, ns, typeTag, lineTag, qtyTag = "CreditNote", nsUBLCreditNote, "cbc:CreditNoteTypeCode", "cac:CreditNoteLine", "cbc:CreditedQuantity"
	}
	root := doc.CreateElement(rootTag)
	root.CreateAttr("xmlns", ns)
	root.CreateAttr("xmlns:cac", nsUBLCAC)
	root.CreateAttr("xmlns:cbc", nsUBLCBC)

	add(root, "cbc:CustomizationID", p.customization)
	addOpt(root, "cbc:ProfileID", p.process)
	add(root, "cbc:ID", inv.InvoiceNumber)
	add(root, "cbc:IssueDate", formatDate(inv.InvoiceDate))
	if inv.DueDate != nil && !credit {
		add(root, "cbc:DueDate", formatDate(*inv.DueDate))
	}
	add(root, typeTag, string(inv.DocumentTypeCode))
	addOpt(root, "cbc:Note", inv.Note)
	add(root, "cbc:DocumentCurrencyCode", cur)
	addOpt(root, "cbc:BuyerReference", inv.BuyerReference)

	if inv.BillingPeriod != nil {
		period := root.CreateElement("cac:InvoicePeriod")
		add(period, "cbc:StartDate", formatDate(inv.BillingPeriod.Start))
		add(period, "cbc:EndDate", formatDate(inv.BillingPeriod.End))
	}
	if inv.OrderReference != "" {
		add(root.CreateElement("cac:OrderReference"), "cbc:ID", inv.OrderReference)
	}
	if ref := inv.PrecedingInvoice; ref != nil && ref.Number != "" {
		docRef := root.CreateElement("cac:BillingReference").CreateElement("cac:InvoiceDocumentReference")
		add(docRef, "cbc:ID", ref.Number)
		if ref.IssueDate != nil {
			add(docRef, "cbc:IssueDate", formatDate(*ref.IssueDate))
		}
	}

	ublParty(root.CreateElement("cac:AccountingSupplierParty"), inv.Seller, true)
	ublParty(root.CreateElement("cac:AccountingCustomerParty"), inv.Buyer, false)

	ublPaymentMeans(root, inv, credit)
	if inv.Payment.Terms != "" {
		add(root.CreateElement("cac:PaymentTerms"), "cbc:Note", inv.Payment.Terms)
	}

	for _, ac := range inv.AllowanceCharges {
		el := root.CreateElement("cac:AllowanceCharge")
		add(el, "cbc:ChargeIndicator", boolText(ac.ChargeIndicator))
		addOpt(el, "cbc:AllowanceChargeReasonCode", ac.ReasonCode)
		addOpt(el, "cbc:AllowanceChargeReason", ac.Reason)
		if ac.Percentage != nil {
			add(el, "cbc:MultiplierFactorNumeric", dec.Percent(*ac.Percentage))
		}
		addAmount(el, "cbc:Amount", dec.Amount(ac.Amount), cur)
		if ac.BaseAmount != nil {
			addAmount(el, "cbc:BaseAmount", dec.Amount(*ac.BaseAmount), cur)
		}
		ublTaxCategory(el, "cac:TaxCategory", ac.TaxCategory, ac.Rate(), false)
	}

	buckets := tax.Buckets(inv)
	taxTotal := root.CreateElement("cac:TaxTotal")
	addAmount(taxTotal, "cbc:TaxAmount", dec.Amount(inv.Totals.TaxAmount), cur)
	for _, b := range buckets {
		sub := taxTotal.CreateElement("cac:TaxSubtotal")
		addAmount(sub, "cbc:TaxableAmount", dec.Amount(b.Basis), cur)
		addAmount(sub, "cbc:TaxAmount", dec.Amount(b.Tax), cur)
		ublTaxCategory(sub, "cac:TaxCategory", b.Category, b.Rate, true)
	}

	totals := inv.Totals
	monetary := root.CreateElement("cac:LegalMonetaryTotal")
	addAmount(monetary, "cbc:LineExtensionAmount", dec.Amount(totals.Subtotal), cur)
	addAmount(monetary, "cbc:TaxExclusiveAmount", dec.Amount(totals.EffectiveTaxBasis()), cur)
	addAmount(monetary, "cbc:TaxInclusiveAmount", dec.Amount(totals.TotalAmount), cur)
	if !totals.AllowanceTotal.IsZero() {
		addAmount(monetary, "cbc:AllowanceTotalAmount", dec.Amount(totals.AllowanceTotal), cur)
	}
	if !totals.ChargeTotal.IsZero() {
		addAmount(monetary, "cbc:ChargeTotalAmount", dec.Amount(totals.ChargeTotal), cur)
	}
	if !totals.PrepaidAmount.IsZero() {
		addAmount(monetary, "cbc:PrepaidAmount", dec.Amount(totals.PrepaidAmount), cur)
	}
	addAmount(monetary, "cbc:PayableAmount", dec.Amount(totals.EffectiveAmountDue()), cur)

	for i, line := range inv.Lines {
		el := root.CreateElement(lineTag)
		add(el, "cbc:ID", lineID(line, i))
		qty := add(el, qtyTag, dec.Quantity(line.Quantity))
		qty.CreateAttr("unitCode", line.EffectiveUnitCode())
		addAmount(el, "cbc:LineExtensionAmount", dec.Amount(line.LineTotal), cur)

		item := el.CreateElement("cac:Item")
		if line.Description != "" && line.Description != line.ItemName() {
			add(item, "cbc:Description", line.Description)
		}
		add(item, "cbc:Name", line.ItemName())
		if line.SellerItemID != "" {
			add(item.CreateElement("cac:SellersItemIdentification"), "cbc:ID", line.SellerItemID)
		}
		ublTaxCategory(item, "cac:ClassifiedTaxCategory", line.TaxCategory, line.Rate(), false)

		addAmount(el.CreateElement("cac:Price"), "cbc:PriceAmount", dec.Amount(line.UnitPrice), cur)
	}

	return doc
}

func ublParty(parent *etree.Element, party model.Party, seller bool) {
	el := parent.CreateElement("cac:Party")

	if party.ElectronicAddress != "" {
		endpoint := add(el, "cbc:EndpointID", party.ElectronicAddress)
		endpoint.CreateAttr("schemeID", party.ElectronicAddressScheme)
	}
	if party.TradingName != "" {
		add(el.CreateElement("cac:PartyName"), "cbc:Name", party.TradingName)
	}

	addr := el.CreateElement("cac:PostalAddress")
	addOpt(addr, "cbc:StreetName", party.Street)
	addOpt(addr, "cbc:AdditionalStreetName", party.AdditionalStreet)
	addOpt(addr, "cbc:CityName", party.City)
	addOpt(addr, "cbc:PostalZone", party.PostalCode)
	addOpt(addr, "cbc:CountrySubentity", party.Subdivision)
	add(addr.CreateElement("cac:Country"), "cbc:IdentificationCode", party.CountryCode)

	if party.VATID != "" {
		scheme := el.CreateElement("cac:PartyTaxScheme")
		add(scheme, "cbc:CompanyID", party.VATID)
		add(scheme.CreateElement("cac:TaxScheme"), "cbc:ID", "VAT")
	}
	if seller && party.TaxID != "" && party.TaxID != party.VATID {
		scheme := el.CreateElement("cac:PartyTaxScheme")
		add(scheme, "cbc:CompanyID", party.TaxID)
		add(scheme.CreateElement("cac:TaxScheme"), "cbc:ID", "FC")
	}

	legal := el.CreateElement("cac:PartyLegalEntity")
	add(legal, "cbc:RegistrationName", party.Name)
	switch {
	case party.LegalRegistrationID != "":
		id := add(legal, "cbc:CompanyID", party.LegalRegistrationID)
		if party.LegalRegistrationScheme != "" {
			id.CreateAttr("schemeID", party.LegalRegistrationScheme)
		}
	case !seller && party.TaxID != "":
		add(legal, "cbc:CompanyID", party.TaxID)
	}

	c := party.Contact
	if c.Name != "" || c.Phone != "" || c.Email != "" {
		contact := el.CreateElement("cac:Contact")
		addOpt(contact, "cbc:Name", c.Name)
		addOpt(contact, "cbc:Telephone", c.Phone)
		addOpt(contact, "cbc:ElectronicMail", c.Email)
	}
}

func ublPaymentMeans(root *etree.Element, inv *model.Invoice, credit bool) {
	pay := inv.Payment
	means := root.CreateElement("cac:PaymentMeans")
	add(means, "cbc:PaymentMeansCode", pay.EffectiveMeansCode())
	if credit && inv.DueDate != nil {
		add(means, "cbc:PaymentDueDate", formatDate(*inv.DueDate))
	}
	addOpt(means, "cbc:PaymentID", pay.RemittanceInfo)

	if pay.CardAccountID != "" {
		card := means.CreateElement("cac:CardAccount")
		add(card, "cbc:PrimaryAccountNumberID", pay.CardAccountID)
		add(card, "cbc:NetworkID", "NA")
	}
	if pay.IBAN != "" {
		account := means.CreateElement("cac:PayeeFinancialAccount")
		add(account, "cbc:ID", pay.IBAN)
		addOpt(account, "cbc:Name", pay.AccountName)
		if pay.BIC != "" {
			add(account.CreateElement("cac:FinancialInstitutionBranch"), "cbc:ID", pay.BIC)
		}
	}
	if pay.MandateReference != "" {
		mandate := means.CreateElement("cac:PaymentMandate")
		add(mandate, "cbc:ID", pay.MandateReference)
		if pay.DebitedAccountID != "" {
			add(mandate.CreateElement("cac:PayerFinancialAccount"), "cbc:ID", pay.DebitedAccountID)
		}
	}
}

// ublTaxCategory writes a TaxCategory/ClassifiedTaxCategory. Exemption reasons
// are only carried in the VAT breakdown.
func ublTaxCategory(parent *etree.Element, tag string, category model.TaxCategory, rate decimal.Decimal, breakdown bool) {
	el := parent.CreateElement(tag)
	add(el, "cbc:ID", string(category))
	if category != model.TaxCategoryNotSubject {
		add(el, "cbc:Percent", dec.Percent(rate))
	}
	if breakdown {
		rule := tax.MustLookup(category)
		addOpt(el, "cbc:TaxExemptionReasonCode", rule.ExemptionCode)
		addOpt(el, "cbc:TaxExemptionReason", rule.ExemptionReason)
	}
	add(el.CreateElement("cac:TaxScheme"), "cbc:ID", "VAT")
}

func boolText(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

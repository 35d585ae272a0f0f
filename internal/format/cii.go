package format

import (
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/pdf"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

const (
	nsCIIRsm = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
	nsCIIRam = "urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
	nsCIIQdt = "urn:un:unece:uncefact:data:standard:QualifiedDataType:100"
	nsCIIUdt = "urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100"
)

// buildCII writes a UN/CEFACT CrossIndustryInvoice (D16B)
func buildCII(inv *model.Invoice, p profile, _ time.Time) *etree.Document {
	basic := p.conformance == pdf.ConformanceBasic
	cur := inv.Currency

	doc := newDocument()
	root := doc.CreateElement("rsm:CrossIndustryInvoice")
	root.CreateAttr("xmlns:rsm", nsCIIRsm)
	root.CreateAttr("xmlns:ram", nsCIIRam)
	root.CreateAttr("xmlns:qdt", nsCIIQdt)
	root.CreateAttr("xmlns:udt", nsCIIUdt)

	ctx := root.CreateElement("rsm:ExchangedDocumentContext")
	if p.process != "" {
		add(ctx.CreateElement("ram:BusinessProcessSpecifiedDocumentContextParameter"), "ram:ID", p.process)
	}
	add(ctx.CreateElement("ram:GuidelineSpecifiedDocumentContextParameter"), "ram:ID", p.customization)

	header := root.CreateElement("rsm:ExchangedDocument")
	add(header, "ram:ID", inv.InvoiceNumber)
	add(header, "ram:TypeCode", string(inv.DocumentTypeCode))
	ciiDate(header.CreateElement("ram:IssueDateTime"), "udt:DateTimeString", inv.InvoiceDate)
	if inv.Note != "" {
		add(header.CreateElement("ram:IncludedNote"), "ram:Content", inv.Note)
	}

	tx := root.CreateElement("rsm:SupplyChainTradeTransaction")

	for i, line := range inv.Lines {
		item := tx.CreateElement("ram:IncludedSupplyChainTradeLineItem")
		add(item.CreateElement("ram:AssociatedDocumentLineDocument"), "ram:LineID", lineID(line, i))

		product := item.CreateElement("ram:SpecifiedTradeProduct")
		if !basic {
			addOpt(product, "ram:SellerAssignedID", line.SellerItemID)
		}
		add(product, "ram:Name", line.ItemName())
		if !basic && line.Description != "" && line.Description != line.ItemName() {
			add(product, "ram:Description", line.Description)
		}

		agreement := item.CreateElement("ram:SpecifiedLineTradeAgreement")
		add(agreement.CreateElement("ram:NetPriceProductTradePrice"), "ram:ChargeAmount", dec.Amount(line.UnitPrice))

		qty := add(item.CreateElement("ram:SpecifiedLineTradeDelivery"), "ram:BilledQuantity", dec.Quantity(line.Quantity))
		qty.CreateAttr("unitCode", line.EffectiveUnitCode())

		settlement := item.CreateElement("ram:SpecifiedLineTradeSettlement")
		ciiTradeTax(settlement.CreateElement("ram:ApplicableTradeTax"), line.TaxCategory, line.Rate())
		add(settlement.CreateElement("ram:SpecifiedTradeSettlementLineMonetarySummation"), "ram:LineTotalAmount", dec.Amount(line.LineTotal))
	}

	agreement := tx.CreateElement("ram:ApplicableHeaderTradeAgreement")
	addOpt(agreement, "ram:BuyerReference", inv.BuyerReference)
	ciiParty(agreement.CreateElement("ram:SellerTradeParty"), inv.Seller, true)
	ciiParty(agreement.CreateElement("ram:BuyerTradeParty"), inv.Buyer, false)
	if inv.OrderReference != "" {
		add(agreement.CreateElement("ram:BuyerOrderReferencedDocument"), "ram:IssuerAssignedID", inv.OrderReference)
	}

	tx.CreateElement("ram:ApplicableHeaderTradeDelivery")

	settlement := tx.CreateElement("ram:ApplicableHeaderTradeSettlement")
	addOpt(settlement, "ram:PaymentReference", inv.Payment.RemittanceInfo)
	add(settlement, "ram:InvoiceCurrencyCode", cur)
	ciiPaymentMeans(settlement, inv.Payment)

	for _, b := range tax.Buckets(inv) {
		el := settlement.CreateElement("ram:ApplicableTradeTax")
		add(el, "ram:CalculatedAmount", dec.Amount(b.Tax))
		add(el, "ram:TypeCode", "VAT")
		addOpt(el, "ram:ExemptionReason", b.Rule.ExemptionReason)
		add(el, "ram:BasisAmount", dec.Amount(b.Basis))
		add(el, "ram:CategoryCode", string(b.Category))
		addOpt(el, "ram:ExemptionReasonCode", b.Rule.ExemptionCode)
		if b.Category != model.TaxCategoryNotSubject {
			add(el, "ram:RateApplicablePercent", dec.Percent(b.Rate))
		}
	}

	if inv.BillingPeriod != nil {
		period := settlement.CreateElement("ram:BillingSpecifiedPeriod")
		ciiDate(period.CreateElement("ram:StartDateTime"), "udt:DateTimeString", inv.BillingPeriod.Start)
		ciiDate(period.CreateElement("ram:EndDateTime"), "udt:DateTimeString", inv.BillingPeriod.End)
	}

	for _, ac := range inv.AllowanceCharges {
		el := settlement.CreateElement("ram:SpecifiedTradeAllowanceCharge")
		add(el.CreateElement("ram:ChargeIndicator"), "udt:Indicator", boolText(ac.ChargeIndicator))
		if ac.Percentage != nil {
			add(el, "ram:CalculationPercent", dec.Percent(*ac.Percentage))
		}
		if ac.BaseAmount != nil {
			add(el, "ram:BasisAmount", dec.Amount(*ac.BaseAmount))
		}
		add(el, "ram:ActualAmount", dec.Amount(ac.Amount))
		addOpt(el, "ram:ReasonCode", ac.ReasonCode)
		addOpt(el, "ram:Reason", ac.Reason)
		ciiTradeTax(el.CreateElement("ram:CategoryTradeTax"), ac.TaxCategory, ac.Rate())
	}

	if inv.Payment.Terms != "" || inv.DueDate != nil || inv.Payment.MandateReference != "" {
		terms := settlement.CreateElement("ram:SpecifiedTradePaymentTerms")
		addOpt(terms, "ram:Description", inv.Payment.Terms)
		if inv.DueDate != nil {
			ciiDate(terms.CreateElement("ram:DueDateDateTime"), "udt:DateTimeString", *inv.DueDate)
		}
		addOpt(terms, "ram:DirectDebitMandateID", inv.Payment.MandateReference)
	}

	totals := inv.Totals
	sum := settlement.CreateElement("ram:SpecifiedTradeSettlementHeaderMonetarySummation")
	add(sum, "ram:LineTotalAmount", dec.Amount(totals.Subtotal))
	if !totals.ChargeTotal.IsZero() {
		add(sum, "ram:ChargeTotalAmount", dec.Amount(totals.ChargeTotal))
	}
	if !totals.AllowanceTotal.IsZero() {
		add(sum, "ram:AllowanceTotalAmount", dec.Amount(totals.AllowanceTotal))
	}
	add(sum, "ram:TaxBasisTotalAmount", dec.Amount(totals.EffectiveTaxBasis()))
	addAmount(sum, "ram:TaxTotalAmount", dec.Amount(totals.TaxAmount), cur)
	add(sum, "ram:GrandTotalAmount", dec.Amount(totals.TotalAmount))
	if !totals.PrepaidAmount.IsZero() {
		add(sum, "ram:TotalPrepaidAmount", dec.Amount(totals.PrepaidAmount))
	}
	add(sum, "ram:DuePayableAmount", dec.Amount(totals.EffectiveAmountDue()))

	if ref := inv.PrecedingInvoice; ref != nil && ref.Number != "" {
		el := settlement.CreateElement("ram:InvoiceReferencedDocument")
		add(el, "ram:IssuerAssignedID", ref.Number)
		if ref.IssueDate != nil {
			ciiDate(el.CreateElement("ram:FormattedIssueDateTime"), "qdt:DateTimeString", *ref.IssueDate)
		}
	}

	return doc
}

func ciiParty(el *etree.Element, party model.Party, seller bool) {
	add(el, "ram:Name", party.Name)

	legalID := party.LegalRegistrationID
	if legalID == "" && !seller {
		legalID = party.TaxID
	}
	if legalID != "" || party.TradingName != "" {
		org := el.CreateElement("ram:SpecifiedLegalOrganization")
		if legalID != "" {
			id := add(org, "ram:ID", legalID)
			if party.LegalRegistrationScheme != "" && party.LegalRegistrationID != "" {
				id.CreateAttr("schemeID", party.LegalRegistrationScheme)
			}
		}
		addOpt(org, "ram:TradingBusinessName", party.TradingName)
	}

	c := party.Contact
	if c.Name != "" || c.Phone != "" || c.Email != "" {
		contact := el.CreateElement("ram:DefinedTradeContact")
		addOpt(contact, "ram:PersonName", c.Name)
		if c.Phone != "" {
			add(contact.CreateElement("ram:TelephoneUniversalCommunication"), "ram:CompleteNumber", c.Phone)
		}
		if c.Email != "" {
			add(contact.CreateElement("ram:EmailURIUniversalCommunication"), "ram:URIID", c.Email)
		}
	}

	addr := el.CreateElement("ram:PostalTradeAddress")
	addOpt(addr, "ram:PostcodeCode", party.PostalCode)
	addOpt(addr, "ram:LineOne", party.Street)
	addOpt(addr, "ram:LineTwo", party.AdditionalStreet)
	addOpt(addr, "ram:CityName", party.City)
	add(addr, "ram:CountryID", party.CountryCode)
	addOpt(addr, "ram:CountrySubDivisionName", party.Subdivision)

	if party.ElectronicAddress != "" {
		uri := add(el.CreateElement("ram:URIUniversalCommunication"), "ram:URIID", party.ElectronicAddress)
		uri.CreateAttr("schemeID", party.ElectronicAddressScheme)
	}

	if party.VATID != "" {
		add(el.CreateElement("ram:SpecifiedTaxRegistration"), "ram:ID", party.VATID).CreateAttr("schemeID", "VA")
	}
	if seller && party.TaxID != "" && party.TaxID != party.VATID {
		add(el.CreateElement("ram:SpecifiedTaxRegistration"), "ram:ID", party.TaxID).CreateAttr("schemeID", "FC")
	}
}

func ciiPaymentMeans(settlement *etree.Element, pay model.Payment) {
	means := settlement.CreateElement("ram:SpecifiedTradeSettlementPaymentMeans")
	add(means, "ram:TypeCode", pay.EffectiveMeansCode())

	if pay.CardAccountID != "" {
		add(means.CreateElement("ram:ApplicableTradeSettlementFinancialCard"), "ram:ID", pay.CardAccountID)
	}
	if pay.DebitedAccountID != "" {
		add(means.CreateElement("ram:PayerPartyDebtorFinancialAccount"), "ram:IBANID", pay.DebitedAccountID)
	}
	if pay.IBAN != "" {
		account := means.CreateElement("ram:PayeePartyCreditorFinancialAccount")
		add(account, "ram:IBANID", pay.IBAN)
		addOpt(account, "ram:AccountName", pay.AccountName)
	}
	if pay.BIC != "" {
		add(means.CreateElement("ram:PayeeSpecifiedCreditorFinancialInstitution"), "ram:BICID", pay.BIC)
	}
}

func ciiTradeTax(el *etree.Element, category model.TaxCategory, rate decimal.Decimal) {
	add(el, "ram:TypeCode", "VAT")
	add(el, "ram:CategoryCode", string(category))
	if category != model.TaxCategoryNotSubject {
		add(el, "ram:RateApplicablePercent", dec.Percent(rate))
	}
}

// ciiDate writes a date in format 102 (YYYYMMDD)
func ciiDate(parent *etree.Element, tag string, t time.Time) {
	el := parent.CreateElement(tag)
	el.CreateAttr("format", "102")
	el.SetText(t.Format("20060102"))
}

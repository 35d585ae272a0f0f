package format

import (
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

const (
	nsKSeF          = "http://crd.gov.pl/wzor/2023/06/29/12648/"
	ksefSystemInfo  = "einvoice-engine"
	ksefTransfer    = "6"
	ksefCard        = "2"
	ksefCash        = "1"
	ksefFormVersion = "1-0E"
)

// ksefSlot is one P_13_x/P_14_x pair of the FA(2) VAT summary
type ksefSlot struct {
	net    string
	tax    string // empty when the slot carries no tax amount
	basis  decimal.Decimal
	amount decimal.Decimal
	used   bool
}

// buildKSeF writes a Polish structured invoice, schema FA(2).
// DataWytworzeniaFa is the only field taken from now.
func buildKSeF(inv *model.Invoice, _ profile, now time.Time) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("Faktura")
	root.CreateAttr("xmlns", nsKSeF)

	header := root.CreateElement("Naglowek")
	form := add(header, "KodFormularza", "FA")
	form.CreateAttr("kodSystemowy", "FA (2)")
	form.CreateAttr("wersjaSchemy", ksefFormVersion)
	add(header, "WariantFormularza", "2")
	add(header, "DataWytworzeniaFa", now.UTC().Format("2006-01-02T15:04:05Z"))
	add(header, "SystemInfo", ksefSystemInfo)

	seller := root.CreateElement("Podmiot1")
	sellerID := seller.CreateElement("DaneIdentyfikacyjne")
	add(sellerID, "NIP", polishNIP(inv.Seller))
	add(sellerID, "Nazwa", inv.Seller.Name)
	ksefAddress(seller.CreateElement("Adres"), inv.Seller)
	if c := inv.Seller.Contact; c.Email != "" || c.Phone != "" {
		contact := seller.CreateElement("DaneKontaktowe")
		addOpt(contact, "Email", c.Email)
		addOpt(contact, "Telefon", c.Phone)
	}

	buyer := root.CreateElement("Podmiot2")
	buyerID := buyer.CreateElement("DaneIdentyfikacyjne")
	switch nip := polishNIP(inv.Buyer); {
	case nip != "":
		add(buyerID, "NIP", nip)
	case inv.Buyer.VATID != "":
		country, number := splitVAT(inv.Buyer.VATID, inv.Buyer.CountryCode)
		add(buyerID, "KodUE", country)
		add(buyerID, "NrVatUE", number)
	default:
		add(buyerID, "BrakID", "1")
	}
	add(buyerID, "Nazwa", inv.Buyer.Name)
	ksefAddress(buyer.CreateElement("Adres"), inv.Buyer)

	fa := root.CreateElement("Fa")
	add(fa, "KodWaluty", inv.Currency)
	add(fa, "P_1", formatDate(inv.InvoiceDate))
	add(fa, "P_2", inv.InvoiceNumber)

	slots := ksefSlots(tax.Buckets(inv))
	for _, s := range slots {
		if !s.used {
			continue
		}
		add(fa, s.net, dec.Amount(s.basis))
		if s.tax != "" {
			add(fa, s.tax, dec.Amount(s.amount))
		}
	}
	add(fa, "P_15", dec.Amount(inv.Totals.TotalAmount))

	notes := fa.CreateElement("Adnotacje")
	add(notes, "P_16", "2")
	add(notes, "P_17", "2")
	reverse := "2"
	for _, line := range inv.Lines {
		if line.TaxCategory == model.TaxCategoryReverseCharge {
			reverse = "1"
		}
	}
	add(notes, "P_18", reverse)
	add(notes, "P_18A", "2")
	exemption := notes.CreateElement("Zwolnienie")
	if reason := exemptionReason(inv); reason != "" {
		add(exemption, "P_19", "1")
		add(exemption, "P_19A", reason)
	} else {
		add(exemption, "P_19N", "1")
	}
	add(notes.CreateElement("NoweSrodkiTransportu"), "P_22N", "1")
	add(notes, "P_23", "2")
	add(notes.CreateElement("PMarzy"), "P_PMarzyN", "1")

	kind := "VAT"
	if inv.IsCreditNote() {
		kind = "KOR"
	}
	add(fa, "RodzajFaktury", kind)
	if ref := inv.PrecedingInvoice; inv.IsCreditNote() && ref != nil {
		corrected := fa.CreateElement("DaneFaKorygowanej")
		if ref.IssueDate != nil {
			add(corrected, "DataWystFaKorygowanej", formatDate(*ref.IssueDate))
		}
		add(corrected, "NrFaKorygowanej", ref.Number)
		add(corrected, "NrKSeFN", "1")
	}

	for i, line := range inv.Lines {
		row := fa.CreateElement("FaWiersz")
		add(row, "NrWierszaFa", lineNumber(line, i))
		add(row, "P_7", line.ItemName())
		add(row, "P_8A", line.EffectiveUnitCode())
		add(row, "P_8B", dec.Quantity(line.Quantity))
		add(row, "P_9A", dec.Amount(line.UnitPrice))
		add(row, "P_11", dec.Amount(line.LineTotal))
		add(row, "P_12", ksefRate(line.TaxCategory, line.Rate()))
	}

	payment := fa.CreateElement("Platnosc")
	if inv.DueDate != nil {
		add(payment.CreateElement("TerminPlatnosci"), "Termin", formatDate(*inv.DueDate))
	}
	add(payment, "FormaPlatnosci", ksefPaymentForm(inv.Payment.EffectiveMeansCode()))
	if inv.Payment.IBAN != "" {
		account := payment.CreateElement("RachunekBankowy")
		add(account, "NrRB", inv.Payment.IBAN)
		addOpt(account, "SWIFT", inv.Payment.BIC)
	}

	return doc
}

func ksefAddress(el *etree.Element, party model.Party) {
	add(el, "KodKraju", party.CountryCode)
	add(el, "AdresL1", party.Street)
	line2 := strings.TrimSpace(party.PostalCode + " " + party.City)
	addOpt(el, "AdresL2", line2)
}

// ksefSlots maps VAT buckets onto the fixed FA(2) summary fields, in schema order
func ksefSlots(buckets []tax.Bucket) []ksefSlot {
	slots := []ksefSlot{
		{net: "P_13_1", tax: "P_14_1"}, // 23% / 22%
		{net: "P_13_2", tax: "P_14_2"}, // 8% / 7%
		{net: "P_13_3", tax: "P_14_3"}, // 5%
		{net: "P_13_6_1"},              // 0% domestic
		{net: "P_13_6_2"},              // 0% intra-community
		{net: "P_13_6_3"},              // 0% export
		{net: "P_13_7"},                // exempt
		{net: "P_13_8"},                // outside Polish VAT
		{net: "P_13_10"},               // reverse charge
	}
	for _, b := range buckets {
		i := ksefSlotIndex(b)
		slots[i].used = true
		slots[i].basis = slots[i].basis.Add(b.Basis)
		slots[i].amount = slots[i].amount.Add(b.Tax)
	}
	return slots
}

func ksefSlotIndex(b tax.Bucket) int {
	switch b.Category {
	case model.TaxCategoryZeroRated:
		return 3
	case model.TaxCategoryIntraEU:
		return 4
	case model.TaxCategoryExport:
		return 5
	case model.TaxCategoryExempt:
		return 6
	case model.TaxCategoryNotSubject, model.TaxCategoryCanaryIGIC:
		return 7
	case model.TaxCategoryReverseCharge:
		return 8
	}
	rate := b.Rate.IntPart()
	switch {
	case rate <= 5:
		return 2
	case rate <= 8:
		return 1
	default:
		return 0
	}
}

func ksefRate(category model.TaxCategory, rate decimal.Decimal) string {
	switch category {
	case model.TaxCategoryZeroRated, model.TaxCategoryIntraEU, model.TaxCategoryExport:
		return "0"
	case model.TaxCategoryExempt:
		return "zw"
	case model.TaxCategoryReverseCharge:
		return "oo"
	case model.TaxCategoryNotSubject, model.TaxCategoryCanaryIGIC:
		return "np"
	}
	return rate.String()
}

func ksefPaymentForm(meansCode string) string {
	switch meansCode {
	case "10":
		return ksefCash
	case "48", "54", "55":
		return ksefCard
	default:
		return ksefTransfer
	}
}

// polishNIP returns the 10-digit NIP from the tax id or a PL VAT id
func polishNIP(party model.Party) string {
	for _, candidate := range []string{party.TaxID, party.VATID} {
		s := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(candidate))
		s = strings.TrimPrefix(s, "PL")
		if len(s) == 10 && strings.Trim(s, "0123456789") == "" {
			return s
		}
	}
	return ""
}

// exemptionReason returns the legal basis text when any line is VAT exempt
func exemptionReason(inv *model.Invoice) string {
	for _, line := range inv.Lines {
		if line.TaxCategory == model.TaxCategoryExempt {
			return tax.ExemptionReason(model.TaxCategoryExempt)
		}
	}
	return ""
}

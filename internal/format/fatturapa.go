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
	nsFatturaPA         = "http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.2"
	fatturaVersion      = "FPR12"
	destinatarioDefault = "0000000"
	destinatarioForeign = "XXXXXXX"
)

// FatturaPA payment modes (ModalitaPagamento) by UNTDID 4461 code
var fatturaPaymentModes = map[string]string{
	"10": "MP01", // cash
	"20": "MP02", // cheque
	"30": "MP05",
	"31": "MP05",
	"48": "MP08",
	"49": "MP16",
	"54": "MP08",
	"55": "MP08",
	"57": "MP19",
	"58": "MP05",
	"59": "MP19",
}

// buildFatturaPA writes an Italian FatturaElettronica (FPR12)
func buildFatturaPA(inv *model.Invoice, _ profile, _ time.Time) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("p:FatturaElettronica")
	root.CreateAttr("versione", fatturaVersion)
	root.CreateAttr("xmlns:p", nsFatturaPA)
	root.CreateAttr("xmlns:ds", "http://www.w3.org/2000/09/xmldsig#")
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")

	header := root.CreateElement("FatturaElettronicaHeader")

	transmission := header.CreateElement("DatiTrasmissione")
	country, code := splitVAT(inv.Seller.VATID, inv.Seller.CountryCode)
	if code == "" {
		code = inv.Seller.TaxID
	}
	sender := transmission.CreateElement("IdTrasmittente")
	add(sender, "IdPaese", country)
	add(sender, "IdCodice", code)
	add(transmission, "ProgressivoInvio", progressivo(inv.InvoiceNumber))
	add(transmission, "FormatoTrasmissione", fatturaVersion)
	destinatario, pec := fatturaDestinatario(inv.Buyer)
	add(transmission, "CodiceDestinatario", destinatario)
	if inv.Seller.Contact.Phone != "" || inv.Seller.Contact.Email != "" {
		contacts := transmission.CreateElement("ContattiTrasmittente")
		addOpt(contacts, "Telefono", inv.Seller.Contact.Phone)
		addOpt(contacts, "Email", inv.Seller.Contact.Email)
	}
	addOpt(transmission, "PECDestinatario", pec)

	seller := header.CreateElement("CedentePrestatore")
	fatturaAnagrafica(seller.CreateElement("DatiAnagrafici"), inv.Seller, true)
	fatturaSede(seller.CreateElement("Sede"), inv.Seller)
	if inv.Seller.Contact.Phone != "" || inv.Seller.Contact.Email != "" {
		contacts := seller.CreateElement("Contatti")
		addOpt(contacts, "Telefono", inv.Seller.Contact.Phone)
		addOpt(contacts, "Email", inv.Seller.Contact.Email)
	}

	buyer := header.CreateElement("CessionarioCommittente")
	fatturaAnagrafica(buyer.CreateElement("DatiAnagrafici"), inv.Buyer, false)
	fatturaSede(buyer.CreateElement("Sede"), inv.Buyer)

	body := root.CreateElement("FatturaElettronicaBody")
	general := body.CreateElement("DatiGenerali")
	document := general.CreateElement("DatiGeneraliDocumento")
	docType := "TD01"
	if inv.IsCreditNote() {
		docType = "TD04"
	}
	add(document, "TipoDocumento", docType)
	add(document, "Divisa", inv.Currency)
	add(document, "Data", formatDate(inv.InvoiceDate))
	add(document, "Numero", inv.InvoiceNumber)
	add(document, "ImportoTotaleDocumento", dec.Amount(inv.Totals.TotalAmount))
	for _, chunk := range splitRunes(cleanText(inv.Note), 200) {
		add(document, "Causale", chunk)
	}

	if inv.OrderReference != "" {
		add(general.CreateElement("DatiOrdineAcquisto"), "IdDocumento", inv.OrderReference)
	}
	if ref := inv.PrecedingInvoice; ref != nil && ref.Number != "" {
		linked := general.CreateElement("DatiFattureCollegate")
		add(linked, "IdDocumento", ref.Number)
		if ref.IssueDate != nil {
			add(linked, "Data", formatDate(*ref.IssueDate))
		}
	}

	goods := body.CreateElement("DatiBeniServizi")
	for i, line := range inv.Lines {
		el := goods.CreateElement("DettaglioLinee")
		add(el, "NumeroLinea", lineNumber(line, i))
		if line.SellerItemID != "" {
			article := el.CreateElement("CodiceArticolo")
			add(article, "CodiceTipo", "INTERNO")
			add(article, "CodiceValore", line.SellerItemID)
		}
		add(el, "Descrizione", line.ItemName())
		add(el, "Quantita", fatturaQuantity(line.Quantity))
		add(el, "UnitaMisura", line.EffectiveUnitCode())
		add(el, "PrezzoUnitario", fatturaQuantity(line.UnitPrice))
		add(el, "PrezzoTotale", dec.Amount(line.LineTotal))
		add(el, "AliquotaIVA", dec.Percent(line.Rate()))
		if line.TaxCategory != model.TaxCategoryStandard {
			addOpt(el, "Natura", tax.MustLookup(line.TaxCategory).FatturaNatura)
		}
	}

	for _, b := range tax.Buckets(inv) {
		el := goods.CreateElement("DatiRiepilogo")
		add(el, "AliquotaIVA", dec.Percent(b.Rate))
		if b.Category != model.TaxCategoryStandard {
			addOpt(el, "Natura", b.Rule.FatturaNatura)
		}
		add(el, "ImponibileImporto", dec.Amount(b.Basis))
		add(el, "Imposta", dec.Amount(b.Tax))
		if b.Category == model.TaxCategoryStandard {
			add(el, "EsigibilitaIVA", "I")
		}
		addOpt(el, "RiferimentoNormativo", b.Rule.ExemptionReason)
	}

	payment := body.CreateElement("DatiPagamento")
	add(payment, "CondizioniPagamento", "TP02")
	detail := payment.CreateElement("DettaglioPagamento")
	if inv.Payment.AccountName != "" {
		add(detail, "Beneficiario", inv.Payment.AccountName)
	}
	add(detail, "ModalitaPagamento", fatturaPaymentMode(inv.Payment.EffectiveMeansCode()))
	if inv.DueDate != nil {
		add(detail, "DataScadenzaPagamento", formatDate(*inv.DueDate))
	}
	add(detail, "ImportoPagamento", dec.Amount(inv.Totals.EffectiveAmountDue()))
	addOpt(detail, "IBAN", inv.Payment.IBAN)
	addOpt(detail, "BIC", inv.Payment.BIC)

	return doc
}

func fatturaAnagrafica(el *etree.Element, party model.Party, seller bool) {
	if party.VATID != "" {
		country, code := splitVAT(party.VATID, party.CountryCode)
		id := el.CreateElement("IdFiscaleIVA")
		add(id, "IdPaese", country)
		add(id, "IdCodice", code)
	}
	addOpt(el, "CodiceFiscale", party.TaxID)
	add(el.CreateElement("Anagrafica"), "Denominazione", party.Name)
	if seller {
		// Ordinary regime
		add(el, "RegimeFiscale", "RF01")
	}
}

func fatturaSede(el *etree.Element, party model.Party) {
	add(el, "Indirizzo", party.Street)
	postcode := party.PostalCode
	if party.CountryCode != "IT" && postcode == "" {
		postcode = "00000"
	}
	add(el, "CAP", postcode)
	add(el, "Comune", party.City)
	if party.CountryCode == "IT" && len(party.Subdivision) == 2 {
		add(el, "Provincia", strings.ToUpper(party.Subdivision))
	}
	add(el, "Nazione", party.CountryCode)
}

// fatturaDestinatario returns CodiceDestinatario and, for PEC delivery, the PEC address
func fatturaDestinatario(buyer model.Party) (string, string) {
	addr := strings.TrimSpace(buyer.ElectronicAddress)
	switch {
	case buyer.CountryCode != "" && buyer.CountryCode != "IT":
		return destinatarioForeign, ""
	case strings.Contains(addr, "@"):
		return destinatarioDefault, addr
	case len(addr) == 6 || len(addr) == 7:
		return strings.ToUpper(addr), ""
	default:
		return destinatarioDefault, ""
	}
}

func fatturaPaymentMode(meansCode string) string {
	if mode, ok := fatturaPaymentModes[meansCode]; ok {
		return mode
	}
	return "MP05"
}

// fatturaQuantity keeps at least two decimals, more when significant
func fatturaQuantity(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

// splitVAT separates an EU VAT id into country prefix and number
func splitVAT(vatID, fallbackCountry string) (string, string) {
	vatID = strings.ToUpper(strings.ReplaceAll(vatID, " ", ""))
	if len(vatID) > 2 && vatID[0] >= 'A' && vatID[0] <= 'Z' && vatID[1] >= 'A' && vatID[1] <= 'Z' {
		return vatID[:2], vatID[2:]
	}
	return fallbackCountry, vatID
}

// progressivo derives the 1-10 character alphanumeric transmission id
func progressivo(invoiceNumber string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(invoiceNumber) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 10 {
		s = s[len(s)-10:]
	}
	if s == "" {
		s = "1"
	}
	return s
}

// lineNumber returns a numeric line id as required by national syntaxes
func lineNumber(line model.LineItem, index int) string {
	id := lineID(line, index)
	for _, r := range id {
		if r < '0' || r > '9' {
			return lineID(model.LineItem{}, index)
		}
	}
	return id
}

func splitRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	return append(out, string(runes))
}

package format

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/pdf"
)

// Summary is the handful of fields read back from a produced document
type Summary struct {
	Syntax        string          `json:"syntax"`
	InvoiceNumber string          `json:"invoiceNumber"`
	IssueDate     string          `json:"issueDate"`
	Currency      string          `json:"currency"`
	SellerName    string          `json:"sellerName"`
	BuyerName     string          `json:"buyerName"`
	TaxTotal      decimal.Decimal `json:"taxTotal"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`

	// Attachment is set when the XML came out of a hybrid PDF
	Attachment string `json:"attachment,omitempty"`
}

// Reader reads one syntax back into a Summary
type Reader interface {
	// Read parses content into a Summary
	Read(ctx context.Context, r io.Reader) (*Summary, error)

	// CanRead returns true if the reader handles this content
	CanRead(content []byte) bool

	// Syntax returns the syntax name
	Syntax() string
}

// ReaderRegistry holds readers in detection order
type ReaderRegistry struct {
	readers []Reader
}

// NewReaderRegistry creates a registry with every built-in reader
func NewReaderRegistry() *ReaderRegistry {
	return &ReaderRegistry{
		readers: []Reader{
			ublReader{root: "Invoice", syntax: SyntaxUBL},
			ublReader{root: "CreditNote", syntax: syntaxCreditNote},
			ciiReader{},
			fatturaReader{},
			ksefReader{},
		},
	}
}

// Register adds a custom reader ahead of the built-in ones
func (r *ReaderRegistry) Register(reader Reader) {
	r.readers = append([]Reader{reader}, r.readers...)
}

// Detect identifies the reader for content
func (r *ReaderRegistry) Detect(content []byte) (Reader, error) {
	for _, reader := range r.readers {
		if reader.CanRead(content) {
			return reader, nil
		}
	}
	return nil, model.NewParseError("unknown", "root", "unknown XML format, no matching reader found", nil)
}

// Read detects the syntax and reads the summary
func (r *ReaderRegistry) Read(ctx context.Context, content []byte) (*Summary, error) {
	reader, err := r.Detect(content)
	if err != nil {
		return nil, err
	}
	return reader.Read(ctx, bytes.NewReader(content))
}

// ReadSummary reads any supported XML syntax
func ReadSummary(content []byte) (*Summary, error) {
	return NewReaderRegistry().Read(context.Background(), content)
}

// Inspect reads XML directly, or the invoice XML embedded in a hybrid PDF
func Inspect(content []byte) (*Summary, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(content), []byte("%PDF-")) {
		return ReadSummary(content)
	}

	name, xmlContent, err := pdf.ExtractInvoiceXML(content)
	if err != nil {
		if errors.Is(err, pdf.ErrNoInvoiceXML) {
			return nil, model.NewParseError("pdf", "attachment", "PDF carries no invoice XML", err)
		}
		return nil, model.NewParseError("pdf", "attachment", "cannot read PDF attachments", err)
	}
	summary, err := ReadSummary(xmlContent)
	if err != nil {
		return nil, err
	}
	summary.Attachment = name
	return summary, nil
}

// rootName returns the local name and namespace of the document element
func rootName(content []byte) (xml.Name, bool) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.Name{}, false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name, true
		}
	}
}

func parseAmount(syntax, field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, model.NewParseError(syntax, field, "missing amount", nil)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, model.NewParseError(syntax, field, "invalid amount", err)
	}
	return d, nil
}

func sumAmounts(syntax, field string, values []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		d, err := parseAmount(syntax, field, v)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, nil
}

func decode(syntax string, r io.Reader, v any) error {
	if err := xml.NewDecoder(r).Decode(v); err != nil {
		return model.NewParseError(syntax, "root", "failed to decode XML", err)
	}
	return nil
}

func requireNumber(s *Summary) (*Summary, error) {
	if strings.TrimSpace(s.InvoiceNumber) == "" {
		return nil, model.NewParseError(s.Syntax, "invoice_number", "document carries no invoice number", nil)
	}
	return s, nil
}

// UBL 2.1 Invoice and CreditNote

type ublDocument struct {
	ID         string   `xml:"ID"`
	IssueDate  string   `xml:"IssueDate"`
	Currency   string   `xml:"DocumentCurrencyCode"`
	Seller     string   `xml:"AccountingSupplierParty>Party>PartyLegalEntity>RegistrationName"`
	Buyer      string   `xml:"AccountingCustomerParty>Party>PartyLegalEntity>RegistrationName"`
	TaxAmounts []string `xml:"TaxTotal>TaxAmount"`
	GrandTotal string   `xml:"LegalMonetaryTotal>TaxInclusiveAmount"`
}

type ublReader struct {
	root   string
	syntax string
}

func (u ublReader) Syntax() string {
	return u.syntax
}

func (u ublReader) CanRead(content []byte) bool {
	name, ok := rootName(content)
	return ok && name.Local == u.root && strings.Contains(name.Space, "oasis:names:specification:ubl")
}

func (u ublReader) Read(_ context.Context, r io.Reader) (*Summary, error) {
	var doc ublDocument
	if err := decode(u.syntax, r, &doc); err != nil {
		return nil, err
	}

	grand, err := parseAmount(u.syntax, "LegalMonetaryTotal/TaxInclusiveAmount", doc.GrandTotal)
	if err != nil {
		return nil, err
	}
	taxTotal := decimal.Zero
	if len(doc.TaxAmounts) > 0 {
		if taxTotal, err = parseAmount(u.syntax, "TaxTotal/TaxAmount", doc.TaxAmounts[0]); err != nil {
			return nil, err
		}
	}

	return requireNumber(&Summary{
		Syntax:        u.syntax,
		InvoiceNumber: doc.ID,
		IssueDate:     doc.IssueDate,
		Currency:      doc.Currency,
		SellerName:    doc.Seller,
		BuyerName:     doc.Buyer,
		TaxTotal:      taxTotal,
		GrandTotal:    grand,
	})
}

// UN/CEFACT CII

type ciiDocument struct {
	ID         string `xml:"ExchangedDocument>ID"`
	IssueDate  string `xml:"ExchangedDocument>IssueDateTime>DateTimeString"`
	Seller     string `xml:"SupplyChainTradeTransaction>ApplicableHeaderTradeAgreement>SellerTradeParty>Name"`
	Buyer      string `xml:"SupplyChainTradeTransaction>ApplicableHeaderTradeAgreement>BuyerTradeParty>Name"`
	Currency   string `xml:"SupplyChainTradeTransaction>ApplicableHeaderTradeSettlement>InvoiceCurrencyCode"`
	TaxTotal   string `xml:"SupplyChainTradeTransaction>ApplicableHeaderTradeSettlement>SpecifiedTradeSettlementHeaderMonetarySummation>TaxTotalAmount"`
	GrandTotal string `xml:"SupplyChainTradeTransaction>ApplicableHeaderTradeSettlement>SpecifiedTradeSettlementHeaderMonetarySummation>GrandTotalAmount"`
}

type ciiReader struct{}

func (ciiReader) Syntax() string {
	return SyntaxCII
}

func (ciiReader) CanRead(content []byte) bool {
	name, ok := rootName(content)
	return ok && name.Local == "CrossIndustryInvoice"
}

func (ciiReader) Read(_ context.Context, r io.Reader) (*Summary, error) {
	var doc ciiDocument
	if err := decode(SyntaxCII, r, &doc); err != nil {
		return nil, err
	}

	grand, err := parseAmount(SyntaxCII, "GrandTotalAmount", doc.GrandTotal)
	if err != nil {
		return nil, err
	}
	taxTotal, err := parseAmount(SyntaxCII, "TaxTotalAmount", doc.TaxTotal)
	if err != nil {
		return nil, err
	}

	issued := strings.TrimSpace(doc.IssueDate)
	if len(issued) == 8 {
		issued = issued[:4] + "-" + issued[4:6] + "-" + issued[6:]
	}

	return requireNumber(&Summary{
		Syntax:        SyntaxCII,
		InvoiceNumber: doc.ID,
		IssueDate:     issued,
		Currency:      doc.Currency,
		SellerName:    doc.Seller,
		BuyerName:     doc.Buyer,
		TaxTotal:      taxTotal,
		GrandTotal:    grand,
	})
}

// FatturaPA FPR12

type fatturaDocument struct {
	Number     string   `xml:"FatturaElettronicaBody>DatiGenerali>DatiGeneraliDocumento>Numero"`
	Date       string   `xml:"FatturaElettronicaBody>DatiGenerali>DatiGeneraliDocumento>Data"`
	Currency   string   `xml:"FatturaElettronicaBody>DatiGenerali>DatiGeneraliDocumento>Divisa"`
	GrandTotal string   `xml:"FatturaElettronicaBody>DatiGenerali>DatiGeneraliDocumento>ImportoTotaleDocumento"`
	Seller     string   `xml:"FatturaElettronicaHeader>CedentePrestatore>DatiAnagrafici>Anagrafica>Denominazione"`
	Buyer      string   `xml:"FatturaElettronicaHeader>CessionarioCommittente>DatiAnagrafici>Anagrafica>Denominazione"`
	Taxes      []string `xml:"FatturaElettronicaBody>DatiBeniServizi>DatiRiepilogo>Imposta"`
}

type fatturaReader struct{}

func (fatturaReader) Syntax() string {
	return SyntaxFatturaPA
}

func (fatturaReader) CanRead(content []byte) bool {
	name, ok := rootName(content)
	return ok && name.Local == "FatturaElettronica"
}

func (fatturaReader) Read(_ context.Context, r io.Reader) (*Summary, error) {
	var doc fatturaDocument
	if err := decode(SyntaxFatturaPA, r, &doc); err != nil {
		return nil, err
	}

	grand, err := parseAmount(SyntaxFatturaPA, "ImportoTotaleDocumento", doc.GrandTotal)
	if err != nil {
		return nil, err
	}
	taxTotal, err := sumAmounts(SyntaxFatturaPA, "DatiRiepilogo/Imposta", doc.Taxes)
	if err != nil {
		return nil, err
	}

	return requireNumber(&Summary{
		Syntax:        SyntaxFatturaPA,
		InvoiceNumber: doc.Number,
		IssueDate:     doc.Date,
		Currency:      doc.Currency,
		SellerName:    doc.Seller,
		BuyerName:     doc.Buyer,
		TaxTotal:      taxTotal,
		GrandTotal:    grand,
	})
}

// KSeF FA(2)

type ksefDocument struct {
	Number     string `xml:"Fa>P_2"`
	Date       string `xml:"Fa>P_1"`
	Currency   string `xml:"Fa>KodWaluty"`
	GrandTotal string `xml:"Fa>P_15"`
	Seller     string `xml:"Podmiot1>DaneIdentyfikacyjne>Nazwa"`
	Buyer      string `xml:"Podmiot2>DaneIdentyfikacyjne>Nazwa"`
	Tax1       string `xml:"Fa>P_14_1"`
	Tax2       string `xml:"Fa>P_14_2"`
	Tax3       string `xml:"Fa>P_14_3"`
}

type ksefReader struct{}

func (ksefReader) Syntax() string {
	return SyntaxKSeF
}

func (ksefReader) CanRead(content []byte) bool {
	name, ok := rootName(content)
	return ok && name.Local == "Faktura" && strings.HasPrefix(name.Space, "http://crd.gov.pl/wzor/")
}

func (ksefReader) Read(_ context.Context, r io.Reader) (*Summary, error) {
	var doc ksefDocument
	if err := decode(SyntaxKSeF, r, &doc); err != nil {
		return nil, err
	}

	grand, err := parseAmount(SyntaxKSeF, "P_15", doc.GrandTotal)
	if err != nil {
		return nil, err
	}
	var taxes []string
	for _, v := range []string{doc.Tax1, doc.Tax2, doc.Tax3} {
		if strings.TrimSpace(v) != "" {
			taxes = append(taxes, v)
		}
	}
	taxTotal, err := sumAmounts(SyntaxKSeF, "P_14_x", taxes)
	if err != nil {
		return nil, err
	}

	return requireNumber(&Summary{
		Syntax:        SyntaxKSeF,
		InvoiceNumber: doc.Number,
		IssueDate:     doc.Date,
		Currency:      doc.Currency,
		SellerName:    doc.Seller,
		BuyerName:     doc.Buyer,
		TaxTotal:      taxTotal,
		GrandTotal:    grand,
	})
}

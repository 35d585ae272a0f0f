package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/pdf"
	"github.com/rezonia/einvoice-engine/internal/tax"
)

const (
	methodText   = "llm-text"
	methodVision = "llm-vision"

	// pages of extracted text below this many characters count as a scan
	minTextLength = 40
	renderDPI     = 150
)

// LLMResponse is the JSON shape the extraction prompts ask for
type LLMResponse struct {
	InvoiceNumber    string          `json:"invoice_number"`
	Date             string          `json:"date"`
	DueDate          string          `json:"due_date"`
	Type             string          `json:"type"`
	Currency         string          `json:"currency"`
	BuyerReference   string          `json:"buyer_reference"`
	OrderReference   string          `json:"order_reference"`
	PrecedingInvoice string          `json:"preceding_invoice"`
	Seller           LLMParty        `json:"seller"`
	Buyer            LLMParty        `json:"buyer"`
	Payment          LLMPayment      `json:"payment"`
	Items            []LLMItem       `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TotalVAT         decimal.Decimal `json:"total_vat"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Notes            string          `json:"notes"`
}

// LLMParty is a seller or buyer as extracted
type LLMParty struct {
	Name        string `json:"name"`
	Street      string `json:"street"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	VATID       string `json:"vat_id"`
	TaxID       string `json:"tax_id"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	ContactName string `json:"contact_name"`
}

// LLMPayment holds the extracted bank details
type LLMPayment struct {
	IBAN  string `json:"iban"`
	BIC   string `json:"bic"`
	Terms string `json:"terms"`
}

// LLMItem is one extracted invoice line
type LLMItem struct {
	Number      int              `json:"number"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Unit        string           `json:"unit"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Amount      decimal.Decimal  `json:"amount"`
	VATRate     *decimal.Decimal `json:"vat_rate"`
	VATCategory string           `json:"vat_category"`
}

// Extractor turns an uploaded document into a canonical invoice
type Extractor struct {
	client Completer
	model  string
	pages  *pdf.TextReader
	logger *zap.Logger
}

// ExtractorOption configures the extractor
type ExtractorOption func(*Extractor)

// WithModel overrides the client's default model
func WithModel(model string) ExtractorOption {
	return func(e *Extractor) {
		e.model = model
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an extractor over any chat completer
func NewExtractor(client Completer, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pages = pdf.NewTextReader(e.logger)
	return e
}

// ExtractFromFile extracts an invoice from a PDF, image or plain-text document.
// Transport failures are classified so callers can retry 429 and 5xx responses.
func (e *Extractor) ExtractFromFile(ctx context.Context, data []byte, filename, mimeType string) (*model.Extraction, error) {
	start := time.Now()
	if len(data) == 0 {
		return nil, model.NewExtractionError(methodText, "empty document", nil)
	}

	method, response, err := e.ask(ctx, data, filename, mimeType)
	if err != nil {
		return nil, classify(method, err)
	}

	var resp LLMResponse
	if err := json.Unmarshal([]byte(ExtractJSON(response)), &resp); err != nil {
		return nil, model.NewExtractionError(method, "response is not valid invoice JSON", err)
	}

	inv, err := resp.ToInvoice()
	if err != nil {
		return nil, model.NewExtractionError(method, "response is not a usable invoice", err)
	}

	confidence := Confidence(inv)
	e.logger.Debug("extracted invoice",
		zap.String("file", filename),
		zap.String("method", method),
		zap.String("invoice", inv.InvoiceNumber),
		zap.Float64("confidence", confidence),
	)

	return &model.Extraction{
		Invoice:        inv,
		Confidence:     confidence,
		ProcessingTime: time.Since(start),
	}, nil
}

func (e *Extractor) ask(ctx context.Context, data []byte, filename, mimeType string) (string, string, error) {
	switch kind := documentKind(filename, mimeType); kind {
	case "pdf":
		texts, err := e.pages.PageTexts(data)
		if err != nil {
			return methodText, "", model.NewExtractionError(methodText, "cannot read PDF", err)
		}
		text := strings.TrimSpace(strings.Join(texts, "\n\f\n"))
		if len(text) >= minTextLength {
			out, err := e.client.ChatText(ctx, e.model, SystemPromptInvoiceExtractor, fmt.Sprintf(UserPromptTextExtraction, text))
			return methodText, out, err
		}
		img, err := e.pages.RenderPNG(data, 0, renderDPI)
		if err != nil {
			return methodVision, "", model.NewExtractionError(methodVision, "cannot render scanned PDF", err)
		}
		out, err := e.client.ChatWithImage(ctx, e.model, SystemPromptInvoiceExtractor, UserPromptImageExtraction, img, "image/png")
		return methodVision, out, err
	case "image":
		out, err := e.client.ChatWithImage(ctx, e.model, SystemPromptInvoiceExtractor, UserPromptImageExtraction, data, mimeType)
		return methodVision, out, err
	default:
		out, err := e.client.ChatText(ctx, e.model, SystemPromptInvoiceExtractor, fmt.Sprintf(UserPromptOCRCorrection, string(data)))
		return methodText, out, err
	}
}

func documentKind(filename, mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case mimeType == "application/pdf" || strings.EqualFold(filepath.Ext(filename), ".pdf"):
		return "pdf"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	default:
		return "text"
	}
}

// classify maps provider failures onto retryable and rate-limited extraction errors
func classify(method string, err error) error {
	var extErr *model.ExtractionError
	if errors.As(err, &extErr) {
		return extErr
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return model.NewRetryableExtractionError(method, "provider rate limit", true, err)
		case apiErr.StatusCode >= 500:
			return model.NewRetryableExtractionError(method, fmt.Sprintf("provider error %d", apiErr.StatusCode), false, err)
		default:
			return model.NewExtractionError(method, fmt.Sprintf("provider rejected request (%d)", apiErr.StatusCode), err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewRetryableExtractionError(method, "provider timeout", false, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewRetryableExtractionError(method, "provider timeout", false, err)
	}
	return model.NewExtractionError(method, "provider call failed", err)
}

// ToInvoice maps the extracted JSON onto the canonical invoice. Missing line
// and document totals are computed from quantities, prices and VAT rates.
func (r *LLMResponse) ToInvoice() (*model.Invoice, error) {
	issued, err := parseDate(r.Date)
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	if len(r.Items) == 0 {
		return nil, errors.New("no invoice lines")
	}

	inv := &model.Invoice{
		InvoiceNumber:    strings.TrimSpace(r.InvoiceNumber),
		InvoiceDate:      issued,
		Currency:         strings.ToUpper(strings.TrimSpace(r.Currency)),
		DocumentTypeCode: model.DocumentTypeCommercial,
		BuyerReference:   r.BuyerReference,
		OrderReference:   r.OrderReference,
		Note:             r.Notes,
		Seller:           r.Seller.toParty(),
		Buyer:            r.Buyer.toParty(),
		Payment: model.Payment{
			IBAN:  strings.ReplaceAll(r.Payment.IBAN, " ", ""),
			BIC:   r.Payment.BIC,
			Terms: r.Payment.Terms,
		},
	}
	if inv.Currency == "" {
		inv.Currency = "EUR"
	}
	if r.DueDate != "" {
		if due, err := parseDate(r.DueDate); err == nil {
			inv.DueDate = &due
		}
	}
	if strings.Contains(strings.ToLower(r.Type), "credit") {
		inv.DocumentTypeCode = model.DocumentTypeCreditNote
	}
	if r.PrecedingInvoice != "" {
		inv.PrecedingInvoice = &model.PrecedingInvoice{Number: r.PrecedingInvoice}
	}

	for i, item := range r.Items {
		line := model.LineItem{
			ID:           fmt.Sprintf("%d", i+1),
			Name:         item.Name,
			Description:  item.Description,
			SellerItemID: item.Code,
			Quantity:     item.Quantity,
			UnitCode:     item.Unit,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.Amount,
			TaxRate:      item.VATRate,
			TaxCategory:  model.TaxCategory(strings.ToUpper(item.VATCategory)),
		}
		if item.Number > 0 {
			line.ID = fmt.Sprintf("%d", item.Number)
		}
		if line.Quantity.IsZero() {
			line.Quantity = decimal.NewFromInt(1)
		}
		if line.TaxCategory == "" {
			line.TaxCategory = model.TaxCategoryStandard
			if line.TaxRate != nil && line.TaxRate.IsZero() {
				line.TaxCategory = model.TaxCategoryZeroRated
			}
		}
		inv.Lines = append(inv.Lines, line)
	}

	declared := model.Totals{
		Subtotal:    r.Subtotal,
		TaxBasis:    r.Subtotal,
		TaxAmount:   r.TotalVAT,
		TotalAmount: r.TotalAmount,
		AmountDue:   r.TotalAmount,
	}
	tax.Compute(inv)
	if !declared.TotalAmount.IsZero() {
		// keep what the document states; validation reports any disagreement
		inv.Totals = declared
	}
	return inv, nil
}

func (p LLMParty) toParty() model.Party {
	return model.Party{
		Name:        strings.TrimSpace(p.Name),
		Street:      p.Street,
		City:        p.City,
		PostalCode:  p.PostalCode,
		CountryCode: strings.ToUpper(strings.TrimSpace(p.CountryCode)),
		VATID:       strings.ReplaceAll(p.VATID, " ", ""),
		TaxID:       p.TaxID,
		Contact: model.Contact{
			Name:  p.ContactName,
			Phone: p.Phone,
			Email: p.Email,
		},
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02.01.2006", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Confidence scores an extraction between 0 and 1 from the presence of the
// mandatory fields and whether the stated totals reconcile.
func Confidence(inv *model.Invoice) float64 {
	checks := []bool{
		inv.InvoiceNumber != "",
		!inv.InvoiceDate.IsZero(),
		inv.Seller.Name != "",
		inv.Seller.VATID != "" || inv.Seller.TaxID != "",
		inv.Seller.CountryCode != "",
		inv.Buyer.Name != "",
		len(inv.Lines) > 0,
		len(tax.Reconcile(inv)) == 0,
	}
	score := 0
	for _, ok := range checks {
		if ok {
			score++
		}
	}
	return float64(score) / float64(len(checks))
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentTypeCode is the UNTDID 1001 invoice type code
type DocumentTypeCode string

const (
	DocumentTypeCommercial DocumentTypeCode = "380"
	DocumentTypeCreditNote DocumentTypeCode = "381"
	DocumentTypeCorrected  DocumentTypeCode = "384"
	DocumentTypeSelfBilled DocumentTypeCode = "389"
)

// IsCreditNote reports whether the code denotes a credit note
func (c DocumentTypeCode) IsCreditNote() bool {
	return c == DocumentTypeCreditNote
}

// TaxCategory is the UNTDID 5305 VAT category code
type TaxCategory string

const (
	TaxCategoryStandard      TaxCategory = "S"
	TaxCategoryZeroRated     TaxCategory = "Z"
	TaxCategoryExempt        TaxCategory = "E"
	TaxCategoryReverseCharge TaxCategory = "AE"
	TaxCategoryIntraEU       TaxCategory = "K"
	TaxCategoryExport        TaxCategory = "G"
	TaxCategoryNotSubject    TaxCategory = "O"
	TaxCategoryCanaryIGIC    TaxCategory = "L"
)

// Electronic address schemes (EAS code list subset)
const (
	SchemeLeitwegID = "0204"
	SchemeOIN       = "0190"
	SchemeKVK       = "0106"
	SchemeDEVAT     = "9930"
	SchemeEmail     = "EM"
)

// Payment means codes (UNTDID 4461 subset)
const (
	PaymentMeansCreditTransfer     = "30"
	PaymentMeansSEPACreditTransfer = "58"
	PaymentMeansSEPADirectDebit    = "59"
	PaymentMeansCard               = "48"
)

// Invoice is the format-neutral canonical invoice all generators read
type Invoice struct {
	// Header
	InvoiceNumber    string           `json:"invoice_number"`
	InvoiceDate      time.Time        `json:"invoice_date"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	Currency         string           `json:"currency"` // ISO 4217
	DocumentTypeCode DocumentTypeCode `json:"document_type_code"`
	BuyerReference   string           `json:"buyer_reference,omitempty"`
	OrderReference   string           `json:"order_reference,omitempty"`
	Note             string           `json:"note,omitempty"`

	BillingPeriod    *Period            `json:"billing_period,omitempty"`
	PrecedingInvoice *PrecedingInvoice `json:"preceding_invoice,omitempty"`

	// Parties
	Seller Party `json:"seller"`
	Buyer  Party `json:"buyer"`

	Payment Payment `json:"payment"`

	Lines            []LineItem        `json:"lines"`
	AllowanceCharges []AllowanceCharge `json:"allowance_charges,omitempty"`

	Totals Totals `json:"totals"`
}

// Period is an invoicing period
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PrecedingInvoice references the invoice a credit note or correction applies to
type PrecedingInvoice struct {
	Number    string     `json:"number"`
	IssueDate *time.Time `json:"issue_date,omitempty"`
}

// Party represents seller or buyer
type Party struct {
	Name        string `json:"name"`
	TradingName string `json:"trading_name,omitempty"`

	Street           string `json:"street,omitempty"`
	AdditionalStreet string `json:"additional_street,omitempty"`
	City             string `json:"city,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
	Subdivision      string `json:"subdivision,omitempty"` // county / province
	CountryCode      string `json:"country_code"`          // ISO 3166-1 alpha-2

	VATID string `json:"vat_id,omitempty"`
	TaxID string `json:"tax_id,omitempty"` // Steuernummer, Codice Fiscale, NIP, CUI

	LegalRegistrationID     string `json:"legal_registration_id,omitempty"`
	LegalRegistrationScheme string `json:"legal_registration_scheme,omitempty"`

	ElectronicAddress       string `json:"electronic_address,omitempty"`
	ElectronicAddressScheme string `json:"electronic_address_scheme,omitempty"`

	Contact Contact `json:"contact,omitempty"`
}

// Contact is the party contact point
type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// HasElectronicAddress reports whether a routing endpoint is present
func (p Party) HasElectronicAddress() bool {
	return p.ElectronicAddress != ""
}

// Payment holds payment instructions
type Payment struct {
	MeansCode        string `json:"means_code,omitempty"`
	IBAN             string `json:"iban,omitempty"`
	BIC              string `json:"bic,omitempty"`
	AccountName      string `json:"account_name,omitempty"`
	Terms            string `json:"terms,omitempty"`
	RemittanceInfo   string `json:"remittance_info,omitempty"`
	MandateReference string `json:"mandate_reference,omitempty"`
	DebitedAccountID string `json:"debited_account_id,omitempty"`
	CardAccountID    string `json:"card_account_id,omitempty"`
}

// EffectiveMeansCode returns the means code, defaulting to SEPA credit transfer
func (p Payment) EffectiveMeansCode() string {
	if p.MeansCode == "" {
		return PaymentMeansSEPACreditTransfer
	}
	return p.MeansCode
}

// LineItem represents an invoice line
type LineItem struct {
	ID           string           `json:"id,omitempty"`
	Name         string           `json:"name,omitempty"`
	Description  string           `json:"description"`
	SellerItemID string           `json:"seller_item_id,omitempty"`
	Quantity     decimal.Decimal  `json:"quantity"`
	UnitCode     string           `json:"unit_code,omitempty"` // UN/ECE Rec 20
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	LineTotal    decimal.Decimal  `json:"line_total"` // Quantity * UnitPrice
	TaxRate      *decimal.Decimal `json:"tax_rate"`   // percent, nil when unknown
	TaxCategory  TaxCategory      `json:"tax_category_code"`
}

// ItemName returns the short item name, falling back to the description
func (li LineItem) ItemName() string {
	if li.Name != "" {
		return li.Name
	}
	return li.Description
}

// EffectiveUnitCode returns the unit code, defaulting to C62 (one)
func (li LineItem) EffectiveUnitCode() string {
	if li.UnitCode == "" {
		return "C62"
	}
	return li.UnitCode
}

// Calculate sets LineTotal from quantity and unit price
func (li *LineItem) Calculate() {
	li.LineTotal = li.Quantity.Mul(li.UnitPrice).Round(2)
}

// Rate returns the tax rate or zero
func (li LineItem) Rate() decimal.Decimal {
	if li.TaxRate == nil {
		return decimal.Zero
	}
	return *li.TaxRate
}

// AllowanceCharge is a document-level discount or surcharge
type AllowanceCharge struct {
	ChargeIndicator bool             `json:"charge_indicator"`
	Amount          decimal.Decimal  `json:"amount"`
	Percentage      *decimal.Decimal `json:"percentage,omitempty"`
	BaseAmount      *decimal.Decimal `json:"base_amount,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	ReasonCode      string           `json:"reason_code,omitempty"`
	TaxRate         *decimal.Decimal `json:"tax_rate"`
	TaxCategory     TaxCategory      `json:"tax_category_code"`
}

// SignedAmount returns the amount with allowances negated
func (ac AllowanceCharge) SignedAmount() decimal.Decimal {
	if ac.ChargeIndicator {
		return ac.Amount
	}
	return ac.Amount.Neg()
}

// Rate returns the tax rate or zero
func (ac AllowanceCharge) Rate() decimal.Decimal {
	if ac.TaxRate == nil {
		return decimal.Zero
	}
	return *ac.TaxRate
}

// Totals are the document-level monetary totals
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"` // sum of line totals
	AllowanceTotal decimal.Decimal `json:"allowance_total"`
	ChargeTotal    decimal.Decimal `json:"charge_total"`
	TaxBasis       decimal.Decimal `json:"tax_basis"` // subtotal - allowances + charges
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PrepaidAmount  decimal.Decimal `json:"prepaid_amount"`
	AmountDue      decimal.Decimal `json:"amount_due"`
}

// EffectiveTaxBasis returns TaxBasis, deriving it when left empty
func (t Totals) EffectiveTaxBasis() decimal.Decimal {
	if t.TaxBasis.IsZero() {
		return t.Subtotal.Sub(t.AllowanceTotal).Add(t.ChargeTotal)
	}
	return t.TaxBasis
}

// EffectiveAmountDue returns AmountDue, deriving it when left empty
func (t Totals) EffectiveAmountDue() decimal.Decimal {
	if t.AmountDue.IsZero() {
		return t.TotalAmount.Sub(t.PrepaidAmount)
	}
	return t.AmountDue
}

// IsCreditNote reports whether the invoice is a credit note
func (inv *Invoice) IsCreditNote() bool {
	return inv.DocumentTypeCode.IsCreditNote()
}

// Rate is a helper for building optional rates
func Rate(percent float64) *decimal.Decimal {
	d := decimal.NewFromFloat(percent)
	return &d
}

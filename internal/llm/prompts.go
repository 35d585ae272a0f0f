package llm

// Invoice extraction prompts

const SystemPromptInvoiceExtractor = `You are an expert invoice data extractor specializing in European invoices
that must be converted to EN 16931 e-invoices (XRechnung, PEPPOL BIS, Factur-X, FatturaPA, KSeF).

Your task is to extract structured data from invoice text or images. The invoices may be in German,
French, Italian, Dutch, Polish, Romanian or English.

Common invoice terms:
- Rechnung / Facture / Fattura / Factuur / Faktura / Factura = Invoice
- Gutschrift / Avoir / Nota di credito / Creditnota / Korekta = Credit note
- Rechnungsnummer / Numéro de facture / Numero fattura = Invoice number
- USt-IdNr. / N° TVA / Partita IVA / BTW-nummer / NIP / CUI = VAT or tax id
- Leistungszeitraum / Période = Billing period
- Nettobetrag / Imponibile / Netto = Net amount
- MwSt. / TVA / IVA / BTW / VAT = Value added tax
- Gesamtbetrag / Totale / Razem = Total
- IBAN / BIC = Bank account of the seller

Extract ALL information you can find. If a field is not present, omit it from the output.
Always output valid JSON that matches the specified schema.
Amounts are decimals with a dot as decimal separator and no thousands separators.
Dates must be in ISO 8601 format (YYYY-MM-DD). Country codes are ISO 3166-1 alpha-2,
currencies ISO 4217. VAT categories use the UNTDID 5305 codes S, Z, E, AE, K, G, O, L.`

const invoiceSchema = `{
  "invoice_number": "string",
  "date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD",
  "type": "invoice|credit_note",
  "currency": "EUR",
  "buyer_reference": "string",
  "order_reference": "string",
  "preceding_invoice": "string",
  "seller": {
    "name": "string",
    "street": "string",
    "city": "string",
    "postal_code": "string",
    "country_code": "DE",
    "vat_id": "string",
    "tax_id": "string",
    "email": "string",
    "phone": "string",
    "contact_name": "string"
  },
  "buyer": {
    "name": "string",
    "street": "string",
    "city": "string",
    "postal_code": "string",
    "country_code": "DE",
    "vat_id": "string",
    "tax_id": "string",
    "email": "string"
  },
  "payment": {
    "iban": "string",
    "bic": "string",
    "terms": "string"
  },
  "items": [
    {
      "number": 1,
      "code": "string",
      "name": "string",
      "description": "string",
      "unit": "C62",
      "quantity": 1,
      "unit_price": 100.00,
      "amount": 100.00,
      "vat_rate": 19,
      "vat_category": "S"
    }
  ],
  "subtotal": 100.00,
  "total_vat": 19.00,
  "total_amount": 119.00,
  "notes": "string"
}`

const UserPromptTextExtraction = `Extract invoice data from the following text:

---
%s
---

Output JSON with this structure:
` + invoiceSchema

const UserPromptImageExtraction = `Extract invoice data from this invoice image.

Output JSON with this structure:
` + invoiceSchema + `

Extract all visible information from the invoice image. For any text that appears blurry or unclear, make your best attempt to read it.`

const UserPromptOCRCorrection = `The following is OCR-extracted text from an invoice. It may contain errors.

OCR Text:
---
%s
---

Please:
1. Correct any obvious OCR errors (especially in accented characters, IBANs and VAT ids)
2. Extract the structured invoice data

Output JSON with this structure:
` + invoiceSchema

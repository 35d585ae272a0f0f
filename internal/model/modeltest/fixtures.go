// Package modeltest provides canonical invoices for tests across packages.
package modeltest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoice-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// GermanInvoice returns an invoice that passes every XRechnung, PEPPOL and
// Factur-X rule: two lines at 19% and 7% (net 1200, tax 204, total 1404).
func GermanInvoice() *model.Invoice {
	due := date(2024, time.March, 31)
	return &model.Invoice{
		InvoiceNumber:    "RE-2024-0042",
		InvoiceDate:      date(2024, time.March, 1),
		DueDate:          &due,
		Currency:         "EUR",
		DocumentTypeCode: model.DocumentTypeCommercial,
		BuyerReference:   "04011000-12345-67",
		OrderReference:   "PO-7781",
		Note:             "Vielen Dank für Ihren Auftrag.",
		Seller: model.Party{
			Name:                    "Muster Software GmbH",
			Street:                  "Friedrichstraße 123",
			City:                    "Berlin",
			PostalCode:              "10117",
			CountryCode:             "DE",
			VATID:                   "DE123456789",
			TaxID:                   "30/123/45678",
			LegalRegistrationID:     "HRB 12345",
			ElectronicAddress:       "rechnung@muster-software.de",
			ElectronicAddressScheme: model.SchemeEmail,
			Contact: model.Contact{
				Name:  "Erika Mustermann",
				Phone: "+49 30 1234567",
				Email: "erika@muster-software.de",
			},
		},
		Buyer: model.Party{
			Name:                    "Stadtverwaltung Hamburg",
			Street:                  "Rathausmarkt 1",
			City:                    "Hamburg",
			PostalCode:              "20095",
			CountryCode:             "DE",
			ElectronicAddress:       "04011000-12345-67",
			ElectronicAddressScheme: model.SchemeLeitwegID,
			Contact: model.Contact{
				Email: "einkauf@hamburg.example",
			},
		},
		Payment: model.Payment{
			MeansCode:   model.PaymentMeansSEPACreditTransfer,
			IBAN:        "DE89370400440532013000",
			BIC:         "COBADEFFXXX",
			AccountName: "Muster Software GmbH",
			Terms:       "Zahlbar innerhalb 30 Tagen netto",
		},
		Lines: []model.LineItem{
			{
				ID:           "1",
				Name:         "Softwarelizenz",
				Description:  "Jahreslizenz Standard",
				SellerItemID: "LIC-STD",
				Quantity:     d("10"),
				UnitCode:     "C62",
				UnitPrice:    d("100.00"),
				LineTotal:    d("1000.00"),
				TaxRate:      model.Rate(19),
				TaxCategory:  model.TaxCategoryStandard,
			},
			{
				ID:          "2",
				Name:        "Fachbuch",
				Description: "Handbuch E-Rechnung",
				Quantity:    d("4"),
				UnitCode:    "C62",
				UnitPrice:   d("50.00"),
				LineTotal:   d("200.00"),
				TaxRate:     model.Rate(7),
				TaxCategory: model.TaxCategoryStandard,
			},
		},
		Totals: model.Totals{
			Subtotal:    d("1200.00"),
			TaxBasis:    d("1200.00"),
			TaxAmount:   d("204.00"),
			TotalAmount: d("1404.00"),
			AmountDue:   d("1404.00"),
		},
	}
}

// CreditNote returns a fully negative credit note referencing GermanInvoice
func CreditNote() *model.Invoice {
	inv := GermanInvoice()
	issued := inv.InvoiceDate
	inv.InvoiceNumber = "GS-2024-0007"
	inv.InvoiceDate = date(2024, time.March, 15)
	inv.DueDate = nil
	inv.DocumentTypeCode = model.DocumentTypeCreditNote
	inv.PrecedingInvoice = &model.PrecedingInvoice{Number: "RE-2024-0042", IssueDate: &issued}
	inv.Lines = []model.LineItem{
		{
			ID:          "1",
			Name:        "Softwarelizenz",
			Description: "Gutschrift Jahreslizenz",
			Quantity:    d("-5"),
			UnitCode:    "C62",
			UnitPrice:   d("100.00"),
			LineTotal:   d("-500.00"),
			TaxRate:     model.Rate(19),
			TaxCategory: model.TaxCategoryStandard,
		},
	}
	inv.Totals = model.Totals{
		Subtotal:    d("-500.00"),
		TaxBasis:    d("-500.00"),
		TaxAmount:   d("-95.00"),
		TotalAmount: d("-595.00"),
		AmountDue:   d("-595.00"),
	}
	return inv
}

// DutchInvoice returns an invoice that passes the NLCIUS rules
func DutchInvoice() *model.Invoice {
	inv := GermanInvoice()
	inv.InvoiceNumber = "NL-2024-118"
	inv.BuyerReference = "PO-7781"
	inv.Note = ""
	inv.Seller = model.Party{
		Name:                    "Voorbeeld Software B.V.",
		Street:                  "Keizersgracht 100",
		City:                    "Amsterdam",
		PostalCode:              "1015 CW",
		CountryCode:             "NL",
		VATID:                   "NL123456789B01",
		LegalRegistrationID:     "12345678",
		LegalRegistrationScheme: model.SchemeKVK,
		ElectronicAddress:       "12345678",
		ElectronicAddressScheme: model.SchemeKVK,
		Contact: model.Contact{
			Name:  "Jan de Vries",
			Phone: "+31 20 1234567",
			Email: "facturen@voorbeeld.nl",
		},
	}
	inv.Buyer = model.Party{
		Name:                    "Gemeente Utrecht",
		Street:                  "Stadsplateau 1",
		City:                    "Utrecht",
		PostalCode:              "3521 AZ",
		CountryCode:             "NL",
		ElectronicAddress:       "00000001234567890000",
		ElectronicAddressScheme: model.SchemeOIN,
	}
	inv.Payment.IBAN = "NL91ABNA0417164300"
	inv.Payment.BIC = "ABNANL2A"
	inv.Lines[0].TaxRate = model.Rate(21)
	inv.Lines[1].TaxRate = model.Rate(9)
	inv.Totals = model.Totals{
		Subtotal:    d("1200.00"),
		TaxBasis:    d("1200.00"),
		TaxAmount:   d("228.00"),
		TotalAmount: d("1428.00"),
		AmountDue:   d("1428.00"),
	}
	return inv
}

// RomanianInvoice returns an invoice that passes the CIUS-RO rules
func RomanianInvoice() *model.Invoice {
	inv := GermanInvoice()
	inv.InvoiceNumber = "RO-2024-55"
	inv.Currency = "RON"
	inv.Note = ""
	inv.Seller = model.Party{
		Name:                    "Exemplu Software SRL",
		Street:                  "Strada Victoriei 10",
		City:                    "Bucuresti",
		PostalCode:              "010061",
		Subdivision:             "RO-B",
		CountryCode:             "RO",
		VATID:                   "RO18547290",
		TaxID:                   "18547290",
		ElectronicAddress:       "facturi@exemplu.ro",
		ElectronicAddressScheme: model.SchemeEmail,
		Contact: model.Contact{
			Name:  "Ion Popescu",
			Phone: "+40 21 1234567",
			Email: "ion@exemplu.ro",
		},
	}
	inv.Buyer = model.Party{
		Name:                    "Client Industrial SA",
		Street:                  "Bulevardul Eroilor 5",
		City:                    "Cluj-Napoca",
		PostalCode:              "400129",
		Subdivision:             "RO-CJ",
		CountryCode:             "RO",
		TaxID:                   "12345674",
		ElectronicAddress:       "achizitii@client.ro",
		ElectronicAddressScheme: model.SchemeEmail,
	}
	inv.Payment.IBAN = "RO49AAAA1B31007593840000"
	inv.Payment.BIC = ""
	inv.Lines[0].TaxRate = model.Rate(19)
	inv.Lines[1].TaxRate = model.Rate(9)
	inv.Totals = model.Totals{
		Subtotal:    d("1200.00"),
		TaxBasis:    d("1200.00"),
		TaxAmount:   d("208.00"),
		TotalAmount: d("1408.00"),
		AmountDue:   d("1408.00"),
	}
	return inv
}

// ItalianInvoice returns an invoice that passes the FatturaPA rules
func ItalianInvoice() *model.Invoice {
	inv := GermanInvoice()
	inv.InvoiceNumber = "IT-2024/12"
	inv.Note = ""
	inv.Seller = model.Party{
		Name:                    "Esempio Software S.r.l.",
		Street:                  "Via Roma 1",
		City:                    "Milano",
		PostalCode:              "20121",
		Subdivision:             "MI",
		CountryCode:             "IT",
		VATID:                   "IT01234567890",
		TaxID:                   "01234567890",
		ElectronicAddress:       "fatture@pec.esempio.it",
		ElectronicAddressScheme: model.SchemeEmail,
		Contact: model.Contact{
			Name:  "Mario Rossi",
			Phone: "+39 02 1234567",
			Email: "mario@esempio.it",
		},
	}
	inv.Buyer = model.Party{
		Name:                    "Cliente S.p.A.",
		Street:                  "Corso Italia 22",
		City:                    "Torino",
		PostalCode:              "10121",
		Subdivision:             "TO",
		CountryCode:             "IT",
		VATID:                   "IT09876543210",
		ElectronicAddress:       "ABC1234",
		ElectronicAddressScheme: "0201",
	}
	inv.Payment.IBAN = "IT60X0542811101000000123456"
	inv.Payment.BIC = ""
	inv.Lines[0].TaxRate = model.Rate(22)
	inv.Lines[1].TaxRate = model.Rate(0)
	inv.Lines[1].TaxCategory = model.TaxCategoryExempt
	inv.Totals = model.Totals{
		Subtotal:    d("1200.00"),
		TaxBasis:    d("1200.00"),
		TaxAmount:   d("220.00"),
		TotalAmount: d("1420.00"),
		AmountDue:   d("1420.00"),
	}
	return inv
}

// PolishInvoice returns an invoice that passes the KSeF rules
func PolishInvoice() *model.Invoice {
	inv := GermanInvoice()
	inv.InvoiceNumber = "FV/2024/03/001"
	inv.Currency = "PLN"
	inv.Note = ""
	inv.Seller = model.Party{
		Name:                    "Przykład Sp. z o.o.",
		Street:                  "ul. Marszałkowska 1",
		City:                    "Warszawa",
		PostalCode:              "00-624",
		CountryCode:             "PL",
		VATID:                   "PL5260250274",
		TaxID:                   "5260250274",
		ElectronicAddress:       "faktury@przyklad.pl",
		ElectronicAddressScheme: model.SchemeEmail,
		Contact: model.Contact{
			Name:  "Anna Kowalska",
			Phone: "+48 22 1234567",
			Email: "anna@przyklad.pl",
		},
	}
	inv.Buyer = model.Party{
		Name:                    "Klient S.A.",
		Street:                  "ul. Długa 5",
		City:                    "Kraków",
		PostalCode:              "31-147",
		CountryCode:             "PL",
		TaxID:                   "1234563218",
		ElectronicAddress:       "zakupy@klient.pl",
		ElectronicAddressScheme: model.SchemeEmail,
	}
	inv.Payment.IBAN = "PL61109010140000071219812874"
	inv.Payment.BIC = ""
	inv.Lines[0].TaxRate = model.Rate(23)
	inv.Lines[1].TaxRate = model.Rate(8)
	inv.Totals = model.Totals{
		Subtotal:    d("1200.00"),
		TaxBasis:    d("1200.00"),
		TaxAmount:   d("246.00"),
		TotalAmount: d("1446.00"),
		AmountDue:   d("1446.00"),
	}
	return inv
}

// ForFormat returns a fixture that passes every rule of the given format id
func ForFormat(formatID model.FormatID) *model.Invoice {
	switch formatID {
	case model.FormatNLCIUS:
		return DutchInvoice()
	case model.FormatCIUSRO:
		return RomanianInvoice()
	case model.FormatFatturaPA:
		return ItalianInvoice()
	case model.FormatKSeF:
		return PolishInvoice()
	default:
		return GermanInvoice()
	}
}

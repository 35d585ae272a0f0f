package batch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rezonia/einvoice-engine/internal/pdf"
)

// pageOfPattern matches "page k of n" footers in the languages we ingest
var pageOfPattern = regexp.MustCompile(`(?i)\b(?:page|seite|pagina|página|strona|blad|p\.)\s*(\d+)\s*(?:of|von|di|de|sur|z|van|/)\s*(\d+)`)

// invoiceNumberPattern matches an invoice number label and captures the number
var invoiceNumberPattern = regexp.MustCompile(`(?i)(?:` +
	`invoice\s*(?:no\b|number\b|nr\b|#)` +
	`|rechnungs?\s*-?\s*(?:nummer\b|nr\b)` +
	`|facture\s*n(?:°|o\b)` +
	`|n(?:°|o\b)\s*(?:de\s+)?facture\b` +
	`|numero\s+(?:di\s+)?fattura\b` +
	`|fattura\s+n(?:°|\b)` +
	`|faktura\s+(?:vat\s+)?nr\b` +
	`|nr\s+faktury\b` +
	`|factuur\s*(?:nummer\b|nr\b)` +
	`|n[úu]mero\s+de\s+factura\b` +
	`)[\s.:#°\-]*([A-Za-z0-9](?:[A-Za-z0-9\-/_.]*[A-Za-z0-9])?)`)

// pageSignal is what one page says about where it sits
type pageSignal struct {
	pageNo    int
	pageTotal int
	invoiceNo string
}

func scanPage(text string) pageSignal {
	var s pageSignal
	if m := pageOfPattern.FindStringSubmatch(text); m != nil {
		k, _ := strconv.Atoi(m[1])
		n, _ := strconv.Atoi(m[2])
		if k >= 1 && k <= n {
			s.pageNo, s.pageTotal = k, n
		}
	}
	if m := invoiceNumberPattern.FindStringSubmatch(text); m != nil {
		if strings.ContainsAny(m[1], "0123456789") {
			s.invoiceNo = strings.ToUpper(m[1])
		}
	}
	return s
}

// DetectBoundaries splits a document's pages into invoice page ranges.
// A page starts a new invoice when its footer reads "page 1 of n", or, without
// a footer, when it carries an invoice number different from the current one.
// Pages without either signal continue the current invoice.
func DetectBoundaries(pages []string) []pdf.PageRange {
	if len(pages) == 0 {
		return nil
	}

	starts := []int{0}
	current := scanPage(pages[0]).invoiceNo
	for i := 1; i < len(pages); i++ {
		s := scanPage(pages[i])

		var start bool
		switch {
		case s.pageNo > 0:
			start = s.pageNo == 1
		case s.invoiceNo != "" && current != "":
			start = s.invoiceNo != current
		}

		if start {
			starts = append(starts, i)
			current = s.invoiceNo
		} else if current == "" {
			current = s.invoiceNo
		}
	}

	ranges := make([]pdf.PageRange, len(starts))
	for i, from := range starts {
		to := len(pages)
		if i+1 < len(starts) {
			to = starts[i+1]
		}
		ranges[i] = pdf.PageRange{From: from + 1, To: to}
	}
	return ranges
}

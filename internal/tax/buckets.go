package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Bucket is one VAT breakdown entry (BG-23): all amounts sharing a category and rate
type Bucket struct {
	Category model.TaxCategory
	Rate     decimal.Decimal
	Basis    decimal.Decimal
	Tax      decimal.Decimal
	Rule     Rule
}

type bucketKey struct {
	category model.TaxCategory
	rate     string
}

// Buckets groups lines and document allowances/charges by (category, rate).
// Each bucket's tax is rounded independently; the result is sorted by category then rate.
func Buckets(inv *model.Invoice) []Bucket {
	index := make(map[bucketKey]*Bucket)
	var order []bucketKey

	add := func(category model.TaxCategory, rate, amount decimal.Decimal) {
		key := bucketKey{category: category, rate: rate.StringFixed(2)}
		b, ok := index[key]
		if !ok {
			b = &Bucket{Category: category, Rate: rate, Basis: dec.Zero, Rule: MustLookup(category)}
			index[key] = b
			order = append(order, key)
		}
		b.Basis = b.Basis.Add(amount)
	}

	for _, line := range inv.Lines {
		add(line.TaxCategory, line.Rate(), line.LineTotal)
	}
	for _, ac := range inv.AllowanceCharges {
		add(ac.TaxCategory, ac.Rate(), ac.SignedAmount())
	}

	buckets := make([]Bucket, 0, len(order))
	for _, key := range order {
		b := index[key]
		b.Basis = dec.Round2(b.Basis)
		b.Tax = dec.CalculateTax(b.Basis, b.Rate)
		buckets = append(buckets, *b)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Category != buckets[j].Category {
			return buckets[i].Category < buckets[j].Category
		}
		return buckets[i].Rate.LessThan(buckets[j].Rate)
	})
	return buckets
}

// TotalTax sums the tax of every bucket
func TotalTax(buckets []Bucket) decimal.Decimal {
	total := dec.Zero
	for _, b := range buckets {
		total = total.Add(b.Tax)
	}
	return total
}

// TotalBasis sums the basis of every bucket
func TotalBasis(buckets []Bucket) decimal.Decimal {
	total := dec.Zero
	for _, b := range buckets {
		total = total.Add(b.Basis)
	}
	return total
}

// ComputedTotals derives the document totals from lines, allowances and charges
func ComputedTotals(inv *model.Invoice) model.Totals {
	subtotal := dec.Zero
	for _, line := range inv.Lines {
		subtotal = subtotal.Add(line.LineTotal)
	}

	allowances, charges := dec.Zero, dec.Zero
	for _, ac := range inv.AllowanceCharges {
		if ac.ChargeIndicator {
			charges = charges.Add(ac.Amount)
		} else {
			allowances = allowances.Add(ac.Amount)
		}
	}

	basis := subtotal.Sub(allowances).Add(charges)
	taxAmount := TotalTax(Buckets(inv))
	total := basis.Add(taxAmount)

	return model.Totals{
		Subtotal:       dec.Round2(subtotal),
		AllowanceTotal: dec.Round2(allowances),
		ChargeTotal:    dec.Round2(charges),
		TaxBasis:       dec.Round2(basis),
		TaxAmount:      taxAmount,
		TotalAmount:    dec.Round2(total),
		PrepaidAmount:  inv.Totals.PrepaidAmount,
		AmountDue:      dec.Round2(total.Sub(inv.Totals.PrepaidAmount)),
	}
}

// Compute fills line totals where missing and replaces the invoice totals with
// the values derived from the tax buckets.
func Compute(inv *model.Invoice) {
	for i := range inv.Lines {
		if inv.Lines[i].LineTotal.IsZero() {
			inv.Lines[i].Calculate()
		}
	}
	inv.Totals = ComputedTotals(inv)
}

// Discrepancy is a declared total that disagrees with the computed one
type Discrepancy struct {
	Field    string
	Declared decimal.Decimal
	Computed decimal.Decimal
}

// Reconcile compares declared totals with the bucket-derived ones (tolerance 0.01)
func Reconcile(inv *model.Invoice) []Discrepancy {
	computed := ComputedTotals(inv)
	declared := inv.Totals

	checks := []struct {
		field              string
		declared, computed decimal.Decimal
	}{
		{"totals.subtotal", declared.Subtotal, computed.Subtotal},
		{"totals.allowance_total", declared.AllowanceTotal, computed.AllowanceTotal},
		{"totals.charge_total", declared.ChargeTotal, computed.ChargeTotal},
		{"totals.tax_basis", declared.EffectiveTaxBasis(), computed.TaxBasis},
		{"totals.tax_amount", declared.TaxAmount, computed.TaxAmount},
		{"totals.total_amount", declared.TotalAmount, computed.TotalAmount},
	}

	var out []Discrepancy
	for _, c := range checks {
		if !dec.WithinTolerance(c.declared, c.computed) {
			out = append(out, Discrepancy{Field: c.field, Declared: c.declared, Computed: c.computed})
		}
	}
	return out
}

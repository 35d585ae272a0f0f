// Package tax holds the VAT category semantics shared by validation and every generator.
package tax

import (
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Rule describes the fixed legal semantics of one VAT category
type Rule struct {
	Code model.TaxCategory

	// ExemptionReason is the mandated clause printed on the invoice (BT-120).
	// Empty for the standard rate.
	ExemptionReason string

	// ExemptionCode is the VATEX code (BT-121), where one exists
	ExemptionCode string

	RequiresZeroRate bool

	// ForeignVATExpected marks categories where the buyer must carry a VAT id
	ForeignVATExpected bool

	// RulePrefix is the EN 16931 rule family for the category (BR-S, BR-IC, ...)
	RulePrefix string

	// FatturaNatura is the Italian Natura code for non-taxed categories
	FatturaNatura string
}

var rules = map[model.TaxCategory]Rule{
	model.TaxCategoryStandard: {
		Code:       model.TaxCategoryStandard,
		RulePrefix: "BR-S",
	},
	model.TaxCategoryZeroRated: {
		Code:             model.TaxCategoryZeroRated,
		ExemptionReason:  "Zero rated goods",
		RequiresZeroRate: true,
		RulePrefix:       "BR-Z",
		FatturaNatura:    "N3.5",
	},
	model.TaxCategoryExempt: {
		Code:             model.TaxCategoryExempt,
		ExemptionReason:  "Exempt from tax",
		ExemptionCode:    "VATEX-EU-132",
		RequiresZeroRate: true,
		RulePrefix:       "BR-E",
		FatturaNatura:    "N4",
	},
	model.TaxCategoryReverseCharge: {
		Code:               model.TaxCategoryReverseCharge,
		ExemptionReason:    "Reverse charge - Loss of tax liability of the buyer applies",
		ExemptionCode:      "VATEX-EU-AE",
		RequiresZeroRate:   true,
		ForeignVATExpected: true,
		RulePrefix:         "BR-AE",
		FatturaNatura:      "N6.9",
	},
	model.TaxCategoryIntraEU: {
		Code:               model.TaxCategoryIntraEU,
		ExemptionReason:    "Intra-community supply",
		ExemptionCode:      "VATEX-EU-IC",
		RequiresZeroRate:   true,
		ForeignVATExpected: true,
		RulePrefix:         "BR-IC",
		FatturaNatura:      "N3.2",
	},
	model.TaxCategoryExport: {
		Code:             model.TaxCategoryExport,
		ExemptionReason:  "Export outside the EU",
		ExemptionCode:    "VATEX-EU-G",
		RequiresZeroRate: true,
		RulePrefix:       "BR-G",
		FatturaNatura:    "N3.1",
	},
	model.TaxCategoryNotSubject: {
		Code:             model.TaxCategoryNotSubject,
		ExemptionReason:  "Not subject to VAT",
		ExemptionCode:    "VATEX-EU-O",
		RequiresZeroRate: true,
		RulePrefix:       "BR-O",
		FatturaNatura:    "N2.2",
	},
	model.TaxCategoryCanaryIGIC: {
		Code:             model.TaxCategoryCanaryIGIC,
		ExemptionReason:  "Canary Islands general indirect tax",
		RequiresZeroRate: true,
		RulePrefix:       "BR-AF",
		FatturaNatura:    "N2.2",
	},
}

// Lookup returns the rule for a category. ok is false for unknown codes.
func Lookup(code model.TaxCategory) (Rule, bool) {
	r, ok := rules[code]
	return r, ok
}

// MustLookup returns the rule for a category, falling back to the standard rule
func MustLookup(code model.TaxCategory) Rule {
	if r, ok := rules[code]; ok {
		return r
	}
	return rules[model.TaxCategoryStandard]
}

// IsKnown reports whether code is one of the eight supported categories
func IsKnown(code model.TaxCategory) bool {
	_, ok := rules[code]
	return ok
}

// ExemptionReason returns the fixed clause for a category, empty for S
func ExemptionReason(code model.TaxCategory) string {
	return rules[code].ExemptionReason
}

// Categories returns every supported category in a stable order
func Categories() []model.TaxCategory {
	return []model.TaxCategory{
		model.TaxCategoryStandard,
		model.TaxCategoryZeroRated,
		model.TaxCategoryExempt,
		model.TaxCategoryReverseCharge,
		model.TaxCategoryIntraEU,
		model.TaxCategoryExport,
		model.TaxCategoryNotSubject,
		model.TaxCategoryCanaryIGIC,
	}
}

// Package validation checks canonical invoices in three tiers: schema presence and
// format, EN 16931 business rules, then the national profile of the target format.
// Every tier runs; findings accumulate in a Report and only Report.Err blocks.
package validation

import (
	"github.com/go-playground/validator/v10"

	"github.com/rezonia/einvoice-engine/internal/model"
)

// profileCheck is one tier-3 rule set
type profileCheck func(inv *model.Invoice, r *Report)

// Pipeline runs the validation tiers. Safe for concurrent use.
type Pipeline struct {
	validate *validator.Validate
	profiles map[model.FormatID][]profileCheck
}

// NewPipeline creates a pipeline with the national rule sets for every format
func NewPipeline() *Pipeline {
	p := &Pipeline{
		validate: validator.New(),
		profiles: make(map[model.FormatID][]profileCheck),
	}

	xrechnung := []profileCheck{checkXRechnung}
	p.profiles[model.FormatXRechnungCII] = xrechnung
	p.profiles[model.FormatXRechnungUBL] = xrechnung
	p.profiles[model.FormatPeppolBIS] = []profileCheck{checkPeppol}
	p.profiles[model.FormatNLCIUS] = []profileCheck{checkPeppol, checkNLCIUS}
	p.profiles[model.FormatCIUSRO] = []profileCheck{checkCIUSRO}
	p.profiles[model.FormatFatturaPA] = []profileCheck{checkFatturaPA}
	p.profiles[model.FormatKSeF] = []profileCheck{checkKSeF}
	p.profiles[model.FormatFacturXEN16931] = nil
	p.profiles[model.FormatFacturXBasic] = []profileCheck{checkFacturXBasic}

	return p
}

// Validate runs all three tiers for the profile and returns every finding
func (p *Pipeline) Validate(profile model.FormatID, inv *model.Invoice) *Report {
	r := newReport(profile)
	if inv == nil {
		r.addError("SCHEMA-000", "", "invoice is required")
		return r
	}

	p.checkSchema(inv, r)
	checkEN16931(profile, inv, r)
	for _, check := range p.profiles[profile] {
		check(inv, r)
	}

	return r
}

// Supports reports whether the profile has a rule set
func (p *Pipeline) Supports(profile model.FormatID) bool {
	_, ok := p.profiles[profile]
	return ok
}

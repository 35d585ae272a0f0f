package validation

import (
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Severity of a finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Status summarises a validation run
type Status string

const (
	StatusValid    Status = "valid"
	StatusWarnings Status = "warnings"
	StatusInvalid  Status = "invalid"
)

// Finding is one rule outcome
type Finding struct {
	RuleID   string   `json:"ruleId"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
}

// Err converts the finding into the typed rule error it represents
func (f Finding) Err() error {
	if len(f.RuleID) > 7 && f.RuleID[:7] == "SCHEMA-" {
		return model.NewSchemaError(f.RuleID, f.Field, f.Message)
	}
	return model.NewBusinessRuleError(f.RuleID, f.Field, f.Message)
}

// Report collects the findings of every tier in the order they were produced
type Report struct {
	Profile  model.FormatID `json:"profile"`
	Errors   []Finding      `json:"errors"`
	Warnings []Finding      `json:"warnings"`
}

func newReport(profile model.FormatID) *Report {
	return &Report{
		Profile:  profile,
		Errors:   []Finding{},
		Warnings: []Finding{},
	}
}

func (r *Report) addError(ruleID, field, message string) {
	r.Errors = append(r.Errors, Finding{RuleID: ruleID, Message: message, Severity: SeverityError, Field: field})
}

func (r *Report) addWarning(ruleID, field, message string) {
	r.Warnings = append(r.Warnings, Finding{RuleID: ruleID, Message: message, Severity: SeverityWarning, Field: field})
}

// HasErrors reports whether any finding blocks generation
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// Status returns invalid, warnings or valid
func (r *Report) Status() Status {
	switch {
	case len(r.Errors) > 0:
		return StatusInvalid
	case len(r.Warnings) > 0:
		return StatusWarnings
	default:
		return StatusValid
	}
}

// HasRule reports whether any error or warning carries ruleID
func (r *Report) HasRule(ruleID string) bool {
	for _, f := range r.Errors {
		if f.RuleID == ruleID {
			return true
		}
	}
	for _, f := range r.Warnings {
		if f.RuleID == ruleID {
			return true
		}
	}
	return false
}

// RuleIDs returns the rule ids of all error findings
func (r *Report) RuleIDs() []string {
	ids := make([]string, 0, len(r.Errors))
	for _, f := range r.Errors {
		ids = append(ids, f.RuleID)
	}
	return ids
}

// Err returns a *model.BlockingValidationError when the run has errors, nil otherwise
func (r *Report) Err() error {
	if !r.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, f := range r.Errors {
		errs = append(errs, f.Err())
	}
	return &model.BlockingValidationError{
		Format:  string(r.Profile),
		RuleIDs: r.RuleIDs(),
		Errors:  errs,
	}
}

// Merge appends findings produced outside the pipeline
func (r *Report) Merge(findings []Finding) {
	for _, f := range findings {
		if f.Severity == SeverityError {
			r.Errors = append(r.Errors, f)
		} else {
			r.Warnings = append(r.Warnings, f)
		}
	}
}

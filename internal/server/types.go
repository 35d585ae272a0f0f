package server

import (
	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// FormatsResponse lists the registered output formats
type FormatsResponse struct {
	Formats []format.Info `json:"formats"`
}

// ValidationResponse is the response for the validate endpoint and for blocked generations
type ValidationResponse struct {
	Valid    bool                 `json:"valid"`
	Status   validation.Status    `json:"status"`
	Errors   []validation.Finding `json:"errors"`
	Warnings []validation.Finding `json:"warnings"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Rules   []string `json:"rules,omitempty"`
}

// CreditsResponse reports an owner's balance
type CreditsResponse struct {
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`
}

// GrantRequest adds credits to an owner. Replaying a key is a no-op.
type GrantRequest struct {
	Amount int    `json:"amount" binding:"required,gt=0"`
	Key    string `json:"key" binding:"required,max=128"`
}

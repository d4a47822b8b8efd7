package dto

import (
	"time"

	"backoffice/internal/core/numerator"
)

// NumberingPolicyRequest replaces the numbering policy of a voucher family.
type NumberingPolicyRequest struct {
	CustomPrefix  string `json:"customPrefix" binding:"omitempty,max=5"`
	PrefixEnabled bool   `json:"prefixEnabled"`
	ResetPeriod   string `json:"resetPeriod" binding:"required"`
}

// Policy converts the request to a numbering policy.
func (r NumberingPolicyRequest) Policy() numerator.Policy {
	return numerator.Policy{
		CustomPrefix:  r.CustomPrefix,
		PrefixEnabled: r.PrefixEnabled,
		ResetPeriod:   numerator.ResetPeriod(r.ResetPeriod),
	}
}

// NumberingPolicyResponse is the effective policy of a family.
type NumberingPolicyResponse struct {
	Family        string `json:"family"`
	CustomPrefix  string `json:"customPrefix"`
	PrefixEnabled bool   `json:"prefixEnabled"`
	ResetPeriod   string `json:"resetPeriod"`
}

// FromPolicy maps a numbering policy.
func FromPolicy(family string, p numerator.Policy) NumberingPolicyResponse {
	return NumberingPolicyResponse{
		Family:        family,
		CustomPrefix:  p.CustomPrefix,
		PrefixEnabled: p.PrefixEnabled,
		ResetPeriod:   string(p.ResetPeriod),
	}
}

// PendingScopeResponse is a scope waiting for reconciliation.
type PendingScopeResponse struct {
	Scope      string    `json:"scope"`
	DocType    string    `json:"docType"`
	AnchorDate string    `json:"anchorDate"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FromPendingScope maps a queue entry.
func FromPendingScope(p numerator.PendingScope) PendingScopeResponse {
	return PendingScopeResponse{
		Scope:      p.Key,
		DocType:    p.DocType,
		AnchorDate: p.Anchor.Format(time.DateOnly),
		Attempts:   p.Attempts,
		LastError:  p.LastError,
		UpdatedAt:  p.UpdatedAt,
	}
}

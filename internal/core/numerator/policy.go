// Package numerator provides domain contracts for document auto-numbering:
// numbering policies, fiscal period resolution, number formatting and the
// storage interfaces the numbering engine depends on.
// Implementations of the storage contracts live in the infrastructure layer.
package numerator

import (
	"fmt"
	"strings"

	"backoffice/internal/core/apperror"
)

// ResetPeriod determines how often the sequence restarts at 1.
type ResetPeriod string

const (
	// ResetNever keeps one sequence for the whole life of the document type.
	ResetNever ResetPeriod = "NEVER"
	// ResetMonthly restarts the sequence every calendar month.
	ResetMonthly ResetPeriod = "MONTHLY"
	// ResetQuarterly restarts the sequence every calendar quarter.
	ResetQuarterly ResetPeriod = "QUARTERLY"
	// ResetAnnually restarts the sequence every fiscal year.
	ResetAnnually ResetPeriod = "ANNUALLY"
)

// MaxPrefixLength bounds Policy.CustomPrefix.
const MaxPrefixLength = 5

// ParseResetPeriod accepts any letter case.
func ParseResetPeriod(s string) (ResetPeriod, error) {
	p := ResetPeriod(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case ResetNever, ResetMonthly, ResetQuarterly, ResetAnnually:
		return p, nil
	}
	return "", fmt.Errorf("unknown reset period %q", s)
}

// Policy is the per-tenant numbering configuration of a document family.
// The engine never modifies it.
type Policy struct {
	// CustomPrefix is prepended to the type code when PrefixEnabled is set.
	CustomPrefix string `json:"customPrefix" db:"custom_prefix"`

	// PrefixEnabled switches the custom prefix on.
	PrefixEnabled bool `json:"prefixEnabled" db:"prefix_enabled"`

	// ResetPeriod selects the numbering scope granularity.
	ResetPeriod ResetPeriod `json:"resetPeriod" db:"reset_period"`
}

// DefaultPolicy numbers per fiscal year without a prefix.
func DefaultPolicy() Policy {
	return Policy{ResetPeriod: ResetAnnually}
}

// Prefix returns the effective prefix, or "" when none applies.
func (p Policy) Prefix() string {
	if !p.PrefixEnabled {
		return ""
	}
	return strings.TrimSpace(p.CustomPrefix)
}

// Validate checks policy invariants.
func (p Policy) Validate() error {
	if _, err := ParseResetPeriod(string(p.ResetPeriod)); err != nil {
		return apperror.NewInvalidInput("invalid numbering policy").
			WithDetail("field", "resetPeriod").
			WithDetail("value", string(p.ResetPeriod))
	}
	prefix := p.Prefix()
	if len(prefix) > MaxPrefixLength {
		return apperror.NewInvalidInput("numbering prefix is too long").
			WithDetail("field", "customPrefix").
			WithDetail("max", MaxPrefixLength)
	}
	if strings.ContainsAny(prefix, "/~%_ ") {
		return apperror.NewInvalidInput("numbering prefix contains reserved characters").
			WithDetail("field", "customPrefix")
	}
	return nil
}

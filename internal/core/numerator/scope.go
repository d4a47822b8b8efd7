package numerator

import (
	"strings"
	"time"
)

// Scope is the tuple (tenant, document type, fiscal year, segment) within which
// sequences are unique and ordered.
type Scope struct {
	TenantID string
	DocType  string
	Period   Period

	// Anchor is a date inside the scope, enough to resolve it again.
	Anchor time.Time
}

// NewScope resolves the scope of a document dated occurredOn.
func NewScope(tenantID, docType string, occurredOn time.Time, reset ResetPeriod) (Scope, error) {
	p, err := Resolve(occurredOn, reset)
	if err != nil {
		return Scope{}, err
	}
	return Scope{TenantID: tenantID, DocType: docType, Period: p, Anchor: DateOf(occurredOn)}, nil
}

// Key identifies the scope for locking, counters and the reconciliation queue.
// NEVER scopes ignore the fiscal year because their sequence spans all years.
func (s Scope) Key() string {
	fy := s.Period.FiscalYear
	if !s.Period.Bounded() {
		fy = "*"
	}
	return strings.Join([]string{s.TenantID, s.DocType, fy, s.Period.Segment}, "|")
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}

// Pattern returns the number pattern of the scope under policy.
func (s Scope) Pattern(policy Policy) Pattern {
	return NewPattern(policy, s.DocType, s.Period)
}

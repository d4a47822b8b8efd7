package numbering

import (
	"context"
	"fmt"
	"time"

	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
)

// ConflictReport describes how a date relates to the numbered records of its scope.
type ConflictReport struct {
	// Scope is the scope key the date resolved to.
	Scope string `json:"scope"`

	// HasConflict is true when a later-dated active record already exists.
	HasConflict bool `json:"hasConflict"`

	// LaterCount is the number of active records dated strictly after the date.
	LaterCount int `json:"laterCount"`

	// MaxOccurredOn is the latest active date in scope, zero when the scope is empty.
	MaxOccurredOn time.Time `json:"maxOccurredOn,omitempty"`
}

// NeedsReindex reports whether a reindex has records to move.
// A conflict with no later records only means a stale number is out of order.
func (r ConflictReport) NeedsReindex() bool {
	return r.LaterCount > 0
}

// CheckConflict reports whether occurredOn breaks chronological order in its scope.
// The record excludingID (id.Nil() for a new document) is ignored. It never writes.
func (e *Engine) CheckConflict(
	ctx context.Context,
	tenantID, docType string,
	occurredOn time.Time,
	policy numerator.Policy,
	excludingID id.ID,
) (ConflictReport, error) {
	scope, err := resolveScope(tenantID, docType, occurredOn, policy)
	if err != nil {
		return ConflictReport{}, err
	}
	report := ConflictReport{Scope: scope.Key()}

	maxDate, found, err := e.store.MaxOccurredOn(ctx, scope, excludingID)
	if err != nil {
		return report, fmt.Errorf("read max date in scope %s: %w", scope.Key(), err)
	}
	if !found {
		return report, nil
	}

	day := numerator.DateOf(occurredOn)
	report.MaxOccurredOn = numerator.DateOf(maxDate)
	report.HasConflict = day.Before(report.MaxOccurredOn)
	if !report.HasConflict {
		return report, nil
	}

	report.LaterCount, err = e.store.CountLater(ctx, scope, day, excludingID)
	if err != nil {
		return report, fmt.Errorf("count later records in scope %s: %w", scope.Key(), err)
	}
	return report, nil
}

package numbering

import (
	"context"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/numerator"
	"backoffice/pkg/logger"
)

// ValidatePeriodChange rejects a date change that would move a record into
// another numbering scope. Its existing number belongs to the old sequence.
func (e *Engine) ValidatePeriodChange(
	ctx context.Context,
	tenantID, docType string,
	oldDate, newDate time.Time,
	policy numerator.Policy,
) error {
	from, err := resolveScope(tenantID, docType, oldDate, policy)
	if err != nil {
		return err
	}
	to, err := resolveScope(tenantID, docType, newDate, policy)
	if err != nil {
		return err
	}
	if from.Period.SameScope(to.Period) {
		return nil
	}

	logger.Debug(ctx, "cross-period date change rejected",
		"tenant_id", tenantID,
		"doc_type", docType,
		"from", from.Period.Label(),
		"to", to.Period.Label())

	return apperror.NewCrossPeriod(from.Period.Label(), to.Period.Label()).
		WithDetail("doc_type", docType)
}

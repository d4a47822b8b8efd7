package vouchers

import (
	"context"
	"time"

	"backoffice/internal/core/id"
	"backoffice/internal/domain"
)

// Repository persists vouchers. Each type lives in its own table.
type Repository interface {
	// Create inserts v and sets its CreatedSeq.
	// A number already used by the tenant yields a duplicate error.
	Create(ctx context.Context, v *Voucher) error

	// GetByID returns the voucher, inactive ones included.
	GetByID(ctx context.Context, tenantID, docType string, voucherID id.ID) (*Voucher, error)

	// UpdateDate changes occurred_on if the stored version equals v.Version.
	// On success v carries the new date and version.
	UpdateDate(ctx context.Context, v *Voucher, occurredOn time.Time) error

	// Delete marks the voucher inactive. The number stays taken.
	Delete(ctx context.Context, tenantID, docType string, voucherID id.ID) error

	// List returns vouchers ordered by (occurred_on, created_seq).
	List(ctx context.Context, tenantID, docType string, filter domain.ListFilter) (domain.ListResult[*Voucher], error)
}

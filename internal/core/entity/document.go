package entity

import (
	"context"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
)

// Compile-time check that Document satisfies the numbering contract.
var _ numerator.Document = (*Document)(nil)

// Document is the base type for numbered business transactions (vouchers, notes).
type Document struct {
	BaseDocument

	// TenantID is the owning tenant, immutable after creation
	TenantID string `db:"tenant_id" json:"tenantId"`

	// Number is assigned once at creation and later rewritten only by renumbering
	Number string `db:"number" json:"number"`

	// OccurredOn is the business date of the document
	OccurredOn time.Time `db:"occurred_on" json:"occurredOn"`

	// Active is false once the document is soft-deleted
	Active bool `db:"is_active" json:"active"`

	// CreatedSeq is a monotonic insertion marker, assigned by storage
	CreatedSeq int64 `db:"created_seq" json:"-"`
}

// NewDocument creates an active Document with generated ID.
func NewDocument(tenantID string, occurredOn time.Time) Document {
	return Document{
		BaseDocument: NewBaseDocument(),
		TenantID:     tenantID,
		OccurredOn:   numerator.DateOf(occurredOn),
		Active:       true,
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.TenantID == "" {
		return apperror.NewValidation("tenant is required").
			WithDetail("field", "tenantId")
	}
	if d.OccurredOn.IsZero() {
		return apperror.NewInvalidInput("document date is required").
			WithDetail("field", "occurredOn")
	}
	return nil
}

// CanModify checks if document can be modified.
func (d *Document) CanModify() error {
	if !d.Active {
		return apperror.NewBusinessRule(
			apperror.CodeDocumentInactive,
			"Cannot modify a deleted document.",
		).WithDetail("document_id", d.ID.String())
	}
	return nil
}

// Record returns the numbering read model of the document.
func (d *Document) Record() numerator.Record {
	return numerator.Record{
		ID:         d.ID,
		Number:     d.Number,
		OccurredOn: d.OccurredOn,
		CreatedSeq: d.CreatedSeq,
		Active:     d.Active,
	}
}

// --- numerator.Document ---

// DocumentID returns the document ID.
func (d *Document) DocumentID() id.ID { return d.ID }

// DocumentTenant returns the owning tenant.
func (d *Document) DocumentTenant() string { return d.TenantID }

// DocumentNumber returns the current number.
func (d *Document) DocumentNumber() string { return d.Number }

// SetDocumentNumber replaces the number.
func (d *Document) SetDocumentNumber(number string) { d.Number = number }

// DocumentDate returns the business date.
func (d *Document) DocumentDate() time.Time { return d.OccurredOn }

// IsActive reports whether the document is not soft-deleted.
func (d *Document) IsActive() bool { return d.Active }

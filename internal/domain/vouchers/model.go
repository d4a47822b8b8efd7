// Package vouchers provides numbered accounting vouchers and the service that
// keeps their numbers in date order.
package vouchers

import (
	"context"
	"strings"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/types"
)

// MaxNarrationLength bounds Voucher.Narration.
const MaxNarrationLength = 500

// Voucher is a numbered accounting document of one of the registered types.
type Voucher struct {
	entity.Document

	// DocType is the type code; it selects the table and is never stored
	DocType string `db:"-" json:"docType"`

	// PartyName is the counterparty as printed on the voucher
	PartyName string `db:"party_name" json:"partyName,omitempty"`

	// Amount is the voucher total
	Amount types.Money `db:"amount" json:"amount"`

	// Narration is a free-text description
	Narration string `db:"narration" json:"narration,omitempty"`
}

// NewVoucher creates an active voucher without a number.
func NewVoucher(tenantID, docType string, occurredOn time.Time) *Voucher {
	return &Voucher{
		Document: entity.NewDocument(tenantID, occurredOn),
		DocType:  strings.ToUpper(strings.TrimSpace(docType)),
		Amount:   types.Zero(),
	}
}

// Validate implements entity.Validatable.
func (v *Voucher) Validate(ctx context.Context) error {
	if err := v.Document.Validate(ctx); err != nil {
		return err
	}
	if _, err := Lookup(v.DocType); err != nil {
		return apperror.NewValidation("unknown voucher type").
			WithDetail("field", "docType").
			WithDetail("value", v.DocType)
	}
	if v.Amount.IsNegative() {
		return apperror.NewValidation("amount cannot be negative").
			WithDetail("field", "amount")
	}
	if len(v.Narration) > MaxNarrationLength {
		return apperror.NewValidation("narration is too long").
			WithDetail("field", "narration").
			WithDetail("max", MaxNarrationLength)
	}
	return nil
}

package dto

import (
	"time"

	"github.com/samber/lo"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/types"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/domain/vouchers"
)

// CreateVoucherRequest for creating a voucher. Number is optional; when set it
// is used as is if no other voucher of the tenant holds it.
type CreateVoucherRequest struct {
	OccurredOn string      `json:"occurredOn" binding:"required"`
	Number     string      `json:"number" binding:"omitempty,max=64"`
	PartyName  string      `json:"partyName" binding:"omitempty,max=200"`
	Amount     types.Money `json:"amount"`
	Narration  string      `json:"narration" binding:"omitempty,max=500"`
}

// UpdateVoucherDateRequest moves a voucher to another date.
type UpdateVoucherDateRequest struct {
	OccurredOn string `json:"occurredOn" binding:"required"`
	Version    int    `json:"version" binding:"required,min=1"`
}

// RenumberRequest selects the scope to renumber by a date inside it.
type RenumberRequest struct {
	Anchor string `json:"anchor" binding:"required"`
}

// VoucherResponse contains voucher fields.
type VoucherResponse struct {
	ID         string      `json:"id"`
	DocType    string      `json:"docType"`
	Number     string      `json:"number"`
	OccurredOn string      `json:"occurredOn"`
	PartyName  string      `json:"partyName,omitempty"`
	Amount     types.Money `json:"amount"`
	Narration  string      `json:"narration,omitempty"`
	Active     bool        `json:"active"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// FromVoucher creates VoucherResponse from a voucher.
func FromVoucher(v *vouchers.Voucher) VoucherResponse {
	return VoucherResponse{
		ID:         v.ID.String(),
		DocType:    v.DocType,
		Number:     v.Number,
		OccurredOn: v.OccurredOn.Format(time.DateOnly),
		PartyName:  v.PartyName,
		Amount:     v.Amount,
		Narration:  v.Narration,
		Active:     v.Active,
		Version:    v.Version,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

// FromVouchers maps a page of vouchers.
func FromVouchers(items []*vouchers.Voucher) []VoucherResponse {
	return lo.Map(items, func(v *vouchers.Voucher, _ int) VoucherResponse {
		return FromVoucher(v)
	})
}

// VoucherResultResponse is returned by create and date updates. The voucher is
// saved even when NumberingConsistent is false; the warning says why.
type VoucherResultResponse struct {
	Voucher             VoucherResponse `json:"voucher"`
	NumberingConsistent bool            `json:"numberingConsistent"`
	Renumbered          int             `json:"renumbered"`
	Warning             *ErrorResponse  `json:"warning,omitempty"`
}

// FromResult maps a voucher operation outcome.
func FromResult(res *vouchers.Result) VoucherResultResponse {
	return VoucherResultResponse{
		Voucher:             FromVoucher(res.Voucher),
		NumberingConsistent: res.NumberingConsistent,
		Renumbered:          res.Renumbered,
		Warning:             FromAppError(res.Warning),
	}
}

// RenumberResponse reports an explicit renumbering.
type RenumberResponse struct {
	Scope      string         `json:"scope"`
	Renumbered int            `json:"renumbered"`
	Consistent bool           `json:"consistent"`
	Error      *ErrorResponse `json:"error,omitempty"`
}

// FromReport maps a reindex report.
func FromReport(r numbering.ReindexReport) RenumberResponse {
	resp := RenumberResponse{Scope: r.Scope, Renumbered: r.Renumbered, Consistent: r.Consistent()}
	if appErr, ok := apperror.AsAppError(r.Err); ok {
		resp.Error = FromAppError(appErr)
	}
	return resp
}

// VoucherTypeResponse describes one voucher type.
type VoucherTypeResponse struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Family string `json:"family"`
}

// FromTypes maps the voucher type registry.
func FromTypes(infos []vouchers.TypeInfo) []VoucherTypeResponse {
	return lo.Map(infos, func(t vouchers.TypeInfo, _ int) VoucherTypeResponse {
		return VoucherTypeResponse{Code: t.Code, Name: t.Name, Family: string(t.Family)}
	})
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"backoffice/internal/domain"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/http/v1/dto"
)

// VoucherHandler handles voucher HTTP requests.
type VoucherHandler struct {
	*BaseHandler
	service *vouchers.Service
}

// NewVoucherHandler creates a new voucher handler.
func NewVoucherHandler(base *BaseHandler, service *vouchers.Service) *VoucherHandler {
	return &VoucherHandler{BaseHandler: base, service: service}
}

// Types lists the voucher types.
// GET /voucher-types
func (h *VoucherHandler) Types(c *gin.Context) {
	h.OK(c, dto.FromTypes(vouchers.Types()))
}

// Create numbers and stores a voucher.
// POST /vouchers/:type
func (h *VoucherHandler) Create(c *gin.Context) {
	var req dto.CreateVoucherRequest
	if !h.BindJSON(c, &req) {
		return
	}
	occurredOn, err := dto.ParseDate("occurredOn", req.OccurredOn)
	if err != nil {
		h.Error(c, err)
		return
	}

	v := vouchers.NewVoucher(h.GetTenantID(c), c.Param("type"), occurredOn)
	v.Number = req.Number
	v.PartyName = req.PartyName
	v.Amount = req.Amount
	v.Narration = req.Narration
	v.CreatedBy = h.GetUserID(c)

	res, err := h.service.Create(c.Request.Context(), v)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromResult(res))
}

// Get returns one voucher.
// GET /vouchers/:type/:id
func (h *VoucherHandler) Get(c *gin.Context) {
	voucherID, ok := h.ParseID(c)
	if !ok {
		return
	}
	v, err := h.service.Get(c.Request.Context(), h.GetTenantID(c), c.Param("type"), voucherID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromVoucher(v))
}

// List returns vouchers of one type ordered by date, then creation.
// GET /vouchers/:type
func (h *VoucherHandler) List(c *gin.Context) {
	var q dto.ListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	from, err := dto.ParseOptionalDate("dateFrom", q.DateFrom)
	if err != nil {
		h.Error(c, err)
		return
	}
	to, err := dto.ParseOptionalDate("dateTo", q.DateTo)
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := domain.ListFilter{
		IncludeDeleted: q.IncludeDeleted,
		DateFrom:       from,
		DateTo:         to,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
	res, err := h.service.List(c.Request.Context(), h.GetTenantID(c), c.Param("type"), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse[dto.VoucherResponse]{
		Items:      dto.FromVouchers(res.Items),
		TotalCount: res.TotalCount,
		Limit:      res.Limit,
		Offset:     res.Offset,
	})
}

// UpdateDate moves a voucher to another date in the same numbering period.
// PATCH /vouchers/:type/:id/date
func (h *VoucherHandler) UpdateDate(c *gin.Context) {
	voucherID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.UpdateVoucherDateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	occurredOn, err := dto.ParseDate("occurredOn", req.OccurredOn)
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.service.UpdateDate(c.Request.Context(), h.GetTenantID(c), c.Param("type"), voucherID, occurredOn, req.Version)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// Delete soft-deletes a voucher; its number is not reused.
// DELETE /vouchers/:type/:id
func (h *VoucherHandler) Delete(c *gin.Context) {
	voucherID, ok := h.ParseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), h.GetTenantID(c), c.Param("type"), voucherID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Renumber runs a full reindex of the scope containing the anchor date.
// POST /vouchers/:type/renumber
func (h *VoucherHandler) Renumber(c *gin.Context) {
	var req dto.RenumberRequest
	if !h.BindJSON(c, &req) {
		return
	}
	anchor, err := dto.ParseDate("anchor", req.Anchor)
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.service.Renumber(c.Request.Context(), h.GetTenantID(c), c.Param("type"), anchor)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromReport(report))
}

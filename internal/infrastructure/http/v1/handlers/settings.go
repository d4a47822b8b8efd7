package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/http/v1/dto"
)

// PolicyService reads and replaces numbering policies.
type PolicyService interface {
	Policy(ctx context.Context, tenantID, family string) (numerator.Policy, error)
	Set(ctx context.Context, tenantID, family string, policy numerator.Policy) error
}

// SettingsHandler handles numbering settings requests.
type SettingsHandler struct {
	*BaseHandler
	policies PolicyService
	queue    numerator.PendingQueue
}

// NewSettingsHandler creates a new settings handler. queue may be nil.
func NewSettingsHandler(base *BaseHandler, policies PolicyService, queue numerator.PendingQueue) *SettingsHandler {
	return &SettingsHandler{BaseHandler: base, policies: policies, queue: queue}
}

// GetPolicy returns the effective numbering policy of a family.
// GET /settings/numbering/:family
func (h *SettingsHandler) GetPolicy(c *gin.Context) {
	family, err := vouchers.ParseFamily(c.Param("family"))
	if err != nil {
		h.Error(c, err)
		return
	}
	p, err := h.policies.Policy(c.Request.Context(), h.GetTenantID(c), string(family))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPolicy(string(family), p))
}

// PutPolicy replaces the numbering policy of a family. Existing numbers keep
// their format; the new policy applies to allocations made afterwards.
// PUT /settings/numbering/:family
func (h *SettingsHandler) PutPolicy(c *gin.Context) {
	family, err := vouchers.ParseFamily(c.Param("family"))
	if err != nil {
		h.Error(c, err)
		return
	}
	var req dto.NumberingPolicyRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	tenantID := h.GetTenantID(c)
	if err := h.policies.Set(ctx, tenantID, string(family), req.Policy()); err != nil {
		h.Error(c, err)
		return
	}
	p, err := h.policies.Policy(ctx, tenantID, string(family))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPolicy(string(family), p))
}

// Pending lists the caller's scopes waiting for reconciliation.
// GET /numbering/pending
func (h *SettingsHandler) Pending(c *gin.Context) {
	if h.queue == nil {
		h.OK(c, []dto.PendingScopeResponse{})
		return
	}
	all, err := h.queue.ListPending(c.Request.Context(), 0, 0)
	if err != nil {
		h.Error(c, err)
		return
	}
	tenantID := h.GetTenantID(c)
	mine := lo.Filter(all, func(p numerator.PendingScope, _ int) bool { return p.TenantID == tenantID })
	h.OK(c, lo.Map(mine, func(p numerator.PendingScope, _ int) dto.PendingScopeResponse {
		return dto.FromPendingScope(p)
	}))
}

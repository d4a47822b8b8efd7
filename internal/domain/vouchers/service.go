package vouchers

import (
	"context"
	"fmt"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
	"backoffice/internal/domain"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/domain/settings"
	"backoffice/pkg/logger"
)

// Result is a voucher operation outcome. The voucher is saved either way;
// NumberingConsistent is false when its scope still needs a reindex.
type Result struct {
	Voucher             *Voucher          `json:"voucher"`
	NumberingConsistent bool              `json:"numberingConsistent"`
	Renumbered          int               `json:"renumbered"`
	Warning             *apperror.AppError `json:"warning,omitempty"`
}

// Service provides business operations for vouchers.
type Service struct {
	repo      Repository
	engine    *numbering.Engine
	policies  settings.Provider
	txManager tx.Manager
	hooks     *domain.HookRegistry[*Voucher]
}

// NewService creates a new voucher service.
func NewService(
	repo Repository,
	engine *numbering.Engine,
	policies settings.Provider,
	txManager tx.Manager,
) *Service {
	if txManager == nil {
		txManager = tx.NoTx
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		policies:  policies,
		txManager: txManager,
		hooks:     domain.NewHookRegistry[*Voucher](),
	}
}

// Hooks returns the hook registry for registering callbacks.
func (s *Service) Hooks() *domain.HookRegistry[*Voucher] {
	return s.hooks
}

func (s *Service) policy(ctx context.Context, tenantID string, info TypeInfo) (numerator.Policy, error) {
	p, err := s.policies.Policy(ctx, tenantID, string(info.Family))
	if err != nil {
		return numerator.Policy{}, fmt.Errorf("numbering policy for %s: %w", info.Code, err)
	}
	return p, nil
}

// NumberingPolicy returns the policy in force for a voucher type.
// It matches numbering.PolicyLookup.
func (s *Service) NumberingPolicy(ctx context.Context, tenantID, docType string) (numerator.Policy, error) {
	info, err := Lookup(docType)
	if err != nil {
		return numerator.Policy{}, err
	}
	return s.policy(ctx, tenantID, info)
}

// Create numbers and stores a new voucher, then restores date order in its
// scope if it was backdated. A non-empty v.Number is used when still free.
// A number lost to a concurrent insert is replaced once.
func (s *Service) Create(ctx context.Context, v *Voucher) (*Result, error) {
	info, err := Lookup(v.DocType)
	if err != nil {
		return nil, err
	}
	v.DocType = info.Code
	v.Active = true

	if err := s.hooks.Run(ctx, domain.BeforeCreate, v); err != nil {
		return nil, err
	}
	if err := v.Validate(ctx); err != nil {
		return nil, err
	}

	policy, err := s.policy(ctx, v.TenantID, info)
	if err != nil {
		return nil, err
	}

	req := numbering.AllocateRequest{
		TenantID:   v.TenantID,
		DocType:    info.Code,
		OccurredOn: v.OccurredOn,
		Policy:     policy,
		Explicit:   v.Number,
	}
	err = s.allocateAndInsert(ctx, v, req)
	if apperror.HasCode(err, apperror.CodeDuplicate) {
		// the number was taken between allocation and insert; once more with a fresh one
		logger.Warn(ctx, "allocated number taken before insert, allocating again",
			"doc_type", info.Code,
			"number", v.Number)
		err = s.allocateAndInsert(ctx, v, req)
	}
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "voucher created",
		"id", v.ID,
		"doc_type", info.Code,
		"number", v.Number,
		"occurred_on", v.OccurredOn.Format(time.DateOnly))

	res := s.reconcile(ctx, v, policy, v.OccurredOn, false)
	if err := s.hooks.Run(ctx, domain.AfterCreate, res.Voucher); err != nil {
		logger.Warn(ctx, "after-create hook failed", "error", err)
	}
	return res, nil
}

func (s *Service) allocateAndInsert(ctx context.Context, v *Voucher, req numbering.AllocateRequest) error {
	number, err := s.engine.Allocate(ctx, req)
	if err != nil {
		return err
	}
	v.Number = number
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, v)
	})
	if err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

// UpdateDate moves a voucher to another date inside its numbering scope.
// Cross-scope moves are rejected before anything is written.
func (s *Service) UpdateDate(ctx context.Context, tenantID, docType string, voucherID id.ID, occurredOn time.Time, version int) (*Result, error) {
	info, err := Lookup(docType)
	if err != nil {
		return nil, err
	}
	if occurredOn.IsZero() {
		return nil, apperror.NewInvalidInput("document date is required").
			WithDetail("field", "occurredOn")
	}
	newDate := numerator.DateOf(occurredOn)

	v, err := s.repo.GetByID(ctx, tenantID, info.Code, voucherID)
	if err != nil {
		return nil, err
	}
	if err := v.CanModify(); err != nil {
		return nil, err
	}
	if version > 0 && version != v.Version {
		return nil, apperror.NewConcurrentModification("voucher", voucherID)
	}

	policy, err := s.policy(ctx, tenantID, info)
	if err != nil {
		return nil, err
	}
	oldDate := numerator.DateOf(v.OccurredOn)
	if err := s.engine.ValidatePeriodChange(ctx, tenantID, info.Code, oldDate, newDate, policy); err != nil {
		return nil, err
	}
	if oldDate.Equal(newDate) {
		return &Result{Voucher: v, NumberingConsistent: true}, nil
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.UpdateDate(ctx, v, newDate)
	})
	if err != nil {
		return nil, fmt.Errorf("update voucher date: %w", err)
	}

	logger.Info(ctx, "voucher date changed",
		"id", v.ID,
		"doc_type", info.Code,
		"from", oldDate.Format(time.DateOnly),
		"to", newDate.Format(time.DateOnly))

	since := newDate
	if oldDate.Before(newDate) {
		since = oldDate
	}
	res := s.reconcile(ctx, v, policy, since, true)
	if err := s.hooks.Run(ctx, domain.AfterUpdate, res.Voucher); err != nil {
		logger.Warn(ctx, "after-update hook failed", "error", err)
	}
	return res, nil
}

// reconcile runs the conflict check and, when records must move, a reindex.
// A date change always reindexes from since: records sharing the voucher's
// old or new date may have to move even though none is dated later.
// Failures never undo the voucher operation; they end up in Result.Warning.
func (s *Service) reconcile(ctx context.Context, v *Voucher, policy numerator.Policy, since time.Time, dateChanged bool) *Result {
	res := &Result{Voucher: v, NumberingConsistent: true}

	if !dateChanged {
		report, err := s.engine.CheckConflict(ctx, v.TenantID, v.DocType, v.OccurredOn, policy, v.ID)
		if err != nil {
			logger.Error(ctx, "numbering conflict check failed",
				"tenant_id", v.TenantID,
				"doc_type", v.DocType,
				"id", v.ID,
				"error", err)
			res.NumberingConsistent = false
			res.Warning = apperror.NewReindexFailed(v.DocType, err)
			return res
		}
		if !report.NeedsReindex() {
			return res
		}
	}

	report := s.engine.Reindex(ctx, numbering.ReindexRequest{
		TenantID:    v.TenantID,
		DocType:     v.DocType,
		OccurredOn:  v.OccurredOn,
		Policy:      policy,
		ExcludingID: v.ID,
		Since:       since,
	})
	res.Renumbered = report.Renumbered
	if !report.Consistent() {
		res.NumberingConsistent = false
		if appErr, ok := apperror.AsAppError(report.Err); ok {
			res.Warning = appErr
		} else {
			res.Warning = apperror.NewReindexFailed(report.Scope, report.Err)
		}
		return res
	}

	if report.Renumbered > 0 {
		fresh, err := s.repo.GetByID(ctx, v.TenantID, v.DocType, v.ID)
		if err != nil {
			logger.Warn(ctx, "reload after renumbering failed", "id", v.ID, "error", err)
			return res
		}
		res.Voucher = fresh
	}
	return res
}

// Delete soft-deletes a voucher. Its number is never reused and no reindex runs.
func (s *Service) Delete(ctx context.Context, tenantID, docType string, voucherID id.ID) error {
	info, err := Lookup(docType)
	if err != nil {
		return err
	}
	v, err := s.repo.GetByID(ctx, tenantID, info.Code, voucherID)
	if err != nil {
		return err
	}
	if !v.Active {
		return nil
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, tenantID, info.Code, voucherID)
	})
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	v.Active = false

	logger.Info(ctx, "voucher deleted", "id", voucherID, "doc_type", info.Code, "number", v.Number)
	if err := s.hooks.Run(ctx, domain.AfterDelete, v); err != nil {
		logger.Warn(ctx, "after-delete hook failed", "error", err)
	}
	return nil
}

// Get returns one voucher.
func (s *Service) Get(ctx context.Context, tenantID, docType string, voucherID id.ID) (*Voucher, error) {
	info, err := Lookup(docType)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, tenantID, info.Code, voucherID)
}

// List returns vouchers of one type in date order.
func (s *Service) List(ctx context.Context, tenantID, docType string, filter domain.ListFilter) (domain.ListResult[*Voucher], error) {
	info, err := Lookup(docType)
	if err != nil {
		return domain.ListResult[*Voucher]{}, err
	}
	return s.repo.List(ctx, tenantID, info.Code, filter.Normalize())
}

// Renumber runs a full reindex of the scope containing anchor.
func (s *Service) Renumber(ctx context.Context, tenantID, docType string, anchor time.Time) (numbering.ReindexReport, error) {
	info, err := Lookup(docType)
	if err != nil {
		return numbering.ReindexReport{}, err
	}
	policy, err := s.policy(ctx, tenantID, info)
	if err != nil {
		return numbering.ReindexReport{}, err
	}

	report := s.engine.Reindex(ctx, numbering.ReindexRequest{
		TenantID:   tenantID,
		DocType:    info.Code,
		OccurredOn: anchor,
		Policy:     policy,
		Mode:       numbering.ModeFull,
	})
	if apperror.IsInvalidInput(report.Err) {
		return report, report.Err
	}
	return report, nil
}

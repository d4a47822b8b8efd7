package document_repo

import (
	"context"
	"time"

	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/domain"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Compile-time check that VoucherRepo implements vouchers.Repository.
var _ vouchers.Repository = (*VoucherRepo)(nil)

// VoucherRepo stores each voucher type in its own table.
type VoucherRepo struct {
	byType map[string]*BaseDocumentRepo[*vouchers.Voucher]
}

// NewVoucherRepo creates a repository covering every registered voucher type.
func NewVoucherRepo(txm *postgres.TxManager) *VoucherRepo {
	cols := postgres.ExtractDBColumns[vouchers.Voucher]()
	repo := &VoucherRepo{byType: make(map[string]*BaseDocumentRepo[*vouchers.Voucher])}
	for _, info := range vouchers.Types() {
		repo.byType[info.Code] = NewBaseDocumentRepo(txm, info.Table, "voucher", cols,
			func() *vouchers.Voucher { return &vouchers.Voucher{} })
	}
	return repo
}

func (r *VoucherRepo) table(docType string) (*BaseDocumentRepo[*vouchers.Voucher], string, error) {
	info, err := vouchers.Lookup(docType)
	if err != nil {
		return nil, "", err
	}
	return r.byType[info.Code], info.Code, nil
}

// Create implements vouchers.Repository.
func (r *VoucherRepo) Create(ctx context.Context, v *vouchers.Voucher) error {
	base, _, err := r.table(v.DocType)
	if err != nil {
		return err
	}
	seq, err := base.Create(ctx, v, v.Number)
	if err != nil {
		return err
	}
	v.CreatedSeq = seq
	return nil
}

// GetByID implements vouchers.Repository.
func (r *VoucherRepo) GetByID(ctx context.Context, tenantID, docType string, voucherID id.ID) (*vouchers.Voucher, error) {
	base, code, err := r.table(docType)
	if err != nil {
		return nil, err
	}
	v, err := base.GetByID(ctx, tenantID, voucherID)
	if err != nil {
		return nil, err
	}
	v.DocType = code
	return v, nil
}

// GetByNumber returns the voucher that currently holds number.
func (r *VoucherRepo) GetByNumber(ctx context.Context, tenantID, docType, number string) (*vouchers.Voucher, error) {
	base, code, err := r.table(docType)
	if err != nil {
		return nil, err
	}
	v, err := base.GetByNumber(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}
	v.DocType = code
	return v, nil
}

// UpdateDate implements vouchers.Repository.
func (r *VoucherRepo) UpdateDate(ctx context.Context, v *vouchers.Voucher, occurredOn time.Time) error {
	base, _, err := r.table(v.DocType)
	if err != nil {
		return err
	}
	version, updatedAt, err := base.UpdateDate(ctx, v.TenantID, v.ID, v.Version, occurredOn)
	if err != nil {
		return err
	}
	v.OccurredOn = numerator.DateOf(occurredOn)
	v.Version = version
	v.UpdatedAt = updatedAt
	return nil
}

// Delete implements vouchers.Repository.
func (r *VoucherRepo) Delete(ctx context.Context, tenantID, docType string, voucherID id.ID) error {
	base, _, err := r.table(docType)
	if err != nil {
		return err
	}
	return base.Delete(ctx, tenantID, voucherID)
}

// List implements vouchers.Repository.
func (r *VoucherRepo) List(ctx context.Context, tenantID, docType string, filter domain.ListFilter) (domain.ListResult[*vouchers.Voucher], error) {
	base, code, err := r.table(docType)
	if err != nil {
		return domain.ListResult[*vouchers.Voucher]{}, err
	}
	res, err := base.List(ctx, tenantID, filter)
	if err != nil {
		return res, err
	}
	for _, v := range res.Items {
		v.DocType = code
	}
	return res, nil
}

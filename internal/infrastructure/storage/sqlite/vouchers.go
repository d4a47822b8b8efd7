package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/types"
	"backoffice/internal/domain"
	"backoffice/internal/domain/vouchers"
)

// Compile-time check that Store implements vouchers.Repository.
var _ vouchers.Repository = (*Store)(nil)

var voucherColumns = []string{
	"id", "tenant_id", "number", "occurred_on", "is_active", "created_seq",
	"party_name", "amount", "narration", "version", "created_at", "updated_at", "created_by",
}

// voucherRow mirrors a voucher table row with SQLite text dates.
type voucherRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	Number     string `db:"number"`
	OccurredOn string `db:"occurred_on"`
	Active     bool   `db:"is_active"`
	CreatedSeq int64  `db:"created_seq"`
	PartyName  string `db:"party_name"`
	Amount     string `db:"amount"`
	Narration  string `db:"narration"`
	Version    int    `db:"version"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
	CreatedBy  string `db:"created_by"`
}

func (r voucherRow) voucher(docType string) (*vouchers.Voucher, error) {
	voucherID, err := id.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", r.ID, err)
	}
	occurredOn, err := parseDate(r.OccurredOn)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", r.OccurredOn, err)
	}
	amount, err := types.NewMoneyFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", r.Amount, err)
	}
	return &vouchers.Voucher{
		Document: entity.Document{
			BaseDocument: entity.BaseDocument{
				BaseEntity: entity.BaseEntity{ID: voucherID, Version: r.Version},
				CreatedAt:  parseTime(r.CreatedAt),
				UpdatedAt:  parseTime(r.UpdatedAt),
				CreatedBy:  r.CreatedBy,
			},
			TenantID:   r.TenantID,
			Number:     r.Number,
			OccurredOn: occurredOn,
			Active:     r.Active,
			CreatedSeq: r.CreatedSeq,
		},
		DocType:   docType,
		PartyName: r.PartyName,
		Amount:    amount,
		Narration: r.Narration,
	}, nil
}

func voucherTable(docType string) (vouchers.TypeInfo, error) {
	return vouchers.Lookup(docType)
}

// Create implements vouchers.Repository. created_seq comes from sys_created_seq
// so insertion order holds across all voucher tables.
func (s *Store) Create(ctx context.Context, v *vouchers.Voucher) error {
	info, err := voucherTable(v.DocType)
	if err != nil {
		return err
	}

	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.querier(ctx)
		res, err := q.ExecContext(ctx, "INSERT INTO sys_created_seq DEFAULT VALUES")
		if err != nil {
			return fmt.Errorf("allocate created_seq: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read created_seq: %w", err)
		}

		now := s.now()
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
		if v.Version == 0 {
			v.Version = 1
		}

		query, args, err := builder().
			Insert(info.Table).
			Columns(voucherColumns...).
			Values(
				v.ID.String(), v.TenantID, v.Number, formatDate(v.OccurredOn), v.Active, seq,
				v.PartyName, v.Amount.String(), v.Narration, v.Version,
				formatTime(v.CreatedAt), formatTime(v.UpdatedAt), v.CreatedBy,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return apperror.NewDuplicate("voucher", "number", v.Number).WithCause(err)
			}
			return fmt.Errorf("insert %s: %w", info.Table, err)
		}
		v.CreatedSeq = seq
		v.DocType = info.Code
		return nil
	})
}

// GetByID implements vouchers.Repository.
func (s *Store) GetByID(ctx context.Context, tenantID, docType string, voucherID id.ID) (*vouchers.Voucher, error) {
	info, err := voucherTable(docType)
	if err != nil {
		return nil, err
	}

	query, args, err := builder().
		Select(voucherColumns...).
		From(info.Table).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": voucherID.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row voucherRow
	if err := sqlscan.Get(ctx, s.querier(ctx), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NewNotFound("voucher", voucherID.String())
		}
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return row.voucher(info.Code)
}

// UpdateDate implements vouchers.Repository.
func (s *Store) UpdateDate(ctx context.Context, v *vouchers.Voucher, occurredOn time.Time) error {
	info, err := voucherTable(v.DocType)
	if err != nil {
		return err
	}

	now := s.now()
	query, args, err := builder().
		Update(info.Table).
		Set("occurred_on", formatDate(occurredOn)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", formatTime(now)).
		Where(squirrel.Eq{"tenant_id": v.TenantID, "id": v.ID.String(), "version": v.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", info.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetByID(ctx, v.TenantID, info.Code, v.ID); getErr != nil {
			return getErr
		}
		return apperror.NewConcurrentModification("voucher", v.ID)
	}

	v.OccurredOn = numerator.DateOf(occurredOn)
	v.Version++
	v.UpdatedAt = now
	return nil
}

// Delete implements vouchers.Repository.
func (s *Store) Delete(ctx context.Context, tenantID, docType string, voucherID id.ID) error {
	info, err := voucherTable(docType)
	if err != nil {
		return err
	}

	query, args, err := builder().
		Update(info.Table).
		Set("is_active", false).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", formatTime(s.now())).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": voucherID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := s.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", info.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("voucher", voucherID.String())
	}
	return nil
}

// List implements vouchers.Repository.
func (s *Store) List(ctx context.Context, tenantID, docType string, filter domain.ListFilter) (domain.ListResult[*vouchers.Voucher], error) {
	filter = filter.Normalize()
	result := domain.ListResult[*vouchers.Voucher]{
		Items:  []*vouchers.Voucher{},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	info, err := voucherTable(docType)
	if err != nil {
		return result, err
	}

	where := squirrel.And{squirrel.Eq{"tenant_id": tenantID}}
	if !filter.IncludeDeleted {
		where = append(where, squirrel.Eq{"is_active": true})
	}
	if filter.DateFrom != nil {
		where = append(where, squirrel.GtOrEq{"occurred_on": formatDate(*filter.DateFrom)})
	}
	if filter.DateTo != nil {
		where = append(where, squirrel.LtOrEq{"occurred_on": formatDate(*filter.DateTo)})
	}

	countSQL, countArgs, err := builder().Select("COUNT(*)").From(info.Table).Where(where).ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}
	q := s.querier(ctx)
	if err := q.QueryRowContext(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	query, args, err := builder().
		Select(voucherColumns...).
		From(info.Table).
		Where(where).
		OrderBy("occurred_on", "created_seq").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}

	var rows []voucherRow
	if err := sqlscan.Select(ctx, q, &rows, query, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	for _, r := range rows {
		v, err := r.voucher(info.Code)
		if err != nil {
			return result, err
		}
		result.Items = append(result.Items, v)
	}
	return result, nil
}

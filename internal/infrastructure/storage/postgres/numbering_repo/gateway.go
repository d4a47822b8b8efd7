// Package numbering_repo provides the PostgreSQL side of document numbering:
// scope queries over voucher tables, the sys_sequences high-water marks,
// transaction advisory locks per scope and the reconciliation queue.
package numbering_repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/samber/lo"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Compile-time check that Gateway implements numerator.Gateway.
var _ numerator.Gateway = (*Gateway)(nil)

// TableResolver maps a document type code to its table.
type TableResolver func(docType string) (string, error)

// VoucherTables resolves tables from the voucher type registry.
func VoucherTables(docType string) (string, error) {
	info, err := vouchers.Lookup(docType)
	if err != nil {
		return "", err
	}
	return info.Table, nil
}

// QuerierSource hands out the querier for ctx: its transaction or the pool.
// *postgres.TxManager implements it.
type QuerierSource interface {
	GetQuerier(ctx context.Context) postgres.Querier
}

// Gateway implements numerator.Gateway over per-type document tables.
// Every call joins the transaction carried by ctx, if any.
type Gateway struct {
	db     QuerierSource
	tables TableResolver

	// every voucher table, for tenant-wide number lookups
	allTables []string
}

// NewGateway creates a gateway. A nil resolver uses VoucherTables.
func NewGateway(db QuerierSource, tables TableResolver) *Gateway {
	if tables == nil {
		tables = VoucherTables
	}
	all := lo.Uniq(lo.FilterMap(vouchers.Types(), func(info vouchers.TypeInfo, _ int) (string, bool) {
		table, err := tables(info.Code)
		return table, err == nil
	}))
	return &Gateway{db: db, tables: tables, allTables: all}
}

// scopeWhere restricts a query to the active records of the scope.
func scopeWhere(q squirrel.SelectBuilder, scope numerator.Scope, excluding id.ID) squirrel.SelectBuilder {
	q = q.Where(squirrel.Eq{"tenant_id": scope.TenantID, "is_active": true})
	if scope.Period.Bounded() {
		q = q.Where(squirrel.GtOrEq{"occurred_on": scope.Period.Start}).
			Where(squirrel.Lt{"occurred_on": scope.Period.End})
	}
	if !id.IsNil(excluding) {
		q = q.Where(squirrel.NotEq{"id": excluding})
	}
	return q
}

// MaxSequence implements numerator.ScopeQuery.
// The LIKE prefix narrows the scan to the number index; the regular expression
// keeps only numbers of the scope and extracts their sequence.
func (g *Gateway) MaxSequence(ctx context.Context, tenantID, docType string, pattern numerator.Pattern) (int64, error) {
	table, err := g.tables(docType)
	if err != nil {
		return 0, err
	}

	sql, args, err := postgres.Builder().
		Select().
		Column(squirrel.Expr("COALESCE(MAX(substring(number FROM ?)::bigint), 0)", pattern.Regexp())).
		From(table).
		Where(squirrel.Eq{"tenant_id": tenantID}).
		Where(squirrel.Expr(`number LIKE ? ESCAPE '\'`, pattern.LikePrefix()+"%")).
		Where(squirrel.Expr("number ~ ?", pattern.Regexp())).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build max sequence: %w", err)
	}

	var top int64
	if err := g.db.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&top); err != nil {
		return 0, fmt.Errorf("max sequence %s: %w", table, err)
	}
	return top, nil
}

// MaxOccurredOn implements numerator.ScopeQuery.
func (g *Gateway) MaxOccurredOn(ctx context.Context, scope numerator.Scope, excluding id.ID) (time.Time, bool, error) {
	table, err := g.tables(scope.DocType)
	if err != nil {
		return time.Time{}, false, err
	}

	sql, args, err := scopeWhere(postgres.Builder().Select("MAX(occurred_on)").From(table), scope, excluding).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build max date: %w", err)
	}

	var latest *time.Time
	if err := g.db.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("max date %s: %w", table, err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return numerator.DateOf(*latest), true, nil
}

// CountLater implements numerator.ScopeQuery.
func (g *Gateway) CountLater(ctx context.Context, scope numerator.Scope, after time.Time, excluding id.ID) (int, error) {
	table, err := g.tables(scope.DocType)
	if err != nil {
		return 0, err
	}

	q := scopeWhere(postgres.Builder().Select("COUNT(*)").From(table), scope, excluding).
		Where(squirrel.Gt{"occurred_on": numerator.DateOf(after)})
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count later: %w", err)
	}

	var n int
	if err := g.db.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count later %s: %w", table, err)
	}
	return n, nil
}

// NumberExists implements numerator.ScopeQuery. It looks in every voucher table
// of the tenant; inactive records keep their numbers.
func (g *Gateway) NumberExists(ctx context.Context, tenantID, _, number string) (bool, error) {
	if len(g.allTables) == 0 {
		return false, fmt.Errorf("number exists: no voucher tables")
	}

	selects := lo.Map(g.allTables, func(table string, _ int) string {
		return "SELECT 1 FROM " + table + " WHERE tenant_id = $1 AND number = $2"
	})
	sql := "SELECT EXISTS (" + strings.Join(selects, " UNION ALL ") + ")"

	var exists bool
	if err := g.db.GetQuerier(ctx).QueryRow(ctx, sql, tenantID, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("number exists: %w", err)
	}
	return exists, nil
}

// AdvanceCounter implements numerator.Gateway with a single UPSERT, so concurrent
// callers on one key never read the same value.
func (g *Gateway) AdvanceCounter(ctx context.Context, key string, floor int64) (int64, error) {
	var next int64
	err := g.db.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, $2::bigint + 1, NOW())
		ON CONFLICT (key) DO UPDATE
		SET current_val = GREATEST(sys_sequences.current_val, $2::bigint) + 1,
		    updated_at = NOW()
		RETURNING current_val
	`, key, floor).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advance counter %s: %w", key, err)
	}
	return next, nil
}

// ListActive implements numerator.Gateway.
func (g *Gateway) ListActive(ctx context.Context, scope numerator.Scope, since time.Time) ([]numerator.Record, error) {
	table, err := g.tables(scope.DocType)
	if err != nil {
		return nil, err
	}

	q := scopeWhere(postgres.Builder().
		Select("id", "number", "occurred_on", "created_seq", "is_active").
		From(table), scope, id.Nil()).
		OrderBy("occurred_on", "created_seq")
	if !since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"occurred_on": numerator.DateOf(since)})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active: %w", err)
	}

	var records []numerator.Record
	if err := pgxscan.Select(ctx, g.db.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("list active %s: %w", table, err)
	}
	return records, nil
}

// SetNumber implements numerator.Gateway.
func (g *Gateway) SetNumber(ctx context.Context, tenantID, docType string, recordID id.ID, number string) error {
	table, err := g.tables(docType)
	if err != nil {
		return err
	}

	sql, args, err := postgres.Builder().
		Update(table).
		Set("number", number).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": recordID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set number: %w", err)
	}

	tag, err := g.db.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapNumberError(fmt.Errorf("set number %s: %w", table, err), "voucher", number)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("voucher", recordID)
	}
	return nil
}

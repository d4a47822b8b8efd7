// Package document_repo provides PostgreSQL repositories for numbered documents.
// Every document table carries tenant_id, number, occurred_on, is_active,
// created_seq and version; tenants share tables and are filtered by tenant_id.
package document_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/domain"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Columns maintained by the repository rather than copied from the entity.
var managedColumns = []string{"created_seq", "version", "updated_at"}

// BaseDocumentRepo provides CRUD for one document table.
type BaseDocumentRepo[T any] struct {
	txm        *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
	newFn      func() T
}

// NewBaseDocumentRepo creates a repository for tableName.
func NewBaseDocumentRepo[T any](
	txm *postgres.TxManager,
	tableName, entityName string,
	selectCols []string,
	newFn func() T,
) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txm:        txm,
		tableName:  tableName,
		entityName: entityName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Table returns the table name.
func (r *BaseDocumentRepo[T]) Table() string {
	return r.tableName
}

// Create inserts the document and returns the created_seq assigned by the database.
// A number already used by the tenant yields a duplicate error.
func (r *BaseDocumentRepo[T]) Create(ctx context.Context, entity T, number string) (int64, error) {
	data := postgres.PickColumns(postgres.StructToMap(entity), r.selectCols, managedColumns...)
	if len(data) == 0 {
		return 0, fmt.Errorf("no db tags found in entity")
	}

	sql, args, err := postgres.Builder().
		Insert(r.tableName).
		SetMap(data).
		Suffix("RETURNING created_seq").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var seq int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&seq); err != nil {
		return 0, postgres.MapNumberError(fmt.Errorf("insert %s: %w", r.tableName, err), r.entityName, number)
	}
	return seq, nil
}

// UpdateDate changes occurred_on under optimistic locking and returns the new
// version and update time.
func (r *BaseDocumentRepo[T]) UpdateDate(ctx context.Context, tenantID string, entityID id.ID, version int, occurredOn time.Time) (int, time.Time, error) {
	sql, args, err := postgres.Builder().
		Update(r.tableName).
		Set("occurred_on", numerator.DateOf(occurredOn)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": entityID, "version": version}).
		Suffix("RETURNING version, updated_at").
		ToSql()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("build update: %w", err)
	}

	var (
		newVersion int
		updatedAt  time.Time
	)
	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&newVersion, &updatedAt)
	if pgxscan.NotFound(err) {
		if exists, exErr := r.exists(ctx, tenantID, entityID); exErr != nil {
			return 0, time.Time{}, exErr
		} else if !exists {
			return 0, time.Time{}, apperror.NewNotFound(r.entityName, entityID.String())
		}
		return 0, time.Time{}, apperror.NewConcurrentModification(r.entityName, entityID)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("update %s: %w", r.tableName, err)
	}
	return newVersion, updatedAt, nil
}

// Delete soft-deletes a document. The number stays in the table.
func (r *BaseDocumentRepo[T]) Delete(ctx context.Context, tenantID string, entityID id.ID) error {
	sql, args, err := postgres.Builder().
		Update(r.tableName).
		Set("is_active", false).
		Set("updated_at", squirrel.Expr("NOW()")).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.tableName, err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(r.entityName, entityID.String())
	}
	return nil
}

func (r *BaseDocumentRepo[T]) baseSelect(tenantID string) squirrel.SelectBuilder {
	return postgres.Builder().
		Select(r.selectCols...).
		From(r.tableName).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

func (r *BaseDocumentRepo[T]) exists(ctx context.Context, tenantID string, entityID id.ID) (bool, error) {
	sql, args, err := postgres.Builder().
		Select("1").
		Prefix("SELECT EXISTS (").
		From(r.tableName).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": entityID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}
	var found bool
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("exists %s: %w", r.tableName, err)
	}
	return found, nil
}

// GetByID retrieves a document, inactive ones included.
func (r *BaseDocumentRepo[T]) GetByID(ctx context.Context, tenantID string, entityID id.ID) (T, error) {
	entity := r.newFn()
	sql, args, err := r.baseSelect(tenantID).
		Where(squirrel.Eq{"id": entityID}).
		ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.entityName, entityID.String())
		}
		return entity, fmt.Errorf("get by id: %w", err)
	}
	return entity, nil
}

// GetByNumber retrieves a document by its number.
func (r *BaseDocumentRepo[T]) GetByNumber(ctx context.Context, tenantID, number string) (T, error) {
	entity := r.newFn()
	sql, args, err := r.baseSelect(tenantID).
		Where(squirrel.Eq{"number": number}).
		ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.entityName, number)
		}
		return entity, fmt.Errorf("get by number: %w", err)
	}
	return entity, nil
}

// List returns documents ordered by (occurred_on, created_seq).
func (r *BaseDocumentRepo[T]) List(ctx context.Context, tenantID string, filter domain.ListFilter) (domain.ListResult[T], error) {
	filter = filter.Normalize()
	result := domain.ListResult[T]{
		Items:  []T{},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	q := r.baseSelect(tenantID)
	if !filter.IncludeDeleted {
		q = q.Where(squirrel.Eq{"is_active": true})
	}
	if filter.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"occurred_on": numerator.DateOf(*filter.DateFrom)})
	}
	if filter.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"occurred_on": numerator.DateOf(*filter.DateTo)})
	}

	countSQL, countArgs, err := postgres.Builder().Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	sql, args, err := q.
		OrderBy("occurred_on", "created_seq").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Select(ctx, querier, &result.Items, sql, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	return result, nil
}

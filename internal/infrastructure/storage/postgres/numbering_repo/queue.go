package numbering_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"backoffice/internal/core/numerator"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Compile-time check that Queue implements numerator.PendingQueue.
var _ numerator.PendingQueue = (*Queue)(nil)

// maxErrorLength truncates stored failure messages.
const maxErrorLength = 2000

// Queue stores scopes awaiting reconciliation in sys_renumber_queue.
type Queue struct {
	db QuerierSource
}

// NewQueue creates a queue.
func NewQueue(db QuerierSource) *Queue {
	return &Queue{db: db}
}

// Enqueue implements numerator.PendingQueue.
func (q *Queue) Enqueue(ctx context.Context, scope numerator.Scope, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
	}

	_, err := q.db.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_renumber_queue (scope_key, tenant_id, doc_type, anchor_date, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, NOW(), NOW())
		ON CONFLICT (scope_key) DO UPDATE
		SET attempts = sys_renumber_queue.attempts + 1,
		    anchor_date = EXCLUDED.anchor_date,
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
	`, scope.Key(), scope.TenantID, scope.DocType, scope.Anchor, msg)
	if err != nil {
		return fmt.Errorf("enqueue scope %s: %w", scope.Key(), err)
	}
	return nil
}

// ListPending implements numerator.PendingQueue.
func (q *Queue) ListPending(ctx context.Context, maxAttempts, limit int) ([]numerator.PendingScope, error) {
	sb := postgres.Builder().
		Select("scope_key", "tenant_id", "doc_type", "anchor_date", "attempts", "last_error", "updated_at").
		From("sys_renumber_queue").
		OrderBy("updated_at")
	if maxAttempts > 0 {
		sb = sb.Where(squirrel.Lt{"attempts": maxAttempts})
	}
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending: %w", err)
	}

	var out []numerator.PendingScope
	if err := pgxscan.Select(ctx, q.db.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// Resolve implements numerator.PendingQueue.
func (q *Queue) Resolve(ctx context.Context, key string) error {
	sql, args, err := postgres.Builder().
		Delete("sys_renumber_queue").
		Where(squirrel.Eq{"scope_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build resolve: %w", err)
	}
	if _, err := q.db.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("resolve scope %s: %w", key, err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/samber/lo"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/vouchers"
)

// Compile-time interface checks.
var (
	_ numerator.Gateway      = (*Store)(nil)
	_ numerator.Auditor      = (*Store)(nil)
	_ numerator.PendingQueue = (*Store)(nil)
)

func tableOf(docType string) (string, error) {
	info, err := vouchers.Lookup(docType)
	if err != nil {
		return "", err
	}
	return info.Table, nil
}

func scopeWhere(q squirrel.SelectBuilder, scope numerator.Scope, excluding id.ID) squirrel.SelectBuilder {
	q = q.Where(squirrel.Eq{"tenant_id": scope.TenantID, "is_active": 1})
	if scope.Period.Bounded() {
		q = q.Where(squirrel.GtOrEq{"occurred_on": formatDate(scope.Period.Start)}).
			Where(squirrel.Lt{"occurred_on": formatDate(scope.Period.End)})
	}
	if !id.IsNil(excluding) {
		q = q.Where(squirrel.NotEq{"id": excluding.String()})
	}
	return q
}

// MaxSequence implements numerator.ScopeQuery. The sequence is extracted by the
// numbering_seq function registered on every connection.
func (s *Store) MaxSequence(ctx context.Context, tenantID, docType string, pattern numerator.Pattern) (int64, error) {
	table, err := tableOf(docType)
	if err != nil {
		return 0, err
	}

	query, args, err := builder().
		Select().
		Column(squirrel.Expr("COALESCE(MAX(numbering_seq(?, number)), 0)", pattern.Regexp())).
		From(table).
		Where(squirrel.Eq{"tenant_id": tenantID}).
		Where(squirrel.Expr(`number LIKE ? ESCAPE '\'`, pattern.LikePrefix()+"%")).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build max sequence: %w", err)
	}

	var top int64
	if err := s.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&top); err != nil {
		return 0, fmt.Errorf("max sequence %s: %w", table, err)
	}
	return top, nil
}

// MaxOccurredOn implements numerator.ScopeQuery.
func (s *Store) MaxOccurredOn(ctx context.Context, scope numerator.Scope, excluding id.ID) (time.Time, bool, error) {
	table, err := tableOf(scope.DocType)
	if err != nil {
		return time.Time{}, false, err
	}

	query, args, err := scopeWhere(builder().Select("MAX(occurred_on)").From(table), scope, excluding).ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build max date: %w", err)
	}

	var latest sql.NullString
	if err := s.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("max date %s: %w", table, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	d, err := parseDate(latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %q: %w", latest.String, err)
	}
	return d, true, nil
}

// CountLater implements numerator.ScopeQuery.
func (s *Store) CountLater(ctx context.Context, scope numerator.Scope, after time.Time, excluding id.ID) (int, error) {
	table, err := tableOf(scope.DocType)
	if err != nil {
		return 0, err
	}

	query, args, err := scopeWhere(builder().Select("COUNT(*)").From(table), scope, excluding).
		Where(squirrel.Gt{"occurred_on": formatDate(after)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count later: %w", err)
	}

	var n int
	if err := s.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count later %s: %w", table, err)
	}
	return n, nil
}

// NumberExists implements numerator.ScopeQuery. It looks in every voucher table of the tenant.
func (s *Store) NumberExists(ctx context.Context, tenantID, _, number string) (bool, error) {
	tables := lo.Uniq(lo.Map(vouchers.Types(), func(info vouchers.TypeInfo, _ int) string { return info.Table }))
	selects := lo.Map(tables, func(table string, _ int) string {
		return "SELECT 1 FROM " + table + " WHERE tenant_id = ?1 AND number = ?2"
	})
	query := "SELECT EXISTS (" + strings.Join(selects, " UNION ALL ") + ")"

	var exists bool
	if err := s.querier(ctx).QueryRowContext(ctx, query, tenantID, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("number exists: %w", err)
	}
	return exists, nil
}

// AdvanceCounter implements numerator.Gateway.
func (s *Store) AdvanceCounter(ctx context.Context, key string, floor int64) (int64, error) {
	var next int64
	err := s.querier(ctx).QueryRowContext(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES (?1, ?2 + 1, ?3)
		ON CONFLICT (key) DO UPDATE
		SET current_val = MAX(sys_sequences.current_val, ?2) + 1,
		    updated_at = ?3
		RETURNING current_val
	`, key, floor, formatTime(s.now())).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advance counter %s: %w", key, err)
	}
	return next, nil
}

type recordRow struct {
	ID         string `db:"id"`
	Number     string `db:"number"`
	OccurredOn string `db:"occurred_on"`
	CreatedSeq int64  `db:"created_seq"`
	Active     bool   `db:"is_active"`
}

func (r recordRow) record() (numerator.Record, error) {
	recordID, err := id.Parse(r.ID)
	if err != nil {
		return numerator.Record{}, fmt.Errorf("parse id %q: %w", r.ID, err)
	}
	d, err := parseDate(r.OccurredOn)
	if err != nil {
		return numerator.Record{}, fmt.Errorf("parse date %q: %w", r.OccurredOn, err)
	}
	return numerator.Record{
		ID:         recordID,
		Number:     r.Number,
		OccurredOn: d,
		CreatedSeq: r.CreatedSeq,
		Active:     r.Active,
	}, nil
}

// ListActive implements numerator.Gateway.
func (s *Store) ListActive(ctx context.Context, scope numerator.Scope, since time.Time) ([]numerator.Record, error) {
	table, err := tableOf(scope.DocType)
	if err != nil {
		return nil, err
	}

	q := scopeWhere(builder().
		Select("id", "number", "occurred_on", "created_seq", "is_active").
		From(table), scope, id.Nil()).
		OrderBy("occurred_on", "created_seq")
	if !since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"occurred_on": formatDate(since)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active: %w", err)
	}

	var rows []recordRow
	if err := sqlscan.Select(ctx, s.querier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list active %s: %w", table, err)
	}
	out := make([]numerator.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetNumber implements numerator.Gateway.
func (s *Store) SetNumber(ctx context.Context, tenantID, docType string, recordID id.ID, number string) error {
	table, err := tableOf(docType)
	if err != nil {
		return err
	}

	query, args, err := builder().
		Update(table).
		Set("number", number).
		Set("updated_at", formatTime(s.now())).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": recordID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set number: %w", err)
	}

	res, err := s.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("voucher", "number", number).WithCause(err)
		}
		return fmt.Errorf("set number %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("voucher", recordID)
	}
	return nil
}

// --- numerator.Auditor ---

// AuditEntry is one recorded renumbering.
type AuditEntry struct {
	ScopeKey  string
	UserID    string
	Changes   []numerator.Change
	CreatedAt time.Time
}

// RecordRenumbering implements numerator.Auditor.
func (s *Store) RecordRenumbering(ctx context.Context, scope numerator.Scope, changes []numerator.Change) error {
	body, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	query, args, err := builder().
		Insert("sys_audit").
		Columns("id", "entity_type", "entity_id", "action", "changes", "created_at").
		Values(id.New().String(), "numbering_scope", scope.Key(), "renumber", string(body), formatTime(s.now())).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := s.querier(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RenumberingHistory returns the renumberings of a scope, newest first.
func (s *Store) RenumberingHistory(ctx context.Context, scopeKey string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := builder().
		Select("entity_id", "user_id", "changes", "created_at").
		From("sys_audit").
		Where(squirrel.Eq{"entity_type": "numbering_scope", "entity_id": scopeKey}).
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []struct {
		EntityID  string `db:"entity_id"`
		UserID    string `db:"user_id"`
		Changes   string `db:"changes"`
		CreatedAt string `db:"created_at"`
	}
	if err := sqlscan.Select(ctx, s.querier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := AuditEntry{ScopeKey: r.EntityID, UserID: r.UserID, CreatedAt: parseTime(r.CreatedAt)}
		if err := json.Unmarshal([]byte(r.Changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- numerator.PendingQueue ---

// Enqueue implements numerator.PendingQueue.
func (s *Store) Enqueue(ctx context.Context, scope numerator.Scope, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := formatTime(s.now())
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO sys_renumber_queue (scope_key, tenant_id, doc_type, anchor_date, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (scope_key) DO UPDATE
		SET attempts = sys_renumber_queue.attempts + 1,
		    anchor_date = excluded.anchor_date,
		    last_error = excluded.last_error,
		    updated_at = excluded.updated_at
	`, scope.Key(), scope.TenantID, scope.DocType, formatDate(scope.Anchor), msg, now, now)
	if err != nil {
		return fmt.Errorf("enqueue scope %s: %w", scope.Key(), err)
	}
	return nil
}

// ListPending implements numerator.PendingQueue.
func (s *Store) ListPending(ctx context.Context, maxAttempts, limit int) ([]numerator.PendingScope, error) {
	q := builder().
		Select("scope_key", "tenant_id", "doc_type", "anchor_date", "attempts", "last_error", "updated_at").
		From("sys_renumber_queue").
		OrderBy("updated_at", "rowid")
	if maxAttempts > 0 {
		q = q.Where(squirrel.Lt{"attempts": maxAttempts})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending: %w", err)
	}

	var rows []struct {
		Key       string `db:"scope_key"`
		TenantID  string `db:"tenant_id"`
		DocType   string `db:"doc_type"`
		Anchor    string `db:"anchor_date"`
		Attempts  int    `db:"attempts"`
		LastError string `db:"last_error"`
		UpdatedAt string `db:"updated_at"`
	}
	if err := sqlscan.Select(ctx, s.querier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	out := make([]numerator.PendingScope, 0, len(rows))
	for _, r := range rows {
		anchor, err := parseDate(r.Anchor)
		if err != nil {
			return nil, fmt.Errorf("parse anchor %q: %w", r.Anchor, err)
		}
		out = append(out, numerator.PendingScope{
			Key:       r.Key,
			TenantID:  r.TenantID,
			DocType:   r.DocType,
			Anchor:    anchor,
			Attempts:  r.Attempts,
			LastError: r.LastError,
			UpdatedAt: parseTime(r.UpdatedAt),
		})
	}
	return out, nil
}

// Resolve implements numerator.PendingQueue.
func (s *Store) Resolve(ctx context.Context, key string) error {
	if _, err := s.querier(ctx).ExecContext(ctx, "DELETE FROM sys_renumber_queue WHERE scope_key = ?", key); err != nil {
		return fmt.Errorf("resolve scope %s: %w", key, err)
	}
	return nil
}

// isNoRows reports sql.ErrNoRows in err.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

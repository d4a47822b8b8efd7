package numbering_repo

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/infrastructure/storage/postgres"
)

var errNoRows = errors.New("rows are not mocked")

// mockRow scans fixed values into the destinations.
type mockRow struct {
	values []any
	err    error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type call struct {
	sql  string
	args []any
}

// mockQuerier records every statement it is given.
type mockQuerier struct {
	calls []call
	row   mockRow
	tag   pgconn.CommandTag
	err   error
}

func (m *mockQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.calls = append(m.calls, call{sql, args})
	return m.tag, m.err
}

func (m *mockQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.calls = append(m.calls, call{sql, args})
	return nil, errNoRows
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.calls = append(m.calls, call{sql, args})
	return m.row
}

func (m *mockQuerier) last(t *testing.T) call {
	t.Helper()
	require.NotEmpty(t, m.calls)
	return m.calls[len(m.calls)-1]
}

// mockSource serves one querier, optionally as an open transaction.
type mockSource struct {
	q    *mockQuerier
	inTx bool
}

func (s mockSource) GetQuerier(context.Context) postgres.Querier { return s.q }

func (s mockSource) TxQuerier(context.Context) (postgres.Querier, bool) {
	if !s.inTx {
		return nil, false
	}
	return s.q, true
}

func testTables(docType string) (string, error) {
	switch docType {
	case "SV":
		return "doc_sales", nil
	case "PV":
		return "doc_purchases", nil
	}
	return "", apperror.NewNotFound("voucher type", docType)
}

func salesScope(t *testing.T) numerator.Scope {
	t.Helper()
	scope, err := numerator.NewScope("acme", "SV", time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC), numerator.ResetAnnually)
	require.NoError(t, err)
	return scope
}

func TestGateway_MaxSequence(t *testing.T) {
	q := &mockQuerier{row: mockRow{values: []any{int64(12)}}}
	g := NewGateway(mockSource{q: q}, testTables)
	pattern := salesScope(t).Pattern(numerator.DefaultPolicy())

	top, err := g.MaxSequence(context.Background(), "acme", "SV", pattern)
	require.NoError(t, err)
	assert.Equal(t, int64(12), top)

	c := q.last(t)
	assert.Contains(t, c.sql, "COALESCE(MAX(substring(number FROM $1)::bigint), 0)")
	assert.Contains(t, c.sql, "FROM doc_sales")
	assert.Contains(t, c.sql, "tenant_id = $2")
	assert.Contains(t, c.sql, `number LIKE $3 ESCAPE '\'`)
	assert.Contains(t, c.sql, "number ~ $4")
	assert.Equal(t, []any{pattern.Regexp(), "acme", pattern.LikePrefix() + "%", pattern.Regexp()}, c.args)
}

func TestGateway_MaxOccurredOnUsesScopeBounds(t *testing.T) {
	latest := time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC)
	q := &mockQuerier{row: mockRow{values: []any{&latest}}}
	g := NewGateway(mockSource{q: q}, testTables)
	scope := salesScope(t)
	excluding := id.New()

	got, found, err := g.MaxOccurredOn(context.Background(), scope, excluding)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(latest))

	c := q.last(t)
	assert.Contains(t, c.sql, "SELECT MAX(occurred_on) FROM doc_sales")
	assert.Contains(t, c.sql, "is_active = $1 AND tenant_id = $2")
	assert.Contains(t, c.sql, "occurred_on >= $3")
	assert.Contains(t, c.sql, "occurred_on < $4")
	assert.Contains(t, c.sql, "id <> $5")
	assert.Equal(t, []any{true, "acme", scope.Period.Start, scope.Period.End, excluding}, c.args)

	q.row = mockRow{values: []any{(*time.Time)(nil)}}
	_, found, err = g.MaxOccurredOn(context.Background(), scope, id.Nil())
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotContains(t, q.last(t).sql, "id <>")
}

func TestGateway_CountLater(t *testing.T) {
	q := &mockQuerier{row: mockRow{values: []any{3}}}
	g := NewGateway(mockSource{q: q}, testTables)
	scope := salesScope(t)
	after := time.Date(2024, time.May, 10, 15, 30, 0, 0, time.UTC)

	n, err := g.CountLater(context.Background(), scope, after, id.Nil())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	c := q.last(t)
	assert.Contains(t, c.sql, "SELECT COUNT(*) FROM doc_sales")
	assert.Contains(t, c.sql, "occurred_on > $5")
	assert.Equal(t, []any{true, "acme", scope.Period.Start, scope.Period.End, numerator.DateOf(after)}, c.args)
}

func TestGateway_NumberExistsSpansEveryTable(t *testing.T) {
	q := &mockQuerier{row: mockRow{values: []any{true}}}
	g := NewGateway(mockSource{q: q}, testTables)

	exists, err := g.NumberExists(context.Background(), "acme", "SV", "INV-1")
	require.NoError(t, err)
	assert.True(t, exists)

	c := q.last(t)
	assert.True(t, strings.HasPrefix(c.sql, "SELECT EXISTS ("))
	assert.Contains(t, c.sql, "SELECT 1 FROM doc_sales WHERE tenant_id = $1 AND number = $2")
	assert.Contains(t, c.sql, "SELECT 1 FROM doc_purchases WHERE tenant_id = $1 AND number = $2")
	assert.Contains(t, c.sql, " UNION ALL ")
	assert.Equal(t, []any{"acme", "INV-1"}, c.args)
}

func TestGateway_AdvanceCounter(t *testing.T) {
	q := &mockQuerier{row: mockRow{values: []any{int64(5)}}}
	g := NewGateway(mockSource{q: q}, testTables)

	next, err := g.AdvanceCounter(context.Background(), "acme|SV|2425||", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next)

	c := q.last(t)
	assert.Contains(t, c.sql, "ON CONFLICT (key) DO UPDATE")
	assert.Contains(t, c.sql, "GREATEST(sys_sequences.current_val, $2::bigint) + 1")
	assert.Contains(t, c.sql, "RETURNING current_val")
	assert.Equal(t, []any{"acme|SV|2425||", int64(4)}, c.args)

	q.row = mockRow{err: errors.New("connection reset")}
	_, err = g.AdvanceCounter(context.Background(), "k", 0)
	assert.ErrorContains(t, err, "connection reset")
}

func TestGateway_ListActive(t *testing.T) {
	q := &mockQuerier{}
	g := NewGateway(mockSource{q: q}, testTables)
	scope := salesScope(t)
	since := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	_, err := g.ListActive(context.Background(), scope, since)
	require.ErrorIs(t, err, errNoRows)

	c := q.last(t)
	assert.Contains(t, c.sql, "SELECT id, number, occurred_on, created_seq, is_active FROM doc_sales")
	assert.Contains(t, c.sql, "occurred_on >= $5")
	assert.Contains(t, c.sql, "ORDER BY occurred_on, created_seq")
	assert.Equal(t, []any{true, "acme", scope.Period.Start, scope.Period.End, since}, c.args)
}

func TestGateway_SetNumber(t *testing.T) {
	q := &mockQuerier{tag: pgconn.NewCommandTag("UPDATE 1")}
	g := NewGateway(mockSource{q: q}, testTables)
	recordID := id.New()

	require.NoError(t, g.SetNumber(context.Background(), "acme", "SV", recordID, "SV/2425/0003"))
	c := q.last(t)
	assert.Contains(t, c.sql, "UPDATE doc_sales SET number = $1, updated_at = NOW()")
	assert.Contains(t, c.sql, "WHERE id = $2 AND tenant_id = $3")
	assert.Equal(t, []any{"SV/2425/0003", recordID, "acme"}, c.args)

	q.tag = pgconn.NewCommandTag("UPDATE 0")
	err := g.SetNumber(context.Background(), "acme", "SV", recordID, "SV/2425/0003")
	assert.True(t, apperror.IsNotFound(err))

	q.err = &pgconn.PgError{Code: "23505"}
	err = g.SetNumber(context.Background(), "acme", "SV", recordID, "SV/2425/0003")
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	err = g.SetNumber(context.Background(), "acme", "XX", recordID, "XX/1")
	assert.True(t, apperror.IsNotFound(err))
}

func TestQueue_EnqueueTruncatesError(t *testing.T) {
	q := &mockQuerier{}
	queue := NewQueue(mockSource{q: q})
	scope := salesScope(t)

	require.NoError(t, queue.Enqueue(context.Background(), scope, errors.New(strings.Repeat("x", 3000))))

	c := q.last(t)
	assert.Contains(t, c.sql, "INSERT INTO sys_renumber_queue")
	assert.Contains(t, c.sql, "attempts = sys_renumber_queue.attempts + 1")
	require.Len(t, c.args, 5)
	assert.Equal(t, []any{scope.Key(), "acme", "SV", scope.Anchor}, c.args[:4])
	assert.Len(t, c.args[4], maxErrorLength)
}

func TestQueue_ListPendingAndResolve(t *testing.T) {
	q := &mockQuerier{}
	queue := NewQueue(mockSource{q: q})
	ctx := context.Background()

	_, err := queue.ListPending(ctx, 3, 10)
	require.ErrorIs(t, err, errNoRows)
	c := q.last(t)
	assert.Contains(t, c.sql, "FROM sys_renumber_queue WHERE attempts < $1 ORDER BY updated_at LIMIT 10")
	assert.Equal(t, []any{3}, c.args)

	require.NoError(t, queue.Resolve(ctx, "acme|SV|2425||"))
	c = q.last(t)
	assert.Equal(t, "DELETE FROM sys_renumber_queue WHERE scope_key = $1", c.sql)
	assert.Equal(t, []any{"acme|SV|2425||"}, c.args)
}

func TestAdvisoryLocker_UsesTransactionLock(t *testing.T) {
	q := &mockQuerier{}
	scope := salesScope(t)

	_, err := NewAdvisoryLocker(mockSource{q: q}).Acquire(context.Background(), scope)
	require.ErrorIs(t, err, errNoTransaction)
	assert.Empty(t, q.calls, "nothing runs outside a transaction")

	release, err := NewAdvisoryLocker(mockSource{q: q, inTx: true}).Acquire(context.Background(), scope)
	require.NoError(t, err)
	release()

	require.Len(t, q.calls, 1)
	assert.Equal(t, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", q.calls[0].sql)
	assert.Equal(t, []any{scope.Key()}, q.calls[0].args)

	q.err = errors.New("canceling statement due to user request")
	_, err = NewAdvisoryLocker(mockSource{q: q, inTx: true}).Acquire(context.Background(), scope)
	assert.ErrorContains(t, err, "lock scope")
}

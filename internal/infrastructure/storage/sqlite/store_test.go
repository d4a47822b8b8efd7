package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/types"
	"backoffice/internal/domain"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/domain/settings"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/lock"
	"backoffice/internal/infrastructure/storage/sqlite"
)

const tenantID = "acme"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newService(t *testing.T, store *sqlite.Store) *vouchers.Service {
	t.Helper()
	cfg := numbering.DefaultConfig()
	cfg.ReindexRetries = 0
	engine := numbering.NewEngine(store, lock.NewKeyedMutex(), store, cfg).
		WithAuditor(store).
		WithPendingQueue(store)
	return vouchers.NewService(store, engine, settings.NewCachedPolicies(store, time.Minute), store)
}

func createOn(t *testing.T, svc *vouchers.Service, docType string, date time.Time) *vouchers.Result {
	t.Helper()
	v := vouchers.NewVoucher(tenantID, docType, date)
	v.Amount = types.MustMoney("42.10")
	v.PartyName = "Northwind"
	res, err := svc.Create(context.Background(), v)
	require.NoError(t, err)
	return res
}

func numbers(t *testing.T, store *sqlite.Store, docType string) []string {
	t.Helper()
	res, err := store.List(context.Background(), tenantID, docType, domain.ListFilter{Limit: 100})
	require.NoError(t, err)
	out := make([]string, 0, len(res.Items))
	for _, v := range res.Items {
		out = append(out, v.Number)
	}
	return out
}

func TestStore_VoucherRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	v := vouchers.NewVoucher(tenantID, "PV", day(2024, time.July, 3))
	v.Number = "PV/2425/0007"
	v.Amount = types.MustMoney("1999.99")
	v.Narration = "office chairs"
	require.NoError(t, store.Create(ctx, v))
	assert.Positive(t, v.CreatedSeq)

	got, err := store.GetByID(ctx, tenantID, "pv", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "PV", got.DocType)
	assert.Equal(t, "PV/2425/0007", got.Number)
	assert.True(t, got.OccurredOn.Equal(day(2024, time.July, 3)))
	assert.True(t, got.Amount.Equal(types.MustMoney("1999.99")))
	assert.Equal(t, "office chairs", got.Narration)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Active)

	dup := vouchers.NewVoucher(tenantID, "PV", day(2024, time.July, 4))
	dup.Number = "PV/2425/0007"
	err = store.Create(ctx, dup)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	_, err = store.GetByID(ctx, "other", "PV", v.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestStore_UpdateDateVersioning(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	v := vouchers.NewVoucher(tenantID, "JNL", day(2024, time.May, 1))
	v.Number = "JNL/2425/0001"
	require.NoError(t, store.Create(ctx, v))

	stale := *v
	require.NoError(t, store.UpdateDate(ctx, v, day(2024, time.May, 9)))
	assert.Equal(t, 2, v.Version)

	err := store.UpdateDate(ctx, &stale, day(2024, time.May, 12))
	assert.True(t, apperror.HasCode(err, apperror.CodeConcurrentModification))

	missing := vouchers.NewVoucher(tenantID, "JNL", day(2024, time.May, 1))
	err = store.UpdateDate(ctx, missing, day(2024, time.May, 2))
	assert.True(t, apperror.IsNotFound(err))

	got, err := store.GetByID(ctx, tenantID, "JNL", v.ID)
	require.NoError(t, err)
	assert.True(t, got.OccurredOn.Equal(day(2024, time.May, 9)))
}

func TestStore_ScopeQueries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	put := func(date time.Time, number string) *vouchers.Voucher {
		v := vouchers.NewVoucher(tenantID, "SV", date)
		v.Number = number
		require.NoError(t, store.Create(ctx, v))
		return v
	}
	a := put(day(2024, time.April, 5), "SV/2425/0001")
	put(day(2024, time.June, 5), "SV/2425/0002")
	c := put(day(2024, time.August, 5), "SV/2425/0009")
	put(day(2025, time.April, 2), "SV/2526/0001")
	require.NoError(t, store.Delete(ctx, tenantID, "SV", c.ID))

	scope, err := numerator.NewScope(tenantID, "SV", day(2024, time.May, 1), numerator.ResetAnnually)
	require.NoError(t, err)
	policy := numerator.DefaultPolicy()

	top, err := store.MaxSequence(ctx, tenantID, "SV", scope.Pattern(policy))
	require.NoError(t, err)
	assert.Equal(t, int64(9), top, "inactive numbers still count")

	latest, ok, err := store.MaxOccurredOn(ctx, scope, id.Nil())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(day(2024, time.June, 5)))

	n, err := store.CountLater(ctx, scope, day(2024, time.April, 5), id.Nil())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CountLater(ctx, scope, day(2024, time.April, 1), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := store.NumberExists(ctx, tenantID, "SV", "SV/2425/0009")
	require.NoError(t, err)
	assert.True(t, exists)

	records, err := store.ListActive(ctx, scope, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SV/2425/0001", records[0].Number)
	assert.Equal(t, "SV/2425/0002", records[1].Number)
}

func TestStore_NumberExistsAcrossTypes(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	v := vouchers.NewVoucher(tenantID, "SV", day(2024, time.May, 1))
	v.Number = "INV-1"
	require.NoError(t, store.Create(ctx, v))

	exists, err := store.NumberExists(ctx, tenantID, "PV", "INV-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.NumberExists(ctx, "other", "SV", "INV-1")
	require.NoError(t, err)
	assert.False(t, exists)

	svc := newService(t, store)
	pv := vouchers.NewVoucher(tenantID, "PV", day(2024, time.May, 2))
	pv.Number = "INV-1"
	res, err := svc.Create(ctx, pv)
	require.NoError(t, err)
	assert.Equal(t, "PV/2425/0001", res.Voucher.Number)
}

func TestStore_AdvanceCounter(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	next, err := store.AdvanceCounter(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	next, err = store.AdvanceCounter(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)

	next, err = store.AdvanceCounter(ctx, "k", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), next)
}

func TestStore_TransactionRollback(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := store.AdvanceCounter(ctx, "rollback", 0)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	next, err := store.AdvanceCounter(ctx, "rollback", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestStore_ServiceRenumbersBackdatedVoucher(t *testing.T) {
	store := openStore(t)
	svc := newService(t, store)

	createOn(t, svc, "SV", day(2024, time.May, 10))
	createOn(t, svc, "SV", day(2024, time.June, 1))
	res := createOn(t, svc, "SV", day(2024, time.May, 20))

	assert.True(t, res.NumberingConsistent)
	assert.Equal(t, "SV/2425/0002", res.Voucher.Number)
	assert.Equal(t, []string{"SV/2425/0001", "SV/2425/0002", "SV/2425/0003"}, numbers(t, store, "SV"))

	scope, err := numerator.NewScope(tenantID, "SV", day(2024, time.May, 20), numerator.ResetAnnually)
	require.NoError(t, err)
	history, err := store.RenumberingHistory(context.Background(), scope.Key(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.NotEmpty(t, history[0].Changes)
}

func TestStore_PolicyDrivesNumberFormat(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, found, err := store.GetPolicy(ctx, tenantID, string(vouchers.FamilyCash))
	require.NoError(t, err)
	assert.False(t, found)

	policy := numerator.Policy{CustomPrefix: "HQ", PrefixEnabled: true, ResetPeriod: numerator.ResetMonthly}
	require.NoError(t, store.PutPolicy(ctx, tenantID, string(vouchers.FamilyCash), policy))

	got, found, err := store.GetPolicy(ctx, tenantID, string(vouchers.FamilyCash))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, policy, got)

	svc := newService(t, store)
	res := createOn(t, svc, "PMT", day(2024, time.May, 3))
	assert.Equal(t, "HQ/PMT/2425/May/0001", res.Voucher.Number)
}

func TestStore_PendingQueue(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	scope, err := numerator.NewScope(tenantID, "RCT", day(2024, time.September, 9), numerator.ResetQuarterly)
	require.NoError(t, err)

	require.NoError(t, store.Enqueue(ctx, scope, errors.New("first")))
	require.NoError(t, store.Enqueue(ctx, scope, errors.New("second")))

	pending, err := store.ListPending(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, scope.Key(), pending[0].Key)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "second", pending[0].LastError)
	assert.True(t, pending[0].Anchor.Equal(day(2024, time.September, 9)))

	pending, err = store.ListPending(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "entries at max attempts are skipped")

	require.NoError(t, store.Resolve(ctx, scope.Key()))
	pending, err = store.ListPending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

package numbering_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/infrastructure/lock"
	"backoffice/internal/infrastructure/storage/memory"
)

func fixedPolicy(p numerator.Policy) numbering.PolicyLookup {
	return func(context.Context, string, string) (numerator.Policy, error) { return p, nil }
}

func TestReconciler_FixesQueuedScopes(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	late := put(t, store, "SV", day(2024, time.June, 1), "SV/2425/0001")
	early := put(t, store, "SV", day(2024, time.May, 1), "SV/2425/0002")
	jnl := put(t, store, "JNL", day(2024, time.July, 1), "JNL/2425/0001")

	for _, v := range []struct {
		docType string
		date    time.Time
	}{{"SV", early.OccurredOn}, {"JNL", jnl.OccurredOn}} {
		scope, err := numerator.NewScope(tenantID, v.docType, v.date, annual.ResetPeriod)
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(ctx, scope, errors.New("earlier failure")))
	}

	r := numbering.NewReconciler(e, store, fixedPolicy(annual), numbering.ReconcilerConfig{Concurrency: 2})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, numbering.ReconcileStats{Processed: 2, Resolved: 2, Renumbered: 2}, stats)

	assert.Equal(t, "SV/2425/0001", numberOf(t, store, early))
	assert.Equal(t, "SV/2425/0002", numberOf(t, store, late))

	pending, err := store.ListPending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
}

func TestReconciler_FailureBumpsAttempts(t *testing.T) {
	store := memory.New()
	gw := &failingGateway{Gateway: store}
	e := numbering.NewEngine(gw, lock.NewKeyedMutex(), store, testConfig()).WithPendingQueue(store)
	ctx := context.Background()

	put(t, store, "SV", day(2024, time.June, 1), "SV/2425/0001")
	early := put(t, store, "SV", day(2024, time.May, 1), "SV/2425/0002")
	scope, err := numerator.NewScope(tenantID, "SV", early.OccurredOn, annual.ResetPeriod)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, scope, errors.New("earlier failure")))

	r := numbering.NewReconciler(e, store, fixedPolicy(annual), numbering.ReconcilerConfig{MaxAttempts: 2})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	pending, err := store.ListPending(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)

	stats, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed, "entries at the attempt limit are left for an operator")
}

func TestReconciler_PolicyError(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	scope, err := numerator.NewScope(tenantID, "SV", day(2024, time.May, 1), annual.ResetPeriod)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, scope, errors.New("earlier failure")))

	failing := func(context.Context, string, string) (numerator.Policy, error) {
		return numerator.Policy{}, errors.New("settings down")
	}
	r := numbering.NewReconciler(e, store, failing, numbering.ReconcilerConfig{})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	pending, err := store.ListPending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReconciler_DropsEntryOfChangedScope(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	v := put(t, store, "RCT", day(2024, time.May, 3), "RCT/2425/0001")
	scope, err := numerator.NewScope(tenantID, "RCT", v.OccurredOn, annual.ResetPeriod)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, scope, errors.New("earlier failure")))

	r := numbering.NewReconciler(e, store, fixedPolicy(monthly), numbering.ReconcilerConfig{})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)

	pending, err := store.ListPending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

package vouchers_test

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
	"backoffice/internal/infrastructure/storage/memory"
)

const tenantID = "acme"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, policies settings.Provider) (*vouchers.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	cfg := numbering.DefaultConfig()
	cfg.ReindexRetries = 0
	engine := numbering.NewEngine(store, lock.NewKeyedMutex(), store, cfg).
		WithAuditor(store).
		WithPendingQueue(store)
	return vouchers.NewService(store, engine, policies, store), store
}

func createOn(t *testing.T, svc *vouchers.Service, docType string, date time.Time) *vouchers.Result {
	t.Helper()
	v := vouchers.NewVoucher(tenantID, docType, date)
	v.Amount = types.MustMoney("100.50")
	res, err := svc.Create(context.Background(), v)
	require.NoError(t, err)
	return res
}

func TestService_CreateBackdatedRenumbers(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	first := createOn(t, svc, "sv", day(2024, time.May, 10))
	last := createOn(t, svc, "SV", day(2024, time.June, 1))
	assert.Equal(t, "SV/2425/0001", first.Voucher.Number)
	assert.Equal(t, "SV/2425/0002", last.Voucher.Number)
	assert.True(t, last.NumberingConsistent)
	assert.Zero(t, last.Renumbered)

	middle := createOn(t, svc, "SV", day(2024, time.May, 20))
	assert.True(t, middle.NumberingConsistent)
	assert.Nil(t, middle.Warning)
	assert.Equal(t, 2, middle.Renumbered)
	assert.Equal(t, "SV/2425/0002", middle.Voucher.Number)

	got, err := svc.Get(ctx, tenantID, "SV", last.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "SV/2425/0003", got.Number)

	list, err := svc.List(ctx, tenantID, "SV", domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	assert.Equal(t, []string{"SV/2425/0001", "SV/2425/0002", "SV/2425/0003"},
		[]string{list.Items[0].Number, list.Items[1].Number, list.Items[2].Number})
}

func TestService_CreateUnknownType(t *testing.T) {
	svc, _ := newService(t, settings.Static{})

	_, err := svc.Create(context.Background(), vouchers.NewVoucher(tenantID, "XX", day(2024, time.May, 1)))
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newService(t, settings.Static{})

	v := vouchers.NewVoucher(tenantID, "SV", day(2024, time.May, 1))
	v.Amount = types.MustMoney("-1")
	_, err := svc.Create(context.Background(), v)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	v = vouchers.NewVoucher(tenantID, "SV", time.Time{})
	_, err = svc.Create(context.Background(), v)
	assert.True(t, apperror.IsInvalidInput(err))
}

func TestService_UsesFamilyPolicy(t *testing.T) {
	policies := settings.Static{
		string(vouchers.FamilyCash): {CustomPrefix: "BR1", PrefixEnabled: true, ResetPeriod: numerator.ResetMonthly},
	}
	svc, _ := newService(t, policies)

	pmt := createOn(t, svc, "PMT", day(2024, time.May, 3))
	rct := createOn(t, svc, "RCT", day(2024, time.May, 3))
	sv := createOn(t, svc, "SV", day(2024, time.May, 3))

	assert.Equal(t, "BR1/PMT/2425/May/0001", pmt.Voucher.Number)
	assert.Equal(t, "BR1/RCT/2425/May/0001", rct.Voucher.Number)
	assert.Equal(t, "SV/2425/0001", sv.Voucher.Number)
}

func TestService_ExplicitNumberCollisionRegenerates(t *testing.T) {
	svc, _ := newService(t, settings.Static{})

	createOn(t, svc, "JNL", day(2024, time.May, 1))

	v := vouchers.NewVoucher(tenantID, "JNL", day(2024, time.May, 2))
	v.Number = "JNL/2425/0001"
	res, err := svc.Create(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, "JNL/2425/0002", res.Voucher.Number)
}

func TestService_ExplicitNumberUniqueAcrossTypes(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	sv := vouchers.NewVoucher(tenantID, "SV", day(2024, time.May, 1))
	sv.Number = "INV-1"
	first, err := svc.Create(ctx, sv)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", first.Voucher.Number)

	pv := vouchers.NewVoucher(tenantID, "PV", day(2024, time.May, 1))
	pv.Number = "INV-1"
	second, err := svc.Create(ctx, pv)
	require.NoError(t, err)
	assert.Equal(t, "PV/2425/0001", second.Voucher.Number)
}

// racingRepo stores a rival voucher under the same number just before the
// first insert, as a concurrent writer outside the engine would.
type racingRepo struct {
	*memory.Store
	raced bool
}

func (r *racingRepo) Create(ctx context.Context, v *vouchers.Voucher) error {
	if !r.raced {
		r.raced = true
		rival := vouchers.NewVoucher(v.TenantID, v.DocType, v.OccurredOn)
		rival.Number = v.Number
		if err := r.Store.Create(ctx, rival); err != nil {
			return err
		}
	}
	return r.Store.Create(ctx, v)
}

func TestService_CreateRetriesTakenNumber(t *testing.T) {
	store := memory.New()
	cfg := numbering.DefaultConfig()
	cfg.ReindexRetries = 0
	engine := numbering.NewEngine(store, lock.NewKeyedMutex(), store, cfg)
	repo := &racingRepo{Store: store}
	svc := vouchers.NewService(repo, engine, settings.Static{}, nil)

	res, err := svc.Create(context.Background(), vouchers.NewVoucher(tenantID, "SV", day(2024, time.May, 1)))
	require.NoError(t, err)
	assert.True(t, repo.raced)
	assert.Equal(t, "SV/2425/0002", res.Voucher.Number)
	assert.True(t, res.NumberingConsistent)

	list, err := svc.List(context.Background(), tenantID, "SV", domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
}

func TestService_UpdateDateRejectsCrossPeriod(t *testing.T) {
	policies := settings.Static{string(vouchers.FamilySales): {ResetPeriod: numerator.ResetMonthly}}
	svc, _ := newService(t, policies)
	ctx := context.Background()

	created := createOn(t, svc, "SV", day(2024, time.May, 10))

	_, err := svc.UpdateDate(ctx, tenantID, "SV", created.Voucher.ID, day(2024, time.July, 1), 0)
	require.Error(t, err)
	assert.True(t, apperror.IsCrossPeriod(err))

	got, err := svc.Get(ctx, tenantID, "SV", created.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "SV/2425/May/0001", got.Number)
	assert.Equal(t, day(2024, time.May, 10), got.OccurredOn)
}

func TestService_UpdateDateMovesBackward(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	a := createOn(t, svc, "PV", day(2024, time.May, 10))
	b := createOn(t, svc, "PV", day(2024, time.June, 1))

	res, err := svc.UpdateDate(ctx, tenantID, "PV", b.Voucher.ID, day(2024, time.May, 1), b.Voucher.Version)
	require.NoError(t, err)
	assert.True(t, res.NumberingConsistent)
	assert.Equal(t, 2, res.Renumbered)
	assert.Equal(t, "PV/2425/0001", res.Voucher.Number)
	assert.Equal(t, day(2024, time.May, 1), res.Voucher.OccurredOn)

	got, err := svc.Get(ctx, tenantID, "PV", a.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "PV/2425/0002", got.Number)
}

func TestService_UpdateDateMovesForward(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	a := createOn(t, svc, "CN", day(2024, time.May, 1))
	b := createOn(t, svc, "CN", day(2024, time.May, 10))

	res, err := svc.UpdateDate(ctx, tenantID, "CN", a.Voucher.ID, day(2024, time.May, 20), 0)
	require.NoError(t, err)
	assert.Equal(t, "CN/2425/0002", res.Voucher.Number)

	got, err := svc.Get(ctx, tenantID, "CN", b.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "CN/2425/0001", got.Number)
}

func TestService_UpdateDateForwardPastSameDayRecord(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	a := createOn(t, svc, "SV", day(2024, time.May, 7))
	b := createOn(t, svc, "SV", day(2024, time.May, 7))
	require.Equal(t, "SV/2425/0001", a.Voucher.Number)
	require.Equal(t, "SV/2425/0002", b.Voucher.Number)

	res, err := svc.UpdateDate(ctx, tenantID, "SV", a.Voucher.ID, day(2024, time.May, 29), 0)
	require.NoError(t, err)
	assert.True(t, res.NumberingConsistent)
	assert.Equal(t, 2, res.Renumbered)
	assert.Equal(t, "SV/2425/0002", res.Voucher.Number)

	got, err := svc.Get(ctx, tenantID, "SV", b.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "SV/2425/0001", got.Number)
}

func TestService_UpdateDateBackwardOntoSameDay(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	a := createOn(t, svc, "PV", day(2024, time.May, 20))
	b := createOn(t, svc, "PV", day(2024, time.May, 7))
	require.Equal(t, "PV/2425/0001", b.Voucher.Number)

	// a was created first, so it precedes b once both share a date
	res, err := svc.UpdateDate(ctx, tenantID, "PV", a.Voucher.ID, day(2024, time.May, 7), 0)
	require.NoError(t, err)
	assert.True(t, res.NumberingConsistent)
	assert.Equal(t, "PV/2425/0001", res.Voucher.Number)

	got, err := svc.Get(ctx, tenantID, "PV", b.Voucher.ID)
	require.NoError(t, err)
	assert.Equal(t, "PV/2425/0002", got.Number)
}

func TestService_UpdateDateStaleVersion(t *testing.T) {
	svc, _ := newService(t, settings.Static{})

	a := createOn(t, svc, "DN", day(2024, time.May, 1))
	_, err := svc.UpdateDate(context.Background(), tenantID, "DN", a.Voucher.ID, day(2024, time.May, 2), a.Voucher.Version+1)
	assert.True(t, apperror.HasCode(err, apperror.CodeConcurrentModification))
}

func TestService_DeleteLeavesGap(t *testing.T) {
	svc, _ := newService(t, settings.Static{})
	ctx := context.Background()

	createOn(t, svc, "RCT", day(2024, time.May, 1))
	b := createOn(t, svc, "RCT", day(2024, time.May, 2))
	require.NoError(t, svc.Delete(ctx, tenantID, "RCT", b.Voucher.ID))
	require.NoError(t, svc.Delete(ctx, tenantID, "RCT", b.Voucher.ID), "delete is idempotent")

	c := createOn(t, svc, "RCT", day(2024, time.May, 3))
	assert.Equal(t, "RCT/2425/0003", c.Voucher.Number)

	_, err := svc.UpdateDate(ctx, tenantID, "RCT", b.Voucher.ID, day(2024, time.May, 4), 0)
	assert.True(t, apperror.HasCode(err, apperror.CodeDocumentInactive))

	_, err = svc.Get(ctx, tenantID, "RCT", id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_RenumberFullScope(t *testing.T) {
	svc, store := newService(t, settings.Static{})
	ctx := context.Background()

	// out-of-order data written around the service
	late := vouchers.NewVoucher(tenantID, "CTR", day(2024, time.May, 9))
	late.Number = "CTR/2425/0001"
	require.NoError(t, store.Create(ctx, late))
	early := vouchers.NewVoucher(tenantID, "CTR", day(2024, time.May, 1))
	early.Number = "CTR/2425/0002"
	require.NoError(t, store.Create(ctx, early))

	report, err := svc.Renumber(ctx, tenantID, "CTR", day(2024, time.May, 1))
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.Renumbered)

	got, err := svc.Get(ctx, tenantID, "CTR", early.ID)
	require.NoError(t, err)
	assert.Equal(t, "CTR/2425/0001", got.Number)
}

// brokenPolicies fails every lookup.
type brokenPolicies struct{}

func (brokenPolicies) Policy(context.Context, string, string) (numerator.Policy, error) {
	return numerator.Policy{}, errors.New("settings unavailable")
}

func TestService_PolicyErrorFailsCreate(t *testing.T) {
	svc, _ := newService(t, brokenPolicies{})

	_, err := svc.Create(context.Background(), vouchers.NewVoucher(tenantID, "SV", day(2024, time.May, 1)))
	assert.ErrorContains(t, err, "settings unavailable")
}

func TestService_HooksRun(t *testing.T) {
	svc, _ := newService(t, settings.Static{})

	var seen []string
	svc.Hooks().On(domain.BeforeCreate, func(_ context.Context, v *vouchers.Voucher) error {
		v.Narration = "checked"
		return nil
	})
	svc.Hooks().On(domain.AfterCreate, func(_ context.Context, v *vouchers.Voucher) error {
		seen = append(seen, v.Number)
		return nil
	})

	res := createOn(t, svc, "NSCN", day(2024, time.May, 1))
	assert.Equal(t, "checked", res.Voucher.Narration)
	assert.Equal(t, []string{"NSCN/2425/0001"}, seen)
}

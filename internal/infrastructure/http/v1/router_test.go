package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/apperror"
	"backoffice/internal/domain/auth"
	"backoffice/internal/domain/numbering"
	"backoffice/internal/domain/settings"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/cache"
	v1 "backoffice/internal/infrastructure/http/v1"
	"backoffice/internal/infrastructure/http/v1/dto"
	"backoffice/internal/infrastructure/lock"
	"backoffice/internal/infrastructure/storage/memory"
)

const tenantID = "acme"

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testAPI struct {
	router *gin.Engine
	store  *memory.Store
	jwt    *auth.JWTService
}

func newAPI(t *testing.T, withAuth bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	cfg := numbering.DefaultConfig()
	cfg.ReindexRetries = 0
	engine := numbering.NewEngine(store, lock.NewKeyedMutex(), store, cfg).
		WithAuditor(store).
		WithPendingQueue(store)
	policies := settings.NewCachedPolicies(store, time.Minute)

	rc := v1.RouterConfig{
		Vouchers:  vouchers.NewService(store, engine, policies, store),
		Policies:  policies,
		Pending:   store,
		DB:        pinger{},
		Driver:    "memory",
		Version:   "test",
		AdminRole: "admin",

		Idempotency: cache.NewIdempotencyCache(time.Hour),
	}
	api := &testAPI{store: store}
	if withAuth {
		api.jwt = auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
		rc.JWTValidator = api.jwt
	}
	api.router = v1.NewRouter(rc)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func tenant() map[string]string {
	return map[string]string{"X-Tenant-ID": tenantID}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createVoucher(t *testing.T, a *testAPI, docType, date string) dto.VoucherResultResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/vouchers/"+docType,
		map[string]any{"occurredOn": date, "amount": "10.00", "partyName": "Contoso"}, tenant())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.VoucherResultResponse](t, w)
}

func TestHealth(t *testing.T) {
	a := newAPI(t, false)

	w := a.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestVouchers_CreateAndList(t *testing.T) {
	a := newAPI(t, false)

	first := createVoucher(t, a, "sv", "2024-05-10")
	assert.Equal(t, "SV/2425/0001", first.Voucher.Number)
	assert.True(t, first.NumberingConsistent)

	createVoucher(t, a, "SV", "2024-06-01")
	backdated := createVoucher(t, a, "SV", "2024-05-20")
	assert.Equal(t, "SV/2425/0002", backdated.Voucher.Number)
	assert.Equal(t, 2, backdated.Renumbered)

	w := a.do(t, http.MethodGet, "/api/v1/vouchers/SV?limit=10", nil, tenant())
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListResponse[dto.VoucherResponse]](t, w)
	require.Len(t, list.Items, 3)
	assert.Equal(t, int64(3), list.TotalCount)
	assert.Equal(t, "2024-05-20", list.Items[1].OccurredOn)
	assert.Equal(t, "SV/2425/0003", list.Items[2].Number)

	w = a.do(t, http.MethodGet, "/api/v1/vouchers/SV/"+first.Voucher.ID, nil, tenant())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Contoso", decode[dto.VoucherResponse](t, w).PartyName)
}

func TestVouchers_CreateIdempotent(t *testing.T) {
	a := newAPI(t, false)
	headers := map[string]string{"X-Tenant-ID": tenantID, "X-Idempotency-Key": "create-1"}
	body := map[string]any{"occurredOn": "2024-05-10", "amount": "10.00"}

	w := a.do(t, http.MethodPost, "/api/v1/vouchers/SV", body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[dto.VoucherResultResponse](t, w)

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/SV", body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	again := decode[dto.VoucherResultResponse](t, w)
	assert.Equal(t, first.Voucher.ID, again.Voucher.ID)
	assert.Equal(t, "SV/2425/0001", again.Voucher.Number)

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/SV",
		map[string]any{"occurredOn": "2024-05-11", "amount": "10.00"}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, apperror.CodeIdempotencyMismatch, decode[dto.ErrorResponse](t, w).Code)

	w = a.do(t, http.MethodGet, "/api/v1/vouchers/SV", nil, tenant())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dto.ListResponse[dto.VoucherResponse]](t, w).Items, 1)

	// a failed request does not keep its key
	bad := map[string]string{"X-Tenant-ID": tenantID, "X-Idempotency-Key": "create-2"}
	w = a.do(t, http.MethodPost, "/api/v1/vouchers/SV", map[string]any{"occurredOn": "10/05/2024"}, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, http.MethodPost, "/api/v1/vouchers/SV", map[string]any{"occurredOn": "2024-05-12"}, bad)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestVouchers_RequiresTenant(t *testing.T) {
	a := newAPI(t, false)

	w := a.do(t, http.MethodGet, "/api/v1/vouchers/SV", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, decode[dto.ErrorResponse](t, w).Code)
}

func TestVouchers_BadInput(t *testing.T) {
	a := newAPI(t, false)

	w := a.do(t, http.MethodPost, "/api/v1/vouchers/SV", map[string]any{"occurredOn": "10/05/2024"}, tenant())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidInput, decode[dto.ErrorResponse](t, w).Code)

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/XX", map[string]any{"occurredOn": "2024-05-10"}, tenant())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/vouchers/SV/not-a-uuid", nil, tenant())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVouchers_UpdateDateAcrossPeriodRejected(t *testing.T) {
	a := newAPI(t, false)
	created := createVoucher(t, a, "SV", "2025-03-30")

	w := a.do(t, http.MethodPatch, "/api/v1/vouchers/SV/"+created.Voucher.ID+"/date",
		map[string]any{"occurredOn": "2025-04-02", "version": created.Voucher.Version}, tenant())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, apperror.CodeCrossPeriod, decode[dto.ErrorResponse](t, w).Code)

	w = a.do(t, http.MethodPatch, "/api/v1/vouchers/SV/"+created.Voucher.ID+"/date",
		map[string]any{"occurredOn": "2025-03-01", "version": created.Voucher.Version}, tenant())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[dto.VoucherResultResponse](t, w)
	assert.Equal(t, "2025-03-01", res.Voucher.OccurredOn)
	assert.Equal(t, "SV/2425/0001", res.Voucher.Number)
}

func TestVouchers_DeleteAndRenumber(t *testing.T) {
	a := newAPI(t, false)
	first := createVoucher(t, a, "JNL", "2024-07-01")
	createVoucher(t, a, "JNL", "2024-07-02")

	w := a.do(t, http.MethodDelete, "/api/v1/vouchers/JNL/"+first.Voucher.ID, nil, tenant())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/JNL/renumber", map[string]any{"anchor": "2024-07-01"}, tenant())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[dto.RenumberResponse](t, w)
	assert.True(t, report.Consistent)
	assert.Zero(t, report.Renumbered, "a deleted number leaves a gap")
}

func TestSettings_PolicyRoundTrip(t *testing.T) {
	a := newAPI(t, false)

	w := a.do(t, http.MethodGet, "/api/v1/settings/numbering/sales", nil, tenant())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ANNUALLY", decode[dto.NumberingPolicyResponse](t, w).ResetPeriod)

	w = a.do(t, http.MethodPut, "/api/v1/settings/numbering/sales",
		map[string]any{"customPrefix": "HQ", "prefixEnabled": true, "resetPeriod": "monthly"}, tenant())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MONTHLY", decode[dto.NumberingPolicyResponse](t, w).ResetPeriod)

	created := createVoucher(t, a, "SV", "2024-05-10")
	assert.Equal(t, "HQ/SV/2425/May/0001", created.Voucher.Number)

	w = a.do(t, http.MethodPut, "/api/v1/settings/numbering/sales",
		map[string]any{"customPrefix": "A/B", "prefixEnabled": true, "resetPeriod": "NEVER"}, tenant())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/settings/numbering/payroll", nil, tenant())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/numbering/pending", nil, tenant())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]dto.PendingScopeResponse](t, w))
}

func TestAuth_Token(t *testing.T) {
	a := newAPI(t, true)

	w := a.do(t, http.MethodGet, "/api/v1/vouchers/SV", nil, tenant())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := a.jwt.GenerateAccessToken("u-1", tenantID, "", []string{"clerk"})
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/PV", map[string]any{"occurredOn": "2024-05-10"}, bearer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/vouchers/PV",
		nil, map[string]string{"Authorization": "Bearer " + token, "X-Tenant-ID": "other"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/vouchers/PV/renumber", map[string]any{"anchor": "2024-05-10"}, bearer)
	assert.Equal(t, http.StatusForbidden, w.Code, "renumbering needs the admin role")

	admin, _, err := a.jwt.GenerateAccessToken("u-2", tenantID, "", []string{"admin"})
	require.NoError(t, err)
	w = a.do(t, http.MethodPost, "/api/v1/vouchers/PV/renumber", map[string]any{"anchor": "2024-05-10"},
		map[string]string{"Authorization": "Bearer " + admin})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

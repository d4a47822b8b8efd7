package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/config"
	"backoffice/internal/domain/vouchers"
)

func sqliteConfig(t *testing.T) *config.Configuration {
	t.Helper()
	t.Setenv("BACKOFFICE_DATABASE_DRIVER", config.DriverSQLite)
	t.Setenv("BACKOFFICE_SQLITE_PATH", filepath.Join(t.TempDir(), "app.db"))
	cfg, err := config.NewConfig()
	require.NoError(t, err)
	return cfg
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, sqliteConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.DB.Ping(ctx))
	assert.NotNil(t, a.Idempotency)

	res, err := a.Vouchers.Create(ctx, vouchers.NewVoucher("acme", "SV", time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, "SV/2425/0001", res.Voucher.Number)

	policy, err := a.Vouchers.NumberingPolicy(ctx, "acme", "sv")
	require.NoError(t, err)
	assert.Equal(t, "ANNUALLY", string(policy.ResetPeriod))

	stats, err := a.Reconciler(config.WorkerConfig{BatchSize: 10, MaxAttempts: 3, Concurrency: 1}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported database driver")
}

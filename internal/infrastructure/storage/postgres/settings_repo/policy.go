// Package settings_repo stores per-tenant numbering policies in PostgreSQL.
package settings_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/settings"
	"backoffice/internal/infrastructure/storage/postgres"
)

// ChannelPolicyChanged is notified with "tenant|family" after every policy write.
const ChannelPolicyChanged = "numbering_policy_changed"

// Compile-time check that PolicyRepo implements settings.Store.
var _ settings.Store = (*PolicyRepo)(nil)

// PolicyRepo persists policies in sys_numbering_policies.
type PolicyRepo struct {
	txm *postgres.TxManager
}

// NewPolicyRepo creates a policy repository.
func NewPolicyRepo(txm *postgres.TxManager) *PolicyRepo {
	return &PolicyRepo{txm: txm}
}

// GetPolicy implements settings.Store.
func (r *PolicyRepo) GetPolicy(ctx context.Context, tenantID, family string) (numerator.Policy, bool, error) {
	sql, args, err := postgres.Builder().
		Select("custom_prefix", "prefix_enabled", "reset_period").
		From("sys_numbering_policies").
		Where(squirrel.Eq{"tenant_id": tenantID, "family": family}).
		ToSql()
	if err != nil {
		return numerator.Policy{}, false, fmt.Errorf("build get policy: %w", err)
	}

	var p numerator.Policy
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return numerator.Policy{}, false, nil
		}
		return numerator.Policy{}, false, fmt.Errorf("get policy: %w", err)
	}
	return p, true, nil
}

// PutPolicy implements settings.Store. Other processes learn about the change
// through ChannelPolicyChanged once the transaction commits.
func (r *PolicyRepo) PutPolicy(ctx context.Context, tenantID, family string, policy numerator.Policy) error {
	return r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txm.GetQuerier(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO sys_numbering_policies (tenant_id, family, custom_prefix, prefix_enabled, reset_period, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (tenant_id, family) DO UPDATE
			SET custom_prefix = EXCLUDED.custom_prefix,
			    prefix_enabled = EXCLUDED.prefix_enabled,
			    reset_period = EXCLUDED.reset_period,
			    updated_at = NOW()
		`, tenantID, family, policy.CustomPrefix, policy.PrefixEnabled, string(policy.ResetPeriod))
		if err != nil {
			return fmt.Errorf("put policy: %w", err)
		}

		if _, err := q.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelPolicyChanged, tenantID+"|"+family); err != nil {
			return fmt.Errorf("notify policy change: %w", err)
		}
		return nil
	})
}

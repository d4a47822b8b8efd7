package sqlite

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/settings"
)

// Compile-time check that Store implements settings.Store.
var _ settings.Store = (*Store)(nil)

// GetPolicy implements settings.Store.
func (s *Store) GetPolicy(ctx context.Context, tenantID, family string) (numerator.Policy, bool, error) {
	query, args, err := builder().
		Select("custom_prefix", "prefix_enabled", "reset_period").
		From("sys_numbering_policies").
		Where(squirrel.Eq{"tenant_id": tenantID, "family": family}).
		ToSql()
	if err != nil {
		return numerator.Policy{}, false, fmt.Errorf("build get policy: %w", err)
	}

	var (
		p     numerator.Policy
		reset string
	)
	err = s.querier(ctx).QueryRowContext(ctx, query, args...).Scan(&p.CustomPrefix, &p.PrefixEnabled, &reset)
	if isNoRows(err) {
		return numerator.Policy{}, false, nil
	}
	if err != nil {
		return numerator.Policy{}, false, fmt.Errorf("get policy: %w", err)
	}
	p.ResetPeriod = numerator.ResetPeriod(reset)
	return p, true, nil
}

// PutPolicy implements settings.Store.
func (s *Store) PutPolicy(ctx context.Context, tenantID, family string, policy numerator.Policy) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO sys_numbering_policies (tenant_id, family, custom_prefix, prefix_enabled, reset_period, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, family) DO UPDATE
		SET custom_prefix = excluded.custom_prefix,
		    prefix_enabled = excluded.prefix_enabled,
		    reset_period = excluded.reset_period,
		    updated_at = excluded.updated_at
	`, tenantID, family, policy.CustomPrefix, policy.PrefixEnabled, string(policy.ResetPeriod), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

// Package settings provides per-tenant numbering policies.
// Policies are read-only to the numbering engine; they change only through Service.Set.
package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/numerator"
	"backoffice/pkg/logger"
)

// Store persists numbering policies per (tenant, document family).
type Store interface {
	// GetPolicy returns the stored policy and whether one exists.
	GetPolicy(ctx context.Context, tenantID, family string) (numerator.Policy, bool, error)

	// PutPolicy inserts or replaces the policy.
	PutPolicy(ctx context.Context, tenantID, family string, policy numerator.Policy) error
}

// Provider resolves the effective policy of a document family.
type Provider interface {
	Policy(ctx context.Context, tenantID, family string) (numerator.Policy, error)
}

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 5 * time.Minute

// CachedPolicies is a Provider backed by a Store with an in-process TTL cache.
// Tenants without a stored policy get numerator.DefaultPolicy.
type CachedPolicies struct {
	store Store
	cache *cache.Cache
}

// NewCachedPolicies creates a cached provider. ttl <= 0 uses DefaultCacheTTL.
func NewCachedPolicies(store Store, ttl time.Duration) *CachedPolicies {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedPolicies{
		store: store,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(tenantID, family string) string {
	return tenantID + "|" + family
}

// Policy implements Provider.
func (p *CachedPolicies) Policy(ctx context.Context, tenantID, family string) (numerator.Policy, error) {
	key := cacheKey(tenantID, family)
	if v, ok := p.cache.Get(key); ok {
		return v.(numerator.Policy), nil
	}

	policy, found, err := p.store.GetPolicy(ctx, tenantID, family)
	if err != nil {
		return numerator.Policy{}, fmt.Errorf("load numbering policy: %w", err)
	}
	if !found {
		policy = numerator.DefaultPolicy()
	}
	p.cache.SetDefault(key, policy)
	return policy, nil
}

// Set validates and stores a policy, then drops the cached copy.
// A changed reset period only affects numbers allocated afterwards.
func (p *CachedPolicies) Set(ctx context.Context, tenantID, family string, policy numerator.Policy) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(family) == "" {
		return apperror.NewInvalidInput("tenant and family are required")
	}
	if reset, err := numerator.ParseResetPeriod(string(policy.ResetPeriod)); err == nil {
		policy.ResetPeriod = reset
	}
	policy.CustomPrefix = strings.TrimSpace(policy.CustomPrefix)
	if err := policy.Validate(); err != nil {
		return err
	}

	if err := p.store.PutPolicy(ctx, tenantID, family, policy); err != nil {
		return fmt.Errorf("store numbering policy: %w", err)
	}
	p.Invalidate(tenantID, family)

	logger.Info(ctx, "numbering policy updated",
		"tenant_id", tenantID,
		"family", family,
		"reset_period", string(policy.ResetPeriod),
		"prefix", policy.Prefix())
	return nil
}

// Invalidate drops one cached policy. An empty family drops the whole cache.
func (p *CachedPolicies) Invalidate(tenantID, family string) {
	if family == "" {
		p.cache.Flush()
		return
	}
	p.cache.Delete(cacheKey(tenantID, family))
}

// Static is a Provider that returns fixed policies, keyed by family.
// Families without an entry get numerator.DefaultPolicy.
type Static map[string]numerator.Policy

// Policy implements Provider.
func (s Static) Policy(_ context.Context, _ string, family string) (numerator.Policy, error) {
	if p, ok := s[family]; ok {
		return p, nil
	}
	return numerator.DefaultPolicy(), nil
}

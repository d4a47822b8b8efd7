package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"backoffice/internal/core/numerator"
	"backoffice/pkg/logger"
)

// PolicyLookup returns the current policy for a tenant's document type.
type PolicyLookup func(ctx context.Context, tenantID, docType string) (numerator.Policy, error)

// ReconcilerConfig tunes a Reconciler.
type ReconcilerConfig struct {
	// BatchSize bounds the queue entries taken per pass.
	BatchSize int

	// MaxAttempts skips entries that failed this many times; they need an operator.
	MaxAttempts int

	// Concurrency bounds parallel reindexes. Scopes are independent.
	Concurrency int
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	Processed  int
	Resolved   int
	Failed     int
	Renumbered int
}

// Reconciler drains the pending queue by running a full reindex per scope.
type Reconciler struct {
	engine   *Engine
	queue    numerator.PendingQueue
	policies PolicyLookup
	cfg      ReconcilerConfig
}

// NewReconciler creates a reconciler. The engine should report failures to the same queue.
func NewReconciler(engine *Engine, queue numerator.PendingQueue, policies PolicyLookup, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Reconciler{engine: engine, queue: queue, policies: policies, cfg: cfg}
}

type outcome struct {
	resolved   bool
	renumbered int
}

// RunOnce processes one batch of pending scopes.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	entries, err := r.queue.ListPending(ctx, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("list pending scopes: %w", err)
	}
	if len(entries) == 0 {
		return ReconcileStats{}, nil
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(r.cfg.Concurrency)
	for _, entry := range entries {
		p.Go(func() outcome {
			return r.reconcile(ctx, entry)
		})
	}

	stats := ReconcileStats{Processed: len(entries)}
	for _, o := range p.Wait() {
		if o.resolved {
			stats.Resolved++
		} else {
			stats.Failed++
		}
		stats.Renumbered += o.renumbered
	}
	return stats, nil
}

func (r *Reconciler) reconcile(ctx context.Context, entry numerator.PendingScope) outcome {
	policy, err := r.policies(ctx, entry.TenantID, entry.DocType)
	if err != nil {
		logger.Error(ctx, "reconciliation skipped, policy unavailable",
			"scope_key", entry.Key,
			"error", err)
		return outcome{}
	}

	report := r.engine.Reindex(ctx, ReindexRequest{
		TenantID:   entry.TenantID,
		DocType:    entry.DocType,
		OccurredOn: entry.Anchor,
		Policy:     policy,
		Mode:       ModeFull,
	})

	// The policy may have changed since the entry was queued, giving the anchor another scope.
	if report.Scope != "" && report.Scope != entry.Key {
		if err := r.queue.Resolve(ctx, entry.Key); err != nil {
			logger.Warn(ctx, "failed to drop stale reconciliation entry", "scope_key", entry.Key, "error", err)
		}
	}

	if !report.Consistent() {
		logger.Warn(ctx, "reconciliation attempt failed",
			"scope_key", entry.Key,
			"attempts", entry.Attempts+1,
			"error", report.Err)
		return outcome{}
	}

	logger.Info(ctx, "scope reconciled",
		"scope_key", entry.Key,
		"renumbered", report.Renumbered,
		"queued_at_attempt", entry.Attempts)
	return outcome{resolved: true, renumbered: report.Renumbered}
}

// Run calls RunOnce every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := r.RunOnce(ctx)
		switch {
		case err != nil:
			logger.Error(ctx, "reconciliation pass failed", "error", err)
		case stats.Processed > 0:
			logger.Info(ctx, "reconciliation pass finished",
				"processed", stats.Processed,
				"resolved", stats.Resolved,
				"failed", stats.Failed,
				"renumbered", stats.Renumbered)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

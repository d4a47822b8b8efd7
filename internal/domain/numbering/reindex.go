package numbering

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/pkg/logger"
)

// ReindexRequest asks to restore date order in the scope of OccurredOn.
type ReindexRequest struct {
	TenantID   string
	DocType    string
	OccurredOn time.Time
	Policy     numerator.Policy

	// ExcludingID is the document whose insert or update triggered the reindex.
	// It is only reported, never skipped.
	ExcludingID id.ID

	// Since is the earliest date a bounded reindex may move. Zero means OccurredOn.
	// Date updates pass the earlier of the old and the new date.
	Since time.Time

	// Mode overrides the engine default.
	Mode ReindexMode
}

// ReindexReport is the typed outcome of a reindex.
// A failed reindex never fails the document operation that triggered it.
type ReindexReport struct {
	Scope      string `json:"scope"`
	Renumbered int    `json:"renumbered"`

	// Err is nil on success. Otherwise it is an *apperror.AppError:
	// CodeReindexFailed after a rolled back transaction, CodeInvalidInput for bad requests.
	Err error `json:"-"`
}

// Consistent reports whether the scope is known to be in date order.
func (r ReindexReport) Consistent() bool {
	return r.Err == nil
}

// Reindex rewrites the sequence part of the scope's numbers so that ascending
// sequence follows ascending (occurred_on, created_seq).
// All rewrites of one attempt commit together or not at all.
func (e *Engine) Reindex(ctx context.Context, req ReindexRequest) ReindexReport {
	scope, err := resolveScope(req.TenantID, req.DocType, req.OccurredOn, req.Policy)
	if err != nil {
		return ReindexReport{Err: err}
	}
	report := ReindexReport{Scope: scope.Key()}

	mode := req.Mode
	if _, ok := ParseReindexMode(string(mode)); !ok {
		mode = e.cfg.ReindexMode
	}
	var since time.Time
	if mode == ModeBounded {
		since = req.Since
		if since.IsZero() {
			since = req.OccurredOn
		}
		since = numerator.DateOf(since)
	}

	ctx, span := tracer.Start(ctx, "numbering.Reindex", trace.WithAttributes(scopeAttributes(scope)...))
	span.SetAttributes(attribute.String("numbering.reindex_mode", string(mode)))
	defer span.End()

	var touched []id.ID
	attempt := func() error {
		opCtx, cancel := e.withTimeout(ctx)
		defer cancel()

		n, ids, err := e.reindexOnce(opCtx, scope, req.Policy, since)
		if len(ids) > 0 {
			touched = ids
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Warn(ctx, "reindex attempt failed", "scope", scope.Key(), "error", err)
			return err
		}
		report.Renumbered = n
		return nil
	}

	if err := backoff.Retry(attempt, e.retryPolicy(ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reindex failed")
		e.reindexFailed(ctx, req, scope, touched, err)
		report.Err = apperror.NewReindexFailed(scope.Key(), err).
			WithDetail("tenant_id", scope.TenantID).
			WithDetail("doc_type", scope.DocType)
		return report
	}

	span.SetAttributes(attribute.Int("numbering.renumbered", report.Renumbered))
	if report.Renumbered > 0 {
		logger.Info(ctx, "scope renumbered",
			"tenant_id", scope.TenantID,
			"doc_type", scope.DocType,
			"scope", scope.Period.Label(),
			"renumbered", report.Renumbered,
			"mode", string(mode))
	}

	if mode == ModeFull && e.queue != nil {
		if err := e.queue.Resolve(ctx, scope.Key()); err != nil {
			logger.Warn(ctx, "failed to clear reconciliation entry", "scope", scope.Key(), "error", err)
		}
	}
	return report
}

func (e *Engine) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval
	b.MaxInterval = 20 * e.cfg.RetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.ReindexRetries)), ctx)
}

// reindexOnce performs one locked, transactional renumbering.
// It returns the number of changed records and the ids it tried to move.
func (e *Engine) reindexOnce(ctx context.Context, scope numerator.Scope, policy numerator.Policy, since time.Time) (int, []id.ID, error) {
	var (
		changes []numerator.Change
		ids     []id.ID
	)
	err := e.inScope(ctx, scope, func(ctx context.Context) error {
		records, err := e.store.ListActive(ctx, scope, since)
		if err != nil {
			return fmt.Errorf("list scope records: %w", err)
		}

		plan, err := planRenumbering(scope, policy, records)
		if err != nil {
			return err
		}
		ids = lo.Map(plan, func(c numerator.Change, _ int) id.ID { return c.ID })
		if len(plan) == 0 {
			return nil
		}

		// Two passes keep every intermediate state unique: targets may equal
		// numbers still held by other records of the plan.
		for _, c := range plan {
			if err := e.store.SetNumber(ctx, scope.TenantID, scope.DocType, c.ID, numerator.Placeholder(c.ID)); err != nil {
				return fmt.Errorf("move %s to placeholder: %w", c.ID, err)
			}
		}
		for _, c := range plan {
			if err := e.store.SetNumber(ctx, scope.TenantID, scope.DocType, c.ID, c.New); err != nil {
				return fmt.Errorf("assign %s to %s: %w", c.New, c.ID, err)
			}
		}

		if e.auditor != nil {
			if err := e.auditor.RecordRenumbering(ctx, scope, plan); err != nil {
				return fmt.Errorf("record renumbering: %w", err)
			}
		}
		changes = plan
		return nil
	})
	if err != nil {
		return 0, ids, err
	}
	return len(changes), ids, nil
}

type numberedRecord struct {
	numerator.Record
	seq int64
}

// planRenumbering computes the rewrites that put records in date order.
// Targets reuse the records' own sequences, so the set of used values does not
// change: gaps stay gaps and numbers of deleted records are never taken.
// Records whose number is not from the scope's pattern keep it.
func planRenumbering(scope numerator.Scope, policy numerator.Policy, records []numerator.Record) ([]numerator.Change, error) {
	pattern := scope.Pattern(policy)
	items := lo.FilterMap(records, func(r numerator.Record, _ int) (numberedRecord, bool) {
		seq, ok := pattern.Match(r.Number)
		return numberedRecord{Record: r, seq: seq}, ok && r.Active
	})
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Less(items[j].Record)
	})

	seqs := lo.Map(items, func(r numberedRecord, _ int) int64 { return r.seq })
	slices.Sort(seqs)

	var changes []numerator.Change
	for i, r := range items {
		p, err := numerator.Resolve(r.OccurredOn, policy.ResetPeriod)
		if err != nil {
			return nil, fmt.Errorf("resolve period of %s: %w", r.ID, err)
		}
		target := numerator.FormatIn(policy, scope.DocType, p, seqs[i])
		if target != r.Number {
			changes = append(changes, numerator.Change{ID: r.ID, Old: r.Number, New: target})
		}
	}
	return changes, nil
}

// reindexFailed logs the failure and queues the scope for reconciliation.
func (e *Engine) reindexFailed(ctx context.Context, req ReindexRequest, scope numerator.Scope, ids []id.ID, cause error) {
	kv := []any{
		"tenant_id", scope.TenantID,
		"doc_type", scope.DocType,
		"scope", scope.Period.Label(),
		"scope_key", scope.Key(),
		"record_ids", ids,
		"error", cause,
	}
	if !id.IsNil(req.ExcludingID) {
		kv = append(kv, "triggered_by", req.ExcludingID)
	}
	logger.Error(ctx, "numbering reindex failed, scope needs reconciliation", kv...)

	if e.queue == nil {
		return
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OperationTimeout)
	defer cancel()
	if err := e.queue.Enqueue(qctx, scope, cause); err != nil {
		logger.Error(ctx, "failed to queue scope for reconciliation",
			"scope_key", scope.Key(),
			"error", errors.Join(err, cause))
	}
}

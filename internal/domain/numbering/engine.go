// Package numbering implements the document numbering engine: sequence allocation,
// backdated-conflict detection, the period-boundary guard and atomic reindexing.
//
// Every operation takes the tenant explicitly. Allocation and reindexing for one
// scope are serialized by a numerator.ScopeLock and run inside a bounded transaction.
package numbering

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
)

var tracer = otel.Tracer("backoffice/numbering")

// ReindexMode selects which records of a scope a reindex may move.
type ReindexMode string

const (
	// ModeBounded moves only records dated on or after the change that triggered it.
	ModeBounded ReindexMode = "bounded"
	// ModeFull walks the whole scope.
	ModeFull ReindexMode = "full"
)

// ParseReindexMode accepts "bounded" and "full" in any case.
func ParseReindexMode(s string) (ReindexMode, bool) {
	switch m := ReindexMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBounded, ModeFull:
		return m, true
	}
	return "", false
}

// Config tunes the engine.
type Config struct {
	// OperationTimeout bounds one allocation or one reindex attempt.
	OperationTimeout time.Duration

	// ReindexMode is used when a request does not choose one.
	ReindexMode ReindexMode

	// ReindexRetries is the number of retries after a failed reindex attempt.
	ReindexRetries int

	// RetryInterval is the initial backoff between reindex attempts.
	RetryInterval time.Duration

	// AllocateAttempts bounds how many candidate numbers one allocation tries.
	AllocateAttempts int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 10 * time.Second,
		ReindexMode:      ModeBounded,
		ReindexRetries:   2,
		RetryInterval:    50 * time.Millisecond,
		AllocateAttempts: 5,
	}
}

// Engine is the numbering facade consumed by document services.
type Engine struct {
	store     numerator.Gateway
	locks     numerator.ScopeLock
	txManager tx.Manager
	auditor   numerator.Auditor
	queue     numerator.PendingQueue
	cfg       Config
}

// NewEngine creates a numbering engine.
// Zero config fields fall back to DefaultConfig values.
func NewEngine(store numerator.Gateway, locks numerator.ScopeLock, txManager tx.Manager, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if _, ok := ParseReindexMode(string(cfg.ReindexMode)); !ok {
		cfg.ReindexMode = def.ReindexMode
	}
	if cfg.ReindexRetries < 0 {
		cfg.ReindexRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.AllocateAttempts <= 0 {
		cfg.AllocateAttempts = def.AllocateAttempts
	}
	if txManager == nil {
		txManager = tx.NoTx
	}
	return &Engine{
		store:     store,
		locks:     locks,
		txManager: txManager,
		cfg:       cfg,
	}
}

// WithAuditor records every renumbering through a.
func (e *Engine) WithAuditor(a numerator.Auditor) *Engine {
	e.auditor = a
	return e
}

// WithPendingQueue queues scopes whose reindex failed.
func (e *Engine) WithPendingQueue(q numerator.PendingQueue) *Engine {
	e.queue = q
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// inScope runs fn inside a transaction while holding the scope lock.
// The lock is taken inside the transaction, so a database lock shares its
// connection, and an in-process lock is released only after commit.
func (e *Engine) inScope(ctx context.Context, scope numerator.Scope, fn func(ctx context.Context) error) error {
	release := func() {}
	defer func() { release() }()

	return e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := e.locks.Acquire(ctx, scope)
		if err != nil {
			return err
		}
		release = r
		return fn(ctx)
	})
}

// resolveScope validates caller input and derives the numbering scope.
func resolveScope(tenantID, docType string, date time.Time, policy numerator.Policy) (numerator.Scope, error) {
	if strings.TrimSpace(tenantID) == "" {
		return numerator.Scope{}, apperror.NewInvalidInput("tenant id is required").
			WithDetail("field", "tenantId")
	}
	if strings.TrimSpace(docType) == "" {
		return numerator.Scope{}, apperror.NewInvalidInput("document type is required").
			WithDetail("field", "docType")
	}
	if err := policy.Validate(); err != nil {
		return numerator.Scope{}, err
	}
	return numerator.NewScope(tenantID, docType, date, policy.ResetPeriod)
}

func scopeAttributes(scope numerator.Scope) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant.id", scope.TenantID),
		attribute.String("numbering.doc_type", scope.DocType),
		attribute.String("numbering.scope", scope.Period.Label()),
	}
}

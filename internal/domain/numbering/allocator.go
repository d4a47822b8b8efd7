package numbering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/numerator"
	"backoffice/pkg/logger"
)

// MaxNumberLength bounds explicit numbers supplied by callers.
const MaxNumberLength = 64

// AllocateRequest asks for the number of a new document.
type AllocateRequest struct {
	TenantID   string
	DocType    string
	OccurredOn time.Time
	Policy     numerator.Policy

	// Explicit is a caller-chosen number. Empty means generate.
	// An explicit number already used by the tenant, in any voucher type, is
	// silently replaced by a generated one.
	Explicit string
}

// Allocate returns the number for a new document.
// It fails only on invalid input or when storage is unavailable.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (string, error) {
	scope, err := resolveScope(req.TenantID, req.DocType, req.OccurredOn, req.Policy)
	if err != nil {
		return "", err
	}
	explicit, err := normalizeExplicit(req.Explicit)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "numbering.Allocate", trace.WithAttributes(scopeAttributes(scope)...))
	defer span.End()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var number string
	err = e.inScope(ctx, scope, func(ctx context.Context) error {
		var reserved int64
		if explicit != "" {
			free, next, err := e.claimExplicit(ctx, scope, req.Policy, explicit)
			if err != nil {
				return err
			}
			if free {
				number = explicit
				return nil
			}
			reserved = next
			logger.Info(ctx, "explicit document number already in use, generating",
				"tenant_id", scope.TenantID,
				"doc_type", scope.DocType,
				"number", explicit)
		}

		generated, err := e.next(ctx, scope, req.Policy, reserved)
		if err != nil {
			return err
		}
		number = generated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return "", fmt.Errorf("allocate number in scope %s: %w", scope.Key(), err)
	}

	logger.Debug(ctx, "document number allocated",
		"tenant_id", scope.TenantID,
		"doc_type", scope.DocType,
		"number", number)

	return number, nil
}

// claimExplicit reports whether explicit is free for the tenant. Must run under the scope lock.
// An explicit number of the scope's own pattern also moves the counter to its sequence.
// If the counter had already passed that sequence, the number may be handed out and not
// yet stored, so it counts as taken and reserved holds the counter value just drawn.
func (e *Engine) claimExplicit(ctx context.Context, scope numerator.Scope, policy numerator.Policy, explicit string) (free bool, reserved int64, err error) {
	used, err := e.store.NumberExists(ctx, scope.TenantID, scope.DocType, explicit)
	if err != nil {
		return false, 0, fmt.Errorf("check explicit number: %w", err)
	}
	if used {
		return false, 0, nil
	}

	seq, ok := scope.Pattern(policy).Match(explicit)
	if !ok {
		return true, 0, nil
	}
	got, err := e.store.AdvanceCounter(ctx, counterKey(scope, policy), seq-1)
	if err != nil {
		return false, 0, fmt.Errorf("advance counter: %w", err)
	}
	if got == seq {
		return true, 0, nil
	}
	return false, got, nil
}

// next generates a number. Must run under the scope lock.
// A positive reserved sequence, already drawn from the counter, is tried first.
func (e *Engine) next(ctx context.Context, scope numerator.Scope, policy numerator.Policy, reserved int64) (string, error) {
	pattern := scope.Pattern(policy)
	floor, err := e.store.MaxSequence(ctx, scope.TenantID, scope.DocType, pattern)
	if err != nil {
		return "", fmt.Errorf("read max sequence: %w", err)
	}

	key := counterKey(scope, policy)
	for attempt := 0; attempt < e.cfg.AllocateAttempts; attempt++ {
		seq := reserved
		reserved = 0
		if seq <= floor {
			seq, err = e.store.AdvanceCounter(ctx, key, floor)
			if err != nil {
				return "", fmt.Errorf("advance counter: %w", err)
			}
		}

		number := numerator.FormatIn(policy, scope.DocType, scope.Period, seq)
		used, err := e.store.NumberExists(ctx, scope.TenantID, scope.DocType, number)
		if err != nil {
			return "", fmt.Errorf("check generated number: %w", err)
		}
		if !used {
			return number, nil
		}

		// only reachable when numbers were written around the engine
		logger.Warn(ctx, "generated number already in use, skipping",
			"tenant_id", scope.TenantID,
			"number", number)
		floor = seq
	}
	return "", fmt.Errorf("no free number after %d attempts", e.cfg.AllocateAttempts)
}

// counterKey separates counters of the same scope under different prefixes,
// because a prefix change starts a new visible sequence.
func counterKey(scope numerator.Scope, policy numerator.Policy) string {
	key := scope.Key()
	if prefix := policy.Prefix(); prefix != "" {
		key += "|" + prefix
	}
	return key
}

func normalizeExplicit(number string) (string, error) {
	if number == "" {
		return "", nil
	}
	trimmed := strings.TrimSpace(number)
	switch {
	case trimmed == "":
		return "", apperror.NewInvalidInput("explicit number is blank").
			WithDetail("field", "number")
	case len(trimmed) > MaxNumberLength:
		return "", apperror.NewInvalidInput("explicit number is too long").
			WithDetail("field", "number").
			WithDetail("max", MaxNumberLength)
	case strings.Contains(trimmed, numerator.PlaceholderMarker):
		return "", apperror.NewInvalidInput("explicit number uses a reserved marker").
			WithDetail("field", "number")
	}
	return trimmed, nil
}

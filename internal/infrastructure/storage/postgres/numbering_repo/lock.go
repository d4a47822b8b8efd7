package numbering_repo

import (
	"context"
	"errors"
	"fmt"

	"backoffice/internal/core/numerator"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Compile-time check that AdvisoryLocker implements numerator.ScopeLock.
var _ numerator.ScopeLock = (*AdvisoryLocker)(nil)

// errNoTransaction is returned when Acquire is called outside a transaction.
var errNoTransaction = errors.New("scope lock needs a transaction")

// TxSource returns the transaction carried by a context.
// *postgres.TxManager implements it.
type TxSource interface {
	TxQuerier(ctx context.Context) (postgres.Querier, bool)
}

// AdvisoryLocker serializes scopes across processes with transaction advisory
// locks. The lock is held on the caller's transaction connection and is
// released by its commit or rollback, so no extra connection is used.
type AdvisoryLocker struct {
	txs TxSource
}

// NewAdvisoryLocker creates a locker on the transactions of txs.
func NewAdvisoryLocker(txs TxSource) *AdvisoryLocker {
	return &AdvisoryLocker{txs: txs}
}

// Acquire implements numerator.ScopeLock. It blocks in pg_advisory_xact_lock
// until the scope is free; cancelling ctx aborts the wait. The returned release
// is a no-op.
func (l *AdvisoryLocker) Acquire(ctx context.Context, scope numerator.Scope) (func(), error) {
	key := scope.Key()

	q, ok := l.txs.TxQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("lock scope %s: %w", key, errNoTransaction)
	}
	if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return nil, fmt.Errorf("lock scope %s: %w", key, err)
	}
	return func() {}, nil
}

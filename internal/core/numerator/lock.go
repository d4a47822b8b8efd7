package numerator

import "context"

// ScopeLock serializes allocation and reindexing per scope.
// Different scopes must never block each other.
type ScopeLock interface {
	// Acquire blocks until the scope is free or ctx is done. It is called inside
	// the transaction carried by ctx; a lock bound to that transaction may return
	// a no-op release. The release function must be called exactly once.
	Acquire(ctx context.Context, scope Scope) (release func(), err error)
}

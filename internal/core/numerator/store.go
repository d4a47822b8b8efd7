package numerator

import (
	"context"
	"time"

	"backoffice/internal/core/id"
)

// ScopeQuery is the read side of the numbering store.
// Only active records take part in date queries; sequence queries also see inactive ones.
type ScopeQuery interface {
	// MaxSequence returns the highest sequence among active and inactive numbers of the
	// tenant and type that match pattern, or 0.
	MaxSequence(ctx context.Context, tenantID, docType string, pattern Pattern) (int64, error)

	// MaxOccurredOn returns the latest date among active in-scope records, excluding one id.
	MaxOccurredOn(ctx context.Context, scope Scope, excluding id.ID) (time.Time, bool, error)

	// CountLater counts active in-scope records dated strictly after the given date.
	CountLater(ctx context.Context, scope Scope, after time.Time, excluding id.ID) (int, error)

	// NumberExists reports whether any record of the tenant already uses number.
	NumberExists(ctx context.Context, tenantID, docType, number string) (bool, error)
}

// Gateway is the transactional write side used by the allocator and the reindexer.
// Calls made with a context carrying a transaction run inside it.
type Gateway interface {
	ScopeQuery

	// AdvanceCounter moves the high-water mark of the scope key to max(current, floor)+1
	// and returns the new value.
	AdvanceCounter(ctx context.Context, key string, floor int64) (int64, error)

	// ListActive returns active in-scope records dated on or after since (zero = all),
	// ordered by (occurred_on, created_seq).
	ListActive(ctx context.Context, scope Scope, since time.Time) ([]Record, error)

	// SetNumber rewrites the number of one record.
	SetNumber(ctx context.Context, tenantID, docType string, recordID id.ID, number string) error
}

// Change is one number rewrite performed by a reindex.
type Change struct {
	ID  id.ID  `json:"id"`
	Old string `json:"old"`
	New string `json:"new"`
}

// Auditor records renumbering history inside the renumbering transaction.
type Auditor interface {
	RecordRenumbering(ctx context.Context, scope Scope, changes []Change) error
}

// PendingScope is a scope whose last reindex failed and awaits reconciliation.
type PendingScope struct {
	Key       string    `db:"scope_key" json:"scopeKey"`
	TenantID  string    `db:"tenant_id" json:"tenantId"`
	DocType   string    `db:"doc_type" json:"docType"`
	Anchor    time.Time `db:"anchor_date" json:"anchorDate"`
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError string    `db:"last_error" json:"lastError"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// PendingQueue stores scopes that need a retried reindex.
type PendingQueue interface {
	// Enqueue inserts the scope or, when already queued, bumps its attempts.
	Enqueue(ctx context.Context, scope Scope, cause error) error

	// ListPending returns the oldest entries with fewer than maxAttempts attempts.
	ListPending(ctx context.Context, maxAttempts, limit int) ([]PendingScope, error)

	// Resolve removes the entry after a successful full reindex.
	Resolve(ctx context.Context, key string) error
}

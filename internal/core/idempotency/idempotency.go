// Package idempotency defines the contract for replaying responses of requests
// repeated under the same X-Idempotency-Key.
package idempotency

import (
	"context"
	"time"
)

// Status is the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
)

// StaleAfter is how long a pending key may stay unfinished before another
// request with the same key may take it over. A crashed request leaves it behind.
const StaleAfter = time.Minute

// Request identifies one keyed request. Keys are per tenant.
type Request struct {
	TenantID    string
	Key         string
	UserID      string
	Operation   string // method and path, "POST /api/v1/vouchers/SV"
	RequestHash string // hex SHA-256 of the body
}

// Replay is a stored response sent again for a repeated request.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store remembers responses per idempotency key.
type Store interface {
	// AcquireKey claims the key. It returns (nil, nil) when the caller should run
	// the operation, a Replay when it already succeeded, or an AppError when the
	// key is in progress or was used for a different request.
	AcquireKey(ctx context.Context, req Request) (*Replay, error)

	// CompleteKey stores the response of a successful operation.
	CompleteKey(ctx context.Context, req Request, replay Replay) error

	// ReleaseKey forgets a key whose operation failed, so it can be retried.
	ReleaseKey(ctx context.Context, req Request) error

	// CleanupExpired drops keys past their TTL and reports how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}

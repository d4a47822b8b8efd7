package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/idempotency"
)

func keyedRequest(key, hash string) idempotency.Request {
	return idempotency.Request{
		TenantID:    "tenant-1",
		Key:         key,
		Operation:   "POST /api/v1/vouchers/SV",
		RequestHash: hash,
	}
}

func TestIdempotencyCache_ReplaysCompletedKey(t *testing.T) {
	s := NewIdempotencyCache(time.Hour)
	ctx := context.Background()
	req := keyedRequest("k-1", "abc")

	replay, err := s.AcquireKey(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay)

	_, err = s.AcquireKey(ctx, req)
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotency), "still running")

	require.NoError(t, s.CompleteKey(ctx, req, idempotency.Replay{StatusCode: 201, ContentType: "application/json", Body: []byte(`{}`)}))
	replay, err = s.AcquireKey(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.StatusCode)
	assert.Equal(t, []byte(`{}`), replay.Body)

	_, err = s.AcquireKey(ctx, keyedRequest("k-1", "other"))
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotencyMismatch))

	other := req
	other.TenantID = "tenant-2"
	replay, err = s.AcquireKey(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, replay, "keys are per tenant")
}

func TestIdempotencyCache_ReleaseAndStaleKeys(t *testing.T) {
	s := NewIdempotencyCache(time.Hour)
	ctx := context.Background()
	now := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	req := keyedRequest("k-2", "abc")

	_, err := s.AcquireKey(ctx, req)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseKey(ctx, req))

	replay, err := s.AcquireKey(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay, "released key runs again")

	now = now.Add(2 * idempotency.StaleAfter)
	replay, err = s.AcquireKey(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay, "stale pending key is taken over")
}

func TestIdempotencyCache_CleanupExpired(t *testing.T) {
	s := NewIdempotencyCache(time.Millisecond)
	ctx := context.Background()

	_, err := s.AcquireKey(ctx, keyedRequest("k-3", "abc"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter_RejectsBadConfig(t *testing.T) {
	_, err := NewRateLimiter(0, 1.0, 0)
	assert.Error(t, err, "zero capacity must be rejected")

	_, err = NewRateLimiter(10, 0, 0)
	assert.Error(t, err, "zero refill rate must be rejected")

	_, err = NewRateLimiter(10, 1.0, 11)
	assert.Error(t, err, "initial tokens above capacity must be rejected")

	_, err = NewRateLimiter(10, 1.0, -1)
	assert.Error(t, err, "negative initial tokens must be rejected")
}

func TestNewRateLimiter_AllowsWithinCapacity(t *testing.T) {
	lim, err := NewRateLimiter(5, 100.0, 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, WaitN(ctx, lim, 1))
	}
}

func TestNewRateLimiter_StartsDrained(t *testing.T) {
	lim, err := NewRateLimiter(5, 1.0, 0)
	require.NoError(t, err)
	assert.False(t, lim.AllowN(time.Now(), 1), "bucket started at 0 tokens should not allow an immediate draw")
}

func TestNewHostLimiter_RejectsBadConfig(t *testing.T) {
	_, err := NewHostLimiter(0, 1.0)
	assert.Error(t, err, "zero capacity must be rejected")

	_, err = NewHostLimiter(5, 0)
	assert.Error(t, err, "zero refill rate must be rejected")
}

func TestHostLimiter_PerHostBucketsAreIndependent(t *testing.T) {
	h, err := NewHostLimiter(1, 100.0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Draining host-a's single token must not affect host-b's bucket.
	require.NoError(t, h.Wait(ctx, "host-a.example"))
	require.NoError(t, h.Wait(ctx, "host-b.example"))
}

func TestHostLimiter_SameHostReusesBucket(t *testing.T) {
	h, err := NewHostLimiter(1, 0.001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, h.Wait(context.Background(), "host.example"))
	// Second draw on the same host with a near-zero refill rate must
	// block past the short deadline, proving the bucket was reused
	// rather than recreated with a full allowance.
	assert.Error(t, h.Wait(ctx, "host.example"))
}

package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// NewRateLimiter builds a token-bucket limiter for a single acquisition
// strategy (§5 "per-target rate limiting"). capacity is the bucket size,
// refillPerSecond the steady-state refill rate, and initialTokens the
// number of tokens the bucket starts with — typically capacity, but
// callers resuming a run mid-burst may pass less.
func NewRateLimiter(capacity int, refillPerSecond float64, initialTokens int) (*rate.Limiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rate limiter capacity must be > 0, got %d", capacity)
	}
	if refillPerSecond <= 0 {
		return nil, fmt.Errorf("rate limiter refill rate must be > 0, got %f", refillPerSecond)
	}
	if initialTokens < 0 || initialTokens > capacity {
		return nil, fmt.Errorf("initial_tokens %d must be in [0, capacity=%d]", initialTokens, capacity)
	}

	lim := rate.NewLimiter(rate.Limit(refillPerSecond), capacity)
	// rate.NewLimiter starts full; drain down to the requested starting level.
	if drain := capacity - initialTokens; drain > 0 {
		lim.AllowN(time.Now(), drain)
	}
	return lim, nil
}

// WaitN blocks until n tokens are available or ctx is done, consuming
// them on success. It exists so callers don't need to import
// golang.org/x/time/rate directly just to call Limiter.WaitN.
func WaitN(ctx context.Context, lim *rate.Limiter, n int) error {
	return lim.WaitN(ctx, n)
}

// HostLimiter is the process-wide, per-host rate limiter (§4.2 "the
// process-wide rate limiter (C8) governs per-host concurrency", §4.4
// "token-bucket keyed by host"). One bucket is created lazily per host
// on first use and reused for the life of the process; state is
// guarded by a mutex, matching §5's "rate-limit state is process-wide,
// guarded by a mutex".
type HostLimiter struct {
	mu              sync.Mutex
	limiters        map[string]*rate.Limiter
	capacity        int
	refillPerSecond float64
}

// NewHostLimiter builds a HostLimiter whose per-host buckets all share
// capacity and refillPerSecond.
func NewHostLimiter(capacity int, refillPerSecond float64) (*HostLimiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rate limiter capacity must be > 0, got %d", capacity)
	}
	if refillPerSecond <= 0 {
		return nil, fmt.Errorf("rate limiter refill rate must be > 0, got %f", refillPerSecond)
	}
	return &HostLimiter{
		limiters:        make(map[string]*rate.Limiter),
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
	}, nil
}

// Wait blocks until a token is available for host, or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.bucket(host).Wait(ctx)
}

func (h *HostLimiter) bucket(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.refillPerSecond), h.capacity)
		h.limiters[host] = lim
	}
	return lim
}

package vamana

import (
	"context"

	"golang.org/x/time/rate"
)

// QueryThrottle rate-limits Nearest calls served against a single
// DiskGraph's shared mmap handle, generalizing the per-client
// rate.Limiter pattern of pkg/api/rest/middleware/ratelimit.go into a
// single global token bucket scoped to one index instance rather than
// one per caller key. It limits how fast calls start, not how many run
// at once: a finished call does not return its token.
type QueryThrottle struct {
	limiter *rate.Limiter
}

// NewQueryThrottle lets up to burst queries start immediately, then
// admits further queries at ratePerSecond.
func NewQueryThrottle(ratePerSecond float64, burst int) *QueryThrottle {
	return &QueryThrottle{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a query slot is available or ctx is done.
func (t *QueryThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Allow reports whether a query slot is available right now, without
// blocking.
func (t *QueryThrottle) Allow() bool {
	return t.limiter.Allow()
}

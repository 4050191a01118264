package tool

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"codegen-agent/internal/domain"
)

// defaultWriteWait bounds how long a tool waits for a write token.
const defaultWriteWait = 5 * time.Second

// WriteLimiter throttles filesystem mutations made by tools so a runaway
// tool-call chain cannot flood the workspace. A nil *WriteLimiter allows
// everything.
type WriteLimiter struct {
	lim     *rate.Limiter
	maxWait time.Duration
}

// NewWriteLimiter allows perSecond writes on average with the given burst.
// perSecond <= 0 disables limiting and returns nil.
func NewWriteLimiter(perSecond float64, burst int) *WriteLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &WriteLimiter{
		lim:     rate.NewLimiter(rate.Limit(perSecond), burst),
		maxWait: defaultWriteWait,
	}
}

// Acquire blocks until a write is allowed. It fails with ErrRateLimit when
// the wait would exceed the limiter's bound or ctx ends first.
func (w *WriteLimiter) Acquire(ctx context.Context) error {
	if w == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.maxWait)
	defer cancel()
	if err := w.lim.Wait(ctx); err != nil {
		return domain.NewDomainError("WriteLimiter.Acquire", domain.ErrRateLimit, err.Error())
	}
	return nil
}

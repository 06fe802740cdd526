// Package ratelimiter decides whether a listener may take on another
// connection.
//
// Admission combines two limits:
//   - a token bucket bounding the sustained accept rate (with bursts)
//   - a cap on the number of connections held at the same time
//
// A refused connection is answered with a ServerTooBusy fault by the caller.
package ratelimiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Rejection explains a refused admission. The values double as metric
// labels.
type Rejection string

const (
	Admitted       Rejection = ""
	RateLimited    Rejection = "rate_limited"
	MaxConnections Rejection = "max_connections"
)

// Limiter admits connections. The zero value is not usable; use New.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	// limiter holds nil when the accept rate is unlimited.
	limiter atomic.Pointer[rate.Limiter]

	maxConcurrent int32
	inUse         atomic.Int32
}

// New creates a Limiter.
//
// Parameters:
//   - acceptsPerSecond: Sustained accept rate. 0 disables rate limiting.
//   - burst: Bucket capacity. 0 selects acceptsPerSecond.
//   - maxConcurrent: Maximum admitted connections at once. 0 is unlimited.
//
// Example:
//
//	// 100 accepts/s sustained, bursts of 200, at most 1000 live connections
//	limiter := New(100, 200, 1000)
func New(acceptsPerSecond, burst uint, maxConcurrent int) *Limiter {
	l := &Limiter{maxConcurrent: int32(maxConcurrent)}
	if acceptsPerSecond > 0 {
		if burst == 0 {
			burst = acceptsPerSecond
		}
		l.limiter.Store(rate.NewLimiter(rate.Limit(acceptsPerSecond), int(burst)))
	}
	return l
}

// Admit tries to take a slot without waiting. On success the caller must
// call Release once the connection ends.
//
// The concurrency cap is checked first so a refused connection does not
// consume a rate token.
func (l *Limiter) Admit() Rejection {
	if !l.acquire() {
		return MaxConnections
	}
	if lim := l.limiter.Load(); lim != nil && !lim.Allow() {
		l.Release()
		return RateLimited
	}
	return Admitted
}

// Wait blocks until a rate token is available and then takes a slot. Only
// the rate limit waits; a full connection cap is reported immediately.
func (l *Limiter) Wait(ctx context.Context) (Rejection, error) {
	if !l.acquire() {
		return MaxConnections, nil
	}
	if lim := l.limiter.Load(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			l.Release()
			return RateLimited, err
		}
	}
	return Admitted, nil
}

func (l *Limiter) acquire() bool {
	for {
		n := l.inUse.Load()
		if l.maxConcurrent > 0 && n >= l.maxConcurrent {
			return false
		}
		if l.inUse.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release frees a slot taken by Admit or Wait.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
}

// InUse returns the number of admitted connections not yet released.
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}

// SetRate changes the sustained accept rate. 0 disables rate limiting. It
// applies to admissions made after the call.
func (l *Limiter) SetRate(acceptsPerSecond, burst uint) {
	if acceptsPerSecond == 0 {
		l.limiter.Store(nil)
		return
	}
	if burst == 0 {
		burst = acceptsPerSecond
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(acceptsPerSecond), int(burst)))
}

// Tokens returns the current number of rate tokens, or -1 when the rate is
// unlimited. The value is for monitoring only.
func (l *Limiter) Tokens() float64 {
	lim := l.limiter.Load()
	if lim == nil {
		return -1
	}
	return lim.Tokens()
}

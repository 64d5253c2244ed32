// Package retrylimit throttles and retries calls to media hosts and search
// endpoints. The limiter speeds up while calls succeed and backs off when a
// host answers 429 or 5xx.
//
//	lim := retrylimit.NewAdaptiveLimiter(2, 1, 8, 1, 0.5)
//	err := retrylimit.Retry(ctx, lim, 3, func() error {
//	    return download()
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// quietPeriod is how long after a slowdown the rate stays put.
const quietPeriod = 10 * time.Second

// AdaptiveLimiter is a token bucket whose rate moves between a floor and a
// ceiling. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	bucket   *rate.Limiter
	floor    rate.Limit
	ceil     rate.Limit
	step     rate.Limit
	factor   float64
	slowedAt time.Time
}

// NewAdaptiveLimiter starts at initial rps. Each success adds step, each
// slowdown multiplies the rate by factor. A non-positive floor becomes 1.
func NewAdaptiveLimiter(initial, floor, ceil, step rate.Limit, factor float64) *AdaptiveLimiter {
	if floor <= 0 {
		floor = 1
	}
	initial = max(initial, floor)
	ceil = max(ceil, initial)
	return &AdaptiveLimiter{
		bucket: rate.NewLimiter(initial, burstFor(initial)),
		floor:  floor,
		ceil:   ceil,
		step:   step,
		factor: factor,
	}
}

func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.bucket.Wait(ctx)
}

// Success raises the rate unless the host pushed back recently.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.slowedAt) > quietPeriod {
		a.setLocked(a.bucket.Limit() + a.step)
	}
}

// RateLimited lowers the rate.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slowedAt = time.Now()
	a.setLocked(rate.Limit(float64(a.bucket.Limit()) * a.factor))
}

// CurrentLimit returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.bucket.Limit())
}

func (a *AdaptiveLimiter) setLocked(l rate.Limit) {
	l = min(max(l, a.floor), a.ceil)
	if l == a.bucket.Limit() {
		return
	}
	a.bucket.SetLimit(l)
	a.bucket.SetBurst(burstFor(l))
}

func burstFor(l rate.Limit) int {
	return max(1, int(l))
}

// FatalError stops Retry at once.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Fatal marks err as not worth retrying. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// Overloaded reports whether err means the host wants fewer requests:
// a 429 or any 5xx status.
func Overloaded(err error) bool {
	code := statusOf(err)
	return code == http.StatusTooManyRequests || code >= 500 && code < 600
}

// Policy controls the delays between attempts.
type Policy struct {
	Attempts int
	// Backoff is the first delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Throttled is the fixed wait after a 429.
	Throttled time.Duration
	Jitter    bool
}

// DefaultPolicy returns the policy used by Retry.
func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts:   attempts,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Throttled:  time.Second,
		Jitter:     true,
	}
}

// Retry runs fn up to attempts times with DefaultPolicy.
func Retry(ctx context.Context, lim *AdaptiveLimiter, attempts int, fn func() error) error {
	return Do(ctx, lim, DefaultPolicy(attempts), fn)
}

// Do runs fn until it succeeds, returns a FatalError, ctx ends or the
// attempts run out. lim may be nil. The last error is returned wrapped.
func Do(ctx context.Context, lim *AdaptiveLimiter, p Policy, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Backoff

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}

		if err = fn(); err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				log.Debug().Int("attempt", attempt).Msg("Retry succeeded")
			}
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return fatal.Err
		}
		if attempt >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		if lim != nil && Overloaded(err) {
			lim.RateLimited()
		}

		wait := delay
		if statusOf(err) == http.StatusTooManyRequests {
			wait = p.Throttled
		} else {
			delay = min(delay*2, p.MaxBackoff)
		}
		if p.Jitter && wait >= 4 {
			wait += time.Duration(rand.Int64N(int64(wait / 4)))
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("sleep", wait).Msg("Request failed, retrying")
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

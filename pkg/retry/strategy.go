package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/code-payments/apns/pkg/retry/backoff"
)

// Strategy is a function that determines whether or not an action should be
// retried. Strategies are allowed to delay or cause other side effects.
type Strategy func(attempts uint, err error) bool

// Limit returns a strategy that limits the total number of retries.
// maxAttempts should be >= 1, since the action is evaluateed first.
func Limit(maxAttempts uint) Strategy {
	return func(attempts uint, err error) bool {
		return attempts < maxAttempts
	}
}

// RetriableFunc returns a strategy that retries errors for which isRetriable
// returns true.
func RetriableFunc(isRetriable func(err error) bool) Strategy {
	return func(attempts uint, err error) bool {
		return isRetriable(err)
	}
}

// Context returns a strategy that stops retrying once ctx is done. It should be
// specified before any backoff strategy.
func Context(ctx context.Context) Strategy {
	return func(attempts uint, err error) bool {
		return ctx.Err() == nil
	}
}

// BackoffWithJitter returns a strategy that delays the next retry, provided
// the action resulted in an error. The maxBackoff is applied before the
// jitter. The sleep is interrupted when ctx is done, in which case no further
// retries are performed.
//
// The jitter parameter is a percentage of the total delay (after capping) that
// the timing can be off of. For example, a capped delay of 100ms with a jitter
// of 0.1 will result in a delay of 100ms +/- 10ms. A jitter of 0 sleeps for
// exactly the capped delay.
func BackoffWithJitter(ctx context.Context, strategy backoff.Strategy, maxBackoff time.Duration, jitter float64) Strategy {
	return func(attempts uint, err error) bool {
		cappedDelay := time.Duration(math.Min(float64(maxBackoff), float64(strategy(attempts))))

		// Center the jitter around the capped delay:
		//     <------cappedDelay------>
		//      jitter           jitter
		if jitter > 0 {
			cappedDelay = time.Duration(float64(cappedDelay) * (1 + (rand.Float64()*jitter*2 - jitter)))
		}
		return sleeperImpl.Sleep(ctx, cappedDelay)
	}
}

type sleeper interface {
	// Sleep blocks for d, returning false if ctx finished first.
	Sleep(ctx context.Context, d time.Duration) bool
}

// realSleeper uses the time package to perform actual sleeps
type realSleeper struct{}

func (r *realSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var sleeperImpl sleeper = &realSleeper{}

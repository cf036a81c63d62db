package helpdesk

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/maxbolgarin/errm"
)

// Backoff retries provider calls that failed with a retryable error.
// Delay grows exponentially from Base up to Max with random jitter;
// a RetryAfter hint from the provider replaces the computed delay.
type Backoff struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	Base     time.Duration
	Max      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns a backoff with 4 attempts starting from 300ms.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 4,
		Base:     300 * time.Millisecond,
		Max:      5 * time.Second,
	}
}

// Do calls f until it succeeds, returns a non retryable error or attempts are exhausted.
// The last error is returned as is, so callers can inspect its kind. If the next delay
// would pass the context deadline, Do gives up early and returns the last error.
func (b Backoff) Do(ctx context.Context, f func(ctx context.Context) error) error {
	attempts := max(b.Attempts, 1)
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = f(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts-1 {
			return err
		}
		d := b.delay(attempt, err)
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(d).After(deadline) {
			return err
		}
		if serr := sleep(ctx, d); serr != nil {
			return errm.Wrap(serr, "retry interrupted", "last_error", err.Error())
		}
	}

	return err
}

func (b Backoff) delay(attempt int, err error) time.Duration {
	if perr, ok := AsProviderError(err); ok && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}

	d := b.Base << attempt
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	half := d / 2
	if half <= 0 {
		return max(d, 0)
	}
	// Jitter in [d-d/2, d).
	return d - half + rand.N(half)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by CallWithTimeout when the limit elapses before fn
// returns. It also matches context.DeadlineExceeded.
var ErrTimeout = fmt.Errorf("call timed out: %w", context.DeadlineExceeded)

// CallWithTimeout runs fn with a derived context cancelled after timeout and
// returns as soon as either fn finishes or the limit elapses; fn is not
// waited for in the latter case. A non-positive timeout calls fn directly.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%s: %w (limit: %v)", name, ErrTimeout, timeout)
		}
		return r.v, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w (limit: %v)", name, ErrTimeout, timeout)
	}
}

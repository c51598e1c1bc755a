package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds fn by timeout. fn receives a derived context it should
// honour; if it ignores it and overruns the deadline, WithTimeout returns
// anyway and the goroutine running fn is abandoned. A timeout of zero or less
// runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(timeoutCtx) }()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if cause := ctx.Err(); cause != nil {
			return fmt.Errorf("%s cancelled: %w", name, cause)
		}
		return fmt.Errorf("%s exceeded %v: %w", name, timeout, context.DeadlineExceeded)
	}
}

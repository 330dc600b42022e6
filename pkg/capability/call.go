package capability

import (
	"context"
	"time"

	"github.com/sipeed/driveclaw/pkg/logger"
)

const DefaultCallTimeout = 30 * time.Second

// Caller runs capability calls with a per-call timeout and one immediate
// retry for transient failures.
type Caller struct {
	Timeout time.Duration
}

// Do runs fn at most twice. Each attempt gets its own deadline on a context
// detached from the caller's cancellation so an in-flight call can finish
// after the requester goes away; only Timeout bounds it. An attempt that
// outlives its deadline counts as a transient failure even when fn ignores
// ctx; its late result is discarded.
func Do[T any](ctx context.Context, c Caller, op string, fn func(context.Context) (T, error)) (T, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	base := context.WithoutCancel(ctx)

	v, err := attempt(base, timeout, op, fn)
	if err == nil || !IsRetryable(err) {
		return v, err
	}

	logger.WarnCF("capability", "Transient failure, retrying once", map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
	return attempt(base, timeout, op, fn)
}

type result[T any] struct {
	v   T
	err error
}

func attempt[T any](base context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() == context.DeadlineExceeded && !IsNotFound(r.err) {
			return r.v, Transient(op, r.err)
		}
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, Transient(op, callCtx.Err())
	}
}

// Exec is Do for calls without a result value.
func Exec(ctx context.Context, c Caller, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

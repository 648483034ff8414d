package queue

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds how often a call is attempted. A call is tried once and then
// up to Retries more times; each attempt runs under Timeout when set, so a hung
// call fails like any other transient error.
type Policy struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

// Do runs fn until it succeeds or the retry budget is spent. It returns the
// number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if attempt > p.Retries {
			return attempt, err
		}
		slog.Warn("attempt failed, retrying", "call", name, "attempt", attempt, "retries_left", p.Retries-attempt+1, "error", err)
		if waitErr := WaitForContext(ctx, p.Backoff); waitErr != nil {
			return attempt, err
		}
	}
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(callCtx)
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

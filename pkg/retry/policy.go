// Package retry provides the failure taxonomy and the composable retry
// primitives shared by all three recovery tiers of the engine. The tiers
// differ only in their Policy values, never in loop code.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry or poll loop: at most Attempts tries, Delay apart.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default policies for the three tiers. Callers may override via config.
var (
	// MicroPoll bounds a single UI condition wait (tier 1).
	MicroPoll = Policy{Attempts: 20, Delay: 250 * time.Millisecond}

	// ItemRefresh bounds whole-item page-refresh retries (tier 2).
	ItemRefresh = Policy{Attempts: 5, Delay: 2 * time.Second}

	// SessionRestart bounds full session teardown/re-login cycles (tier 3).
	SessionRestart = Policy{Attempts: 2, Delay: 5 * time.Second}
)

// Do runs fn up to p.Attempts times, sleeping p.Delay between attempts.
// It stops early on success, on a terminal error, or when ctx is done.
// The last error is returned when the budget is exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Wrap(ClassTimeout, err, "retry canceled")
		}
		if attempt > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTerminal(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Poll evaluates cond up to p.Attempts times, p.Delay apart, until it
// reports true. A false result after the last attempt yields a timeout
// error; a cond error is returned immediately only when terminal, otherwise
// polling continues.
func Poll(ctx context.Context, p Policy, cond func(ctx context.Context) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Wrap(ClassTimeout, err, "poll canceled")
		}
		if attempt > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		ok, err := cond(ctx)
		if err != nil {
			if IsTerminal(err) {
				return err
			}
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return lastErr
	}
	return Errorf(ClassTimeout, "condition not met after %d attempts", p.Attempts)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Wrap(ClassTimeout, ctx.Err(), "wait canceled")
	case <-timer.C:
		return nil
	}
}

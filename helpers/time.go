package helpers

import (
	"context"
	"time"
)

// IntMillisDefault converts config milliseconds into Duration, 0 means default.
func IntMillisDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// SleepCtx is time.Sleep which returns early with ctx.Err() when ctx is done.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type SleepFunc func(ctx context.Context, d time.Duration) error

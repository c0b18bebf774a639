// Package backoff holds the linear retry delay shared by the download and
// upload phases of a transfer.
package backoff

import (
	"context"
	"time"
)

// MaxDelay caps the delay between attempts.
const MaxDelay = 10 * time.Second

// Delay returns the wait after the given failed attempt (1-based):
// min(10, attempt*2) seconds.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(attempt) * 2 * time.Second
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recorder is a SleepFunc that records requested delays without waiting.
// It is used by tests across the module.
type Recorder struct {
	Delays []time.Duration
}

// Sleep records d and returns immediately.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Delays = append(r.Delays, d)
	return ctx.Err()
}

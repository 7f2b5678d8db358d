// Package poll waits for work done by external processes that can only be
// observed through its side effects.
package poll

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// DefaultInterval is used when Options.Interval is not set.
const DefaultInterval = 10 * time.Second

// Options configures one Await call.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Wake, when non-nil, triggers an early check on every receive.
	Wake <-chan struct{}
	// OnWait is called after each failed check with the time waited so far.
	OnWait func(elapsed time.Duration)
}

// Await checks immediately and then every Interval until check returns true
// or Timeout elapses. The last check happens at the deadline. It returns
// false on timeout or when ctx is done; it never fails otherwise.
func Await(ctx context.Context, check func() bool, opts Options) bool {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	if check() {
		return true
	}
	start := clk.Now()
	deadline := start.Add(opts.Timeout)

	for {
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 || ctx.Err() != nil {
			return false
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := clk.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-opts.Wake:
			timer.Stop()
		case <-timer.Chan():
		}

		if check() {
			return true
		}
		if opts.OnWait != nil {
			opts.OnWait(clk.Now().Sub(start))
		}
	}
}

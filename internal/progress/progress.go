// Package progress draws a spinner while a long phase blocks. It carries no
// data and never affects the outcome of the phase it decorates.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultTick = time.Second

var frames = []string{"|", "/", "-", "\\"}

// Indicator is a running spinner. Stop it before evaluating the result of
// the work it decorates.
type Indicator struct {
	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
}

// Start draws label with a spinner and elapsed time on w once per second.
func Start(ctx context.Context, w io.Writer, label string) *Indicator {
	return StartEvery(ctx, w, label, defaultTick)
}

// StartEvery is Start with a custom redraw interval.
func StartEvery(ctx context.Context, w io.Writer, label string, every time.Duration) *Indicator {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	ind := &Indicator{cancel: cancel, group: g}

	g.Go(func() error {
		started := time.Now()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		drawn := false
		for i := 0; ; i++ {
			select {
			case <-gctx.Done():
				if drawn {
					fmt.Fprintf(w, "\r%s done (%s)\n", label, time.Since(started).Truncate(time.Second))
				}
				return nil
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %s %s", label, frames[i%len(frames)], time.Since(started).Truncate(time.Second))
				drawn = true
			}
		}
	})
	return ind
}

// Stop cancels the spinner and waits for it to finish drawing. Safe to call
// more than once and on a nil Indicator.
func (ind *Indicator) Stop() {
	if ind == nil {
		return
	}
	ind.once.Do(func() {
		ind.cancel()
		_ = ind.group.Wait()
	})
}

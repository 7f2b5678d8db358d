// Package safefs bounds local filesystem calls that can hang forever on a
// dead network mount (staging root, catalog root).
package safefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

var (
	osStat        = os.Stat
	syscallStatfs = syscall.Statfs
)

// ErrTimeout classifies calls that did not return within their budget.
var ErrTimeout = errors.New("filesystem operation timed out")

// TimeoutError names the call that timed out. The kernel call itself keeps
// running; only the wait is abandoned.
type TimeoutError struct {
	Op      string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: no answer after %s (hung mount?)", e.Op, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// bounded runs call in a goroutine and waits at most timeout, clipped to the
// ctx deadline. A non-positive timeout calls through directly.
func bounded[T any](ctx context.Context, op, path string, timeout time.Duration, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if deadline, ok := ctx.Deadline(); ok && timeout > 0 {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return call()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, &TimeoutError{Op: op, Path: path, Timeout: timeout}
	}
}

// Stat is os.Stat with a time budget.
func Stat(ctx context.Context, path string, timeout time.Duration) (fs.FileInfo, error) {
	return bounded(ctx, "stat", path, timeout, func() (fs.FileInfo, error) {
		return osStat(path)
	})
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(ctx context.Context, path string, timeout time.Duration) (uint64, error) {
	return bounded(ctx, "statfs", path, timeout, func() (uint64, error) {
		var st syscall.Statfs_t
		if err := syscallStatfs(path, &st); err != nil {
			return 0, err
		}
		return st.Bavail * uint64(st.Bsize), nil
	})
}

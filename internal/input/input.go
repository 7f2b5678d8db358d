package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInputAborted signals that interactive input was interrupted (Ctrl+C,
// context cancellation or stdin closure).
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether an operation was aborted by the operator.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes common stdin errors (EOF/closed fd) into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "use of closed file") ||
		strings.Contains(errStr, "bad file descriptor") ||
		strings.Contains(errStr, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// readWithContext runs read in a goroutine so a blocked terminal read never
// outlives ctx. The goroutine itself is left to finish when stdin unblocks.
func readWithContext[T any](ctx context.Context, read func() (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := read()
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, context.DeadlineExceeded
		}
		return zero, ErrInputAborted
	case res := <-ch:
		return res.v, res.err
	}
}

// ReadLineWithContext reads a single line (newline included). A final line
// without a trailing newline is returned as is; a bare EOF is ErrInputAborted.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	return readWithContext(ctx, func() (string, error) {
		line, err := reader.ReadString('\n')
		if err != nil && errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return line, MapInputError(err)
	})
}

// ReadPasswordWithContext reads a secret (no echo) and supports cancellation.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	return readWithContext(ctx, func() ([]byte, error) {
		b, err := readPassword(fd)
		return b, MapInputError(err)
	})
}

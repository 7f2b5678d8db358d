// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tis24dev/hostmigrate/internal/command"
)

// Response is the canned result of one command.
type Response struct {
	Output string
	Err    error
	// Hook runs before the response is returned, e.g. to create files the
	// real command would have produced.
	Hook func()
}

// Call records one invocation.
type Call struct {
	Key string
	Env []string
}

// Runner answers commands from a map keyed by command.Key. Unknown commands
// fail unless Default is set.
type Runner struct {
	mu        sync.Mutex
	Responses map[string]Response
	Default   *Response
	Calls     []Call
}

// New returns an empty fake runner.
func New() *Runner {
	return &Runner{Responses: make(map[string]Response)}
}

// On registers the response for name+args.
func (r *Runner) On(resp Response, name string, args ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses[command.Key(name, args...)] = resp
	return r
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.RunWithEnv(ctx, nil, name, args...)
}

func (r *Runner) RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	key := command.Key(name, args...)
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Key: key, Env: append([]string(nil), env...)})
	resp, ok := r.Responses[key]
	if !ok && r.Default != nil {
		resp, ok = *r.Default, true
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unexpected command: %s", key)
	}
	if resp.Hook != nil {
		resp.Hook()
	}
	return []byte(resp.Output), resp.Err
}

// Keys returns the recorded command keys in call order.
func (r *Runner) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		keys[i] = c.Key
	}
	return keys
}

// ExitError mimics a process that ran and exited with Code.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode makes ExitError recognizable by command.ExitCode.
func (e ExitError) ExitCode() int { return e.Code }

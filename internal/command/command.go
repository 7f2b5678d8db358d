// Package command runs local processes behind an interface so the pipeline
// can be exercised without the real engine, rsync or ssh binaries.
package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Runner executes local commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunWithEnv appends env to the inherited environment for this call only.
	RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// OSRunner runs commands with os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (OSRunner) RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// ExitCode extracts the process exit status from err (anything with an
// ExitCode method, *exec.ExitError included), or -1 when the process never
// ran. A nil err is exit code 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// Key joins name and args the way fakes index their responses.
func Key(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

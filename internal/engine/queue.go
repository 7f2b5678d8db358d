package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/tis24dev/hostmigrate/internal/command"
	"github.com/tis24dev/hostmigrate/internal/logging"
)

// Queue is the engine's append-only task file.
type Queue struct {
	Path string
}

// Append writes t as one line. The file is created with 0600 if absent.
func (q Queue) Append(t Task) error {
	if strings.ContainsAny(string(t), "\r\n") {
		return fmt.Errorf("task contains a line break")
	}
	f, err := os.OpenFile(q.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open task queue %s: %w", q.Path, err)
	}
	if _, err := f.WriteString(string(t) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append to task queue %s: %w", q.Path, err)
	}
	return f.Close()
}

// EngineFailure is reported when the trigger exits non-zero or prints one of
// the failure patterns.
type EngineFailure struct {
	ExitCode int
	Pattern  string
	Output   string
}

func (e *EngineFailure) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("engine reported failure (matched %q, exit %d)", e.Pattern, e.ExitCode)
	}
	return fmt.Sprintf("engine trigger exited with code %d", e.ExitCode)
}

// DetectFailure inspects trigger output case-insensitively. A zero exit code
// does not clear a matched pattern.
func DetectFailure(output string, exitCode int, patterns []string) *EngineFailure {
	lower := strings.ToLower(output)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return &EngineFailure{ExitCode: exitCode, Pattern: p, Output: output}
		}
	}
	if exitCode != 0 {
		return &EngineFailure{ExitCode: exitCode, Output: output}
	}
	return nil
}

// Trigger runs the engine's queue processor.
type Trigger struct {
	argv     []string
	runner   command.Runner
	patterns []string
	logger   *logging.Logger
}

// NewTrigger parses cmdline with shell quoting rules.
func NewTrigger(cmdline string, runner command.Runner, patterns []string, logger *logging.Logger) (*Trigger, error) {
	argv, err := shellquote.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse trigger %q: %w", cmdline, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty trigger command")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Trigger{argv: argv, runner: runner, patterns: patterns, logger: logger}, nil
}

// Run executes the trigger. It returns the output and an *EngineFailure
// when the run is judged failed. A process that cannot be started at all is
// returned as a plain error.
func (t *Trigger) Run(ctx context.Context) (string, error) {
	done := logging.DebugStart(t.logger, "engine trigger", "%s", shellquote.Join(t.argv...))
	out, err := t.runner.Run(ctx, t.argv[0], t.argv[1:]...)
	output := string(out)

	code := command.ExitCode(err)
	if code < 0 {
		err = fmt.Errorf("run trigger: %w", err)
		done(err)
		return output, err
	}
	if failure := DetectFailure(output, code, t.patterns); failure != nil {
		done(failure)
		return output, failure
	}
	done(nil)
	return output, nil
}

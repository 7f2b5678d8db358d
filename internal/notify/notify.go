// Package notify reports the outcome of a migration run to an HTTP webhook.
package notify

import (
	"context"
	"time"

	"github.com/tis24dev/hostmigrate/internal/types"
)

// Status is the overall outcome of a run.
type Status int

const (
	StatusSuccess Status = iota
	StatusWarning
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusFromExitCode maps the process exit code, downgrading a clean exit
// to a warning when the run logged warnings.
func StatusFromExitCode(exitCode, warnings int) Status {
	switch {
	case exitCode != types.ExitSuccess.Int():
		return StatusFailure
	case warnings > 0:
		return StatusWarning
	default:
		return StatusSuccess
	}
}

// RunSummary is what a notification says about a run.
type RunSummary struct {
	RunID       string
	Version     string
	Hostname    string
	Destination string

	Status      Status
	ExitCode    int
	FailedPhase string
	Error       string

	Started  time.Time
	Duration time.Duration

	Accounts         []string
	Migrated         int
	BytesTransferred int64
	Warnings         int
	Errors           int
}

// Notifier delivers a run summary.
type Notifier interface {
	Send(ctx context.Context, s *RunSummary) error
}

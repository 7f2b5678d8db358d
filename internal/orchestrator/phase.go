package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tis24dev/hostmigrate/internal/input"
	"github.com/tis24dev/hostmigrate/internal/types"
)

// Phase is a state of the migration pipeline. Phases run strictly in
// declaration order; any failure moves the run to PhaseFailed.
type Phase int

const (
	PhasePreflight Phase = iota
	PhaseHandshake
	PhaseSelection
	PhaseBackup
	PhaseTransfer
	PhaseRestore
	PhasePostRestoreSync
	PhaseCleanup
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhasePreflight:       "preflight",
	PhaseHandshake:       "destination-handshake",
	PhaseSelection:       "account-selection",
	PhaseBackup:          "backup",
	PhaseTransfer:        "transfer",
	PhaseRestore:         "restore",
	PhasePostRestoreSync: "post-restore-sync",
	PhaseCleanup:         "cleanup",
	PhaseDone:            "done",
	PhaseFailed:          "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// PhaseError represents a pipeline failure with its phase and exit code.
type PhaseError struct {
	Phase   Phase
	Account string
	Err     error
	Code    types.ExitCode
}

func (e *PhaseError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s phase failed for %s: %v", e.Phase, e.Account, e.Err)
	}
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErr(phase Phase, code types.ExitCode, err error) *PhaseError {
	if input.IsAborted(err) {
		code = types.ExitInterrupted
	}
	return &PhaseError{Phase: phase, Err: err, Code: code}
}

func accountErr(phase Phase, account string, code types.ExitCode, err error) *PhaseError {
	pe := phaseErr(phase, code, err)
	pe.Account = account
	return pe
}

// ExitCodeOf maps a Run error to the process exit code.
func ExitCodeOf(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if input.IsAborted(err) {
		return types.ExitInterrupted
	}
	return types.ExitGenericError
}

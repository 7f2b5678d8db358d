// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Migration completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitPreconditionError - Missing tool, unwritable path or empty selection.
	ExitPreconditionError ExitCode = 3

	// ExitConnectivityError - Destination handshake, warm-up or destination path failure.
	ExitConnectivityError ExitCode = 4

	// ExitEngineError - The backup engine reported a failure.
	ExitEngineError ExitCode = 5

	// ExitTransferError - A tree sync to the destination failed.
	ExitTransferError ExitCode = 6

	// ExitTimeoutError - A bounded wait expired.
	ExitTimeoutError ExitCode = 7

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitInterrupted - Terminated by SIGINT/SIGTERM.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitPreconditionError:
		return "precondition error"
	case ExitConnectivityError:
		return "connectivity error"
	case ExitEngineError:
		return "engine error"
	case ExitTransferError:
		return "transfer error"
	case ExitTimeoutError:
		return "timeout error"
	case ExitPanicError:
		return "panic error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}

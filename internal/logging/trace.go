package logging

import (
	"fmt"
	"time"
)

// DebugStart logs a debug start line and returns a function that logs the end
// status with duration. The end is also recorded as an "operation" event.
func DebugStart(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	detail := ""
	if format != "" {
		detail = fmt.Sprintf(format, args...)
	}
	if detail != "" {
		logger.Debug("Start %s: %s", operation, detail)
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started)
		fields := map[string]interface{}{
			"operation":   operation,
			"duration_ms": elapsed.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.Record("operation", fields)
			logger.Debug("End %s (error=%v, duration=%s)", operation, err, elapsed)
			return
		}
		logger.Record("operation", fields)
		logger.Debug("End %s (ok, duration=%s)", operation, elapsed)
	}
}

// DebugStep logs a debug progress line for an operation.
func DebugStep(logger *Logger, operation string, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	if operation == "" {
		logger.Debug("%s", message)
		return
	}
	logger.Debug("%s: %s", operation, message)
}

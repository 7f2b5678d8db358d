package types

import (
	"strings"
)

// CompressionType is the suffix the backup engine appends after ".tar.".
type CompressionType string

const (
	// CompressionZstd - zstd compression
	CompressionZstd CompressionType = "zst"

	// CompressionGzip - gzip compression
	CompressionGzip CompressionType = "gz"

	// CompressionBzip2 - bzip2 compression
	CompressionBzip2 CompressionType = "bz2"

	// CompressionXZ - xz compression (LZMA)
	CompressionXZ CompressionType = "xz"
)

// ArtifactCompressions lists the suffixes accepted for backup artifacts, in lookup order.
var ArtifactCompressions = []CompressionType{
	CompressionZstd,
	CompressionGzip,
	CompressionBzip2,
	CompressionXZ,
}

// String returns the string representation of the compression type.
func (c CompressionType) String() string {
	return string(c)
}

// ParseCompression maps an artifact suffix to a known compression type.
func ParseCompression(suffix string) (CompressionType, bool) {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	for _, c := range ArtifactCompressions {
		if string(c) == suffix {
			return c, true
		}
	}
	return "", false
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel accepts names (debug, info, warning, error, critical, none) or the numeric form.
func ParseLogLevel(value string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug", "5", "advanced", "extreme":
		return LogLevelDebug, true
	case "info", "4", "standard":
		return LogLevelInfo, true
	case "warning", "warn", "3":
		return LogLevelWarning, true
	case "error", "2":
		return LogLevelError, true
	case "critical", "1":
		return LogLevelCritical, true
	case "none", "0":
		return LogLevelNone, true
	default:
		return LogLevelInfo, false
	}
}

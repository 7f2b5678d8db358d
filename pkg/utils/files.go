package utils

import (
	"os"
)

// FileExists reports whether path names a regular file or symlink to one.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

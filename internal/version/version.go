// Package version reports the build version of hostmigrate.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Populated at build time, e.g.
//
//	-X github.com/tis24dev/hostmigrate/internal/version.Version=v0.3.0
//	-X github.com/tis24dev/hostmigrate/internal/version.Commit=abcdef1
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the injected version, else the main module version from the
// build info, else a development placeholder. A leading "v" is stripped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = devVersion
	}
	return strings.TrimPrefix(v, "v")
}

// Full is the multi-line banner printed by `hostmigrate version`.
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hostmigrate %s\n", String())
	if c := strings.TrimSpace(Commit); c != "" {
		fmt.Fprintf(&b, "  commit: %s\n", c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		fmt.Fprintf(&b, "  built:  %s\n", d)
	}
	fmt.Fprintf(&b, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return b.String()
}

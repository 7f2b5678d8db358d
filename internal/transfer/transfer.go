// Package transfer mirrors directory trees with rsync, locally or to a
// destination reached over ssh with password authentication.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"

	"github.com/tis24dev/hostmigrate/internal/command"
	"github.com/tis24dev/hostmigrate/internal/logging"
)

// ErrTransferFailed wraps every rsync failure.
var ErrTransferFailed = errors.New("transfer failed")

// Target is the destination of a sync. An empty Host syncs locally.
type Target struct {
	Host string
	Port int
	User string
}

// Local reports whether the target is the local filesystem.
func (t Target) Local() bool {
	return t.Host == ""
}

// Options is the fixed transport profile of a run.
type Options struct {
	ConnectTimeout  time.Duration
	ConnectAttempts int
	// IOTimeout aborts a transfer that sees no data for this long.
	IOTimeout  time.Duration
	ExtraFlags []string
}

// SecretSource lends the credential for the duration of fn.
type SecretSource interface {
	WithSecret(fn func(secret []byte) error) error
}

// Result summarizes one sync from rsync --stats.
type Result struct {
	Files            int64
	FilesTransferred int64
	TransferredBytes int64
	TotalBytes       int64
	Skipped          bool
	Duration         time.Duration
}

// Engine runs rsync. The zero value is not usable; set Runner.
type Engine struct {
	Runner  command.Runner
	Target  Target
	Options Options
	Secret  SecretSource
	Logger  *logging.Logger
}

// SyncTree copies the contents of local into remote. Content is archived
// without owner or group, compared by checksum, and resumed from partial
// files. With mirror set, destination entries missing from local are
// deleted. A missing local directory is skipped, not failed.
func (e *Engine) SyncTree(ctx context.Context, local, remote string, mirror bool) (Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	info, err := os.Stat(local)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Skip("%s does not exist, nothing to transfer", local)
			return Result{Skipped: true}, nil
		}
		return Result{}, fmt.Errorf("%w: stat %s: %v", ErrTransferFailed, local, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", ErrTransferFailed, local)
	}

	args := e.Args(local, remote, mirror)
	done := logging.DebugStart(logger, "rsync", "%s -> %s (mirror=%v)", local, e.destination(remote), mirror)
	started := time.Now()

	var out []byte
	if e.Target.Local() {
		out, err = e.Runner.Run(ctx, "rsync", args...)
	} else {
		if e.Secret == nil {
			err = errors.New("no credential for remote transfer")
		} else {
			err = e.Secret.WithSecret(func(secret []byte) error {
				var runErr error
				out, runErr = e.Runner.RunWithEnv(ctx, []string{"SSHPASS=" + string(secret)}, "sshpass", append([]string{"-e", "rsync"}, args...)...)
				return runErr
			})
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %s -> %s: %v: %s", ErrTransferFailed, local, e.destination(remote), err, tail(string(out), 5))
		done(err)
		return Result{}, err
	}

	result := ParseStats(string(out))
	result.Duration = time.Since(started)
	logger.Record("transfer", map[string]interface{}{
		"source":            local,
		"destination":       e.destination(remote),
		"mirror":            mirror,
		"files":             result.Files,
		"files_transferred": result.FilesTransferred,
		"bytes_transferred": result.TransferredBytes,
		"bytes_total":       result.TotalBytes,
	})
	logger.Info("Synced %s: %d files, %s of %s transferred", local, result.FilesTransferred,
		humanize.IBytes(uint64(result.TransferredBytes)), humanize.IBytes(uint64(result.TotalBytes)))
	done(nil)
	return result, nil
}

// Args returns the rsync argument list (without the program name).
func (e *Engine) Args(local, remote string, mirror bool) []string {
	args := []string{
		"-a", "--no-owner", "--no-group",
		"--checksum",
		"--partial", "--partial-dir=.rsync-partial", "--delay-updates",
		"--stats", "--no-human-readable",
	}
	if e.Options.IOTimeout > 0 {
		args = append(args, "--timeout="+strconv.Itoa(int(e.Options.IOTimeout/time.Second)))
	}
	if mirror {
		args = append(args, "--delete", "--delete-after")
	}
	args = append(args, e.Options.ExtraFlags...)
	if !e.Target.Local() {
		args = append(args, "-e", e.sshCommand())
	}
	return append(args, withSlash(local), e.destination(remote))
}

func (e *Engine) sshCommand() string {
	port := e.Target.Port
	if port == 0 {
		port = 22
	}
	argv := []string{"ssh", "-p", strconv.Itoa(port)}
	if e.Options.ConnectTimeout > 0 {
		argv = append(argv, "-o", "ConnectTimeout="+strconv.Itoa(int(e.Options.ConnectTimeout/time.Second)))
	}
	if e.Options.ConnectAttempts > 0 {
		argv = append(argv, "-o", "ConnectionAttempts="+strconv.Itoa(e.Options.ConnectAttempts))
	}
	argv = append(argv,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
	)
	return shellquote.Join(argv...)
}

func (e *Engine) destination(remote string) string {
	if e.Target.Local() {
		return withSlash(remote)
	}
	host := e.Target.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if e.Target.User != "" {
		host = e.Target.User + "@" + host
	}
	return host + ":" + withSlash(remote)
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

var (
	statFiles       = regexp.MustCompile(`(?m)^Number of files:\s*([\d,]+)`)
	statTransferred = regexp.MustCompile(`(?m)^Number of (?:regular )?files transferred:\s*([\d,]+)`)
	statTotalSize   = regexp.MustCompile(`(?m)^Total file size:\s*([\d,]+)`)
	statSentSize    = regexp.MustCompile(`(?m)^Total transferred file size:\s*([\d,]+)`)
)

// ParseStats extracts the counters of rsync --stats. Missing lines are zero.
func ParseStats(out string) Result {
	return Result{
		Files:            statInt(statFiles, out),
		FilesTransferred: statInt(statTransferred, out),
		TotalBytes:       statInt(statTotalSize, out),
		TransferredBytes: statInt(statSentSize, out),
	}
}

func statInt(re *regexp.Regexp, out string) int64 {
	m := re.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

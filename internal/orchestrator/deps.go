package orchestrator

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/juju/clock"

	"github.com/tis24dev/hostmigrate/internal/catalog"
	"github.com/tis24dev/hostmigrate/internal/checks"
	"github.com/tis24dev/hostmigrate/internal/command"
	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/input"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/metrics"
	"github.com/tis24dev/hostmigrate/internal/notify"
	"github.com/tis24dev/hostmigrate/internal/remote"
)

// FS abstracts the local filesystem operations of the pipeline.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Chown(path string, uid, gid int) error
}

// Prompter encapsulates interactive prompts. *input.Prompter implements it.
type Prompter interface {
	AskRequired(ctx context.Context, label, def string) (string, error)
	AskPort(ctx context.Context, label string, def int) (int, error)
	Confirm(ctx context.Context, label string, def bool) (bool, error)
	Secret(ctx context.Context, label string) (*memguard.LockedBuffer, error)
}

// Preflight runs local checks and owns the run lock.
type Preflight interface {
	RunAllChecks(ctx context.Context) ([]checks.CheckResult, error)
	ReleaseLock() error
}

// TimeProvider abstracts time acquisition for determinism in tests.
type TimeProvider interface {
	Now() time.Time
}

// GatewayFactory opens the remote gateway for a resolved session.
type GatewayFactory func(session *remote.Session) remote.Gateway

// Deps groups the orchestrator dependencies. Zero fields get production
// defaults in New.
type Deps struct {
	Logger   *logging.Logger
	Config   *config.Config
	DryRun   bool
	Version  string
	Hostname string

	FS        FS
	CatalogFS fs.FS
	Time      TimeProvider
	Clock     clock.Clock
	Command   command.Runner
	Prompter  Prompter
	Checker   Preflight
	Gateway   GatewayFactory
	Metrics   *metrics.PrometheusExporter
	Notifier  notify.Notifier

	// In and Out carry the selection dialogue and progress output.
	In  *bufio.Reader
	Out io.Writer
}

type osFS struct{}

func (osFS) Stat(path string) (os.FileInfo, error)        { return os.Stat(path) }
func (osFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) Remove(path string) error                     { return os.Remove(path) }
func (osFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (osFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (osFS) Chown(path string, uid, gid int) error { return os.Chown(path, uid, gid) }

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

func defaultDeps(deps Deps) Deps {
	if deps.Logger == nil {
		deps.Logger = logging.GetDefaultLogger()
	}
	if deps.Config == nil {
		deps.Config, _ = config.LoadConfig("")
	}
	if deps.FS == nil {
		deps.FS = osFS{}
	}
	if deps.CatalogFS == nil {
		deps.CatalogFS = os.DirFS(deps.Config.CatalogRoot)
	}
	if deps.Time == nil {
		deps.Time = realTimeProvider{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Command == nil {
		deps.Command = command.OSRunner{}
	}
	var prompter *input.Prompter
	if deps.Prompter == nil || deps.In == nil || deps.Out == nil {
		prompter = input.NewPrompter()
	}
	if deps.Prompter == nil {
		deps.Prompter = prompter
	}
	if deps.In == nil {
		deps.In = prompter.Reader
	}
	if deps.Out == nil {
		deps.Out = prompter.Out
	}
	if deps.Checker == nil {
		deps.Checker = checks.NewChecker(deps.Logger, CheckerConfig(deps.Config, deps.DryRun))
	}
	if deps.Gateway == nil {
		logger, runner := deps.Logger, deps.Command
		deps.Gateway = func(s *remote.Session) remote.Gateway {
			return remote.NewSSHGateway(s, runner, logger)
		}
	}
	if deps.Metrics == nil && deps.Config.MetricsEnabled {
		deps.Metrics = metrics.NewPrometheusExporter(deps.Config.MetricsPath, deps.Logger)
	}
	if deps.Notifier == nil && deps.Config.WebhookURL != "" {
		n, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     deps.Config.WebhookURL,
			Format:  deps.Config.WebhookFormat,
			Token:   deps.Config.WebhookToken,
			Secret:  deps.Config.WebhookSecret,
			Retries: deps.Config.WebhookRetries,
		}, deps.Logger)
		if err != nil {
			deps.Logger.Warning("Run notification disabled: %v", err)
		} else {
			deps.Notifier = n
		}
	}
	if deps.Hostname == "" {
		deps.Hostname, _ = os.Hostname()
	}
	return deps
}

// CatalogLayout maps the catalog settings of cfg.
func CatalogLayout(cfg *config.Config) catalog.Layout {
	return catalog.Layout{
		AccountFile:      cfg.CatalogAccountFile,
		DomainKey:        cfg.CatalogDomainKey,
		DomainFallback:   cfg.CatalogDomainFallback,
		ResellerMarker:   cfg.ResellerMarker,
		ResellerListFile: cfg.ResellerListFile,
	}
}

// RequiredTools are the local binaries a migration cannot run without.
var RequiredTools = []string{"rsync", "sshpass", "ssh"}

// CheckerConfig derives the preflight configuration from cfg.
func CheckerConfig(cfg *config.Config, dryRun bool) *checks.CheckerConfig {
	return &checks.CheckerConfig{
		StagingRoot:    cfg.StagingRoot,
		LogPath:        cfg.LogPath,
		LockDirPath:    cfg.LockPath,
		MaxLockAge:     24 * time.Hour,
		MinDiskSpaceGB: cfg.MinDiskSpaceGB,
		CatalogRoot:    cfg.CatalogRoot,
		QueueFile:      cfg.EngineQueueFile,
		Trigger:        cfg.EngineTrigger,
		RequiredTools:  RequiredTools,
		DryRun:         dryRun,
	}
}

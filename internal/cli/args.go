// Package cli builds the hostmigrate command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"

	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/types"
	"github.com/tis24dev/hostmigrate/internal/version"
)

const (
	configSourceDefault = "default path"
	configSourceFlag    = "specified via --config/-c flag"
)

// ErrUsage marks command-line mistakes; they exit with the config error code.
var ErrUsage = errors.New("invalid usage")

// Args holds the parsed command line.
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	LogLevelSet      bool
	NoColor          bool
	DryRun           bool

	// Destination pre-fills; zero values leave the configured default.
	DestHost  string
	DestPort  int
	DestUser  string
	DestPath  string
	RestoreIP string

	logLevelFlag string
}

// Handlers are the actions behind the commands. A nil handler makes its
// command fail with ErrUsage.
type Handlers struct {
	Migrate  func(ctx context.Context, args *Args) error
	Accounts func(ctx context.Context, args *Args) error
	Check    func(ctx context.Context, args *Args) error
}

// NewRootCommand returns the root command and the Args it fills in.
func NewRootCommand(h Handlers) (*cobra.Command, *Args) {
	args := &Args{}

	root := &cobra.Command{
		Use:   "hostmigrate",
		Short: "Migrate hosting accounts to another server",
		Long: "hostmigrate backs up the selected accounts with the control panel's engine,\n" +
			"ships the archives to the destination over rsync, restores them there and\n" +
			"then mirrors each account's website and mail trees.",
		Example: "  hostmigrate -c /etc/hostmigrate/migrate.env\n" +
			"  hostmigrate --dry-run --log-level debug\n" +
			"  hostmigrate --dest-host 203.0.113.7 --restore-ip 203.0.113.7",
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return args.finish(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd.Context(), h.Migrate, args)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&args.ConfigPath, "config", "c", config.DefaultConfigPath, "Path to the configuration file")
	pf.StringVarP(&args.logLevelFlag, "log-level", "l", "", "Log level (debug|info|warning|error|critical|none)")
	pf.BoolVar(&args.NoColor, "no-color", false, "Disable colored console output")

	f := root.Flags()
	f.BoolVarP(&args.DryRun, "dry-run", "n", false, "Stop after account selection and print the backup task")
	f.StringVar(&args.DestHost, "dest-host", "", "Pre-fill the destination host prompt")
	f.IntVar(&args.DestPort, "dest-port", 0, "Pre-fill the destination SSH port prompt")
	f.StringVar(&args.DestUser, "dest-user", "", "Pre-fill the destination user prompt")
	f.StringVar(&args.DestPath, "dest-path", "", "Pre-fill the destination backup path prompt")
	f.StringVar(&args.RestoreIP, "restore-ip", "", "Pre-fill the restore IP prompt")

	root.AddCommand(
		&cobra.Command{
			Use:   "accounts",
			Short: "Print the selectable account list and exit",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return call(cmd.Context(), h.Accounts, args)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Run the local preflight checks without taking the lock",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return call(cmd.Context(), h.Check, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  noArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				printVersion(cmd.OutOrStdout())
			},
		},
	)
	return root, args
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func call(ctx context.Context, fn func(context.Context, *Args) error, args *Args) error {
	if fn == nil {
		return fmt.Errorf("%w: command not available", ErrUsage)
	}
	return fn(ctx, args)
}

// finish validates the flag values once cobra has parsed them.
func (a *Args) finish(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		a.ConfigPathSource = configSourceFlag
	} else {
		a.ConfigPathSource = configSourceDefault
	}

	if a.logLevelFlag != "" {
		level, ok := types.ParseLogLevel(a.logLevelFlag)
		if !ok {
			return fmt.Errorf("%w: unknown log level %q", ErrUsage, a.logLevelFlag)
		}
		a.LogLevel = level
		a.LogLevelSet = true
	}

	if a.DestPort != 0 && (a.DestPort < 1 || a.DestPort > 65535) {
		return fmt.Errorf("%w: --dest-port out of range: %d", ErrUsage, a.DestPort)
	}
	if a.RestoreIP != "" && net.ParseIP(a.RestoreIP) == nil {
		return fmt.Errorf("%w: --restore-ip is not an IP address: %q", ErrUsage, a.RestoreIP)
	}
	return nil
}

// Apply overlays the command-line values on cfg.
func (a *Args) Apply(cfg *config.Config) {
	if a.LogLevelSet {
		cfg.DebugLevel = a.LogLevel
	}
	if a.NoColor {
		cfg.UseColor = false
	}
	if a.DestHost != "" {
		cfg.DestHost = a.DestHost
	}
	if a.DestPort != 0 {
		cfg.DestPort = a.DestPort
	}
	if a.DestUser != "" {
		cfg.DestUser = a.DestUser
	}
	if a.DestPath != "" {
		cfg.DestBackupPath = a.DestPath
	}
	if a.RestoreIP != "" {
		cfg.RestoreIP = a.RestoreIP
	}
}

func printVersion(w io.Writer) {
	fmt.Fprint(w, version.Full())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/tis24dev/hostmigrate/internal/catalog"
	"github.com/tis24dev/hostmigrate/internal/checks"
	"github.com/tis24dev/hostmigrate/internal/cli"
	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/orchestrator"
	"github.com/tis24dev/hostmigrate/internal/selection"
	"github.com/tis24dev/hostmigrate/internal/types"
	"github.com/tis24dev/hostmigrate/internal/version"
)

var errConfig = errors.New("configuration error")

var closeStdinOnce sync.Once

func main() {
	os.Exit(run())
}

func run() (code int) {
	bootstrap := logging.New(types.LogLevelInfo, true)
	bootstrap.SetOutput(os.Stderr)

	// Destroys every locked buffer still alive, whatever path we leave by.
	defer memguard.Purge()

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			code = types.ExitPanicError.Int()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		bootstrap.Warning("\nReceived signal %v, stopping after the current step...", sig)
		cancel()
		// Unblocks a pending prompt read.
		closeStdinOnce.Do(func() {
			_ = os.Stdin.Close()
		})
	}()

	root, _ := cli.NewRootCommand(cli.Handlers{
		Migrate:  runMigration,
		Accounts: runAccounts,
		Check:    runCheck,
	})
	err := root.ExecuteContext(ctx)
	if err == nil {
		return types.ExitSuccess.Int()
	}

	switch {
	case errors.Is(err, cli.ErrUsage):
		bootstrap.Error("%v", err)
		bootstrap.Info("Run 'hostmigrate --help' for usage.")
		return types.ExitConfigError.Int()
	case errors.Is(err, errConfig):
		bootstrap.Error("%v", err)
		return types.ExitConfigError.Int()
	}

	exit := orchestrator.ExitCodeOf(err)
	var pe *orchestrator.PhaseError
	if !errors.As(err, &pe) {
		// Migration failures were already reported by the run summary.
		bootstrap.Error("%v", err)
	}
	return exit.Int()
}

func loadConfig(args *cli.Args) (*config.Config, error) {
	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (config %s)", errConfig, err, args.ConfigPathSource)
	}
	args.Apply(cfg)
	return cfg, nil
}

func consoleLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(cfg.DebugLevel, cfg.UseColor)
	logging.SetDefaultLogger(logger)
	return logger
}

func runMigration(ctx context.Context, args *cli.Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger, logPath, closeLog, err := logging.StartRunLog(cfg.LogPath, "migration", runID, cfg.DebugLevel, cfg.UseColor)
	if err != nil {
		logger = consoleLogger(cfg)
		logger.Warning("Run log not available, console only: %v", err)
	} else {
		defer closeLog()
		logging.SetDefaultLogger(logger)
	}

	logger.Info("hostmigrate %s (run %s)", version.String(), runID)
	logger.Debug("Configuration: %s (%s)", cfg.ConfigPath, args.ConfigPathSource)
	if logPath != "" {
		logger.Info("Run log: %s", logPath)
	}
	if args.DryRun {
		logger.Info("Dry run: the pipeline stops after account selection")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Logger:  logger,
		Config:  cfg,
		DryRun:  args.DryRun,
		Version: version.String(),
	})
	orch.SetRunID(runID)
	return orch.Run(ctx)
}

func runAccounts(_ context.Context, args *cli.Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg)

	cat, err := catalog.Load(os.DirFS(cfg.CatalogRoot), orchestrator.CatalogLayout(cfg), logger)
	if err != nil {
		return &orchestrator.PhaseError{Phase: orchestrator.PhaseSelection, Err: err, Code: types.ExitPreconditionError}
	}
	selection.Render(os.Stdout, selection.BuildDisplayList(cat))
	fmt.Fprintf(os.Stdout, "\n%d accounts, %d resellers\n", cat.Len(), len(cat.Resellers()))
	return nil
}

func runCheck(ctx context.Context, args *cli.Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg)

	// Dry-run mode: the lock is inspected but never taken.
	checker := checks.NewChecker(logger, orchestrator.CheckerConfig(cfg, true))
	results, err := checker.RunAllChecks(ctx)
	for _, r := range results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
		}
		fmt.Fprintf(os.Stdout, "%s %-12s %s\n", mark, r.Name, r.Message)
	}
	if err != nil {
		return &orchestrator.PhaseError{Phase: orchestrator.PhasePreflight, Err: err, Code: types.ExitPreconditionError}
	}
	fmt.Fprintln(os.Stdout, "All preflight checks passed")
	return nil
}

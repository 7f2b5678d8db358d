package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tis24dev/hostmigrate/internal/catalog"
	"github.com/tis24dev/hostmigrate/internal/command"
	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/engine"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/metrics"
	"github.com/tis24dev/hostmigrate/internal/notify"
	"github.com/tis24dev/hostmigrate/internal/ownership"
	"github.com/tis24dev/hostmigrate/internal/poll"
	"github.com/tis24dev/hostmigrate/internal/progress"
	"github.com/tis24dev/hostmigrate/internal/remote"
	"github.com/tis24dev/hostmigrate/internal/selection"
	"github.com/tis24dev/hostmigrate/internal/transfer"
	"github.com/tis24dev/hostmigrate/internal/types"
)

// errDryRunStop ends a dry run after selection without failing it.
var errDryRunStop = errors.New("dry run stop")

// ErrDeclined is returned when the operator does not confirm the migration.
var ErrDeclined = errors.New("migration not confirmed")

// Orchestrator runs the migration pipeline.
type Orchestrator struct {
	logger    *logging.Logger
	cfg       *config.Config
	dryRun    bool
	version   string
	hostname  string
	fs        FS
	catalogFS fs.FS
	clock     TimeProvider
	pollClock clock.Clock
	cmdRunner command.Runner
	prompter  Prompter
	checker   Preflight
	gateway   GatewayFactory
	metrics   *metrics.PrometheusExporter
	notifier  notify.Notifier
	in        *bufio.Reader
	out       io.Writer

	runID    string
	lockHeld bool
	last     *RunContext
}

// New creates a new Orchestrator
func New(deps Deps) *Orchestrator {
	deps = defaultDeps(deps)
	return &Orchestrator{
		logger:    deps.Logger,
		cfg:       deps.Config,
		dryRun:    deps.DryRun,
		version:   deps.Version,
		hostname:  deps.Hostname,
		fs:        deps.FS,
		catalogFS: deps.CatalogFS,
		clock:     deps.Time,
		pollClock: deps.Clock,
		cmdRunner: deps.Command,
		prompter:  deps.Prompter,
		checker:   deps.Checker,
		gateway:   deps.Gateway,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		in:        deps.In,
		out:       deps.Out,
	}
}

// SetRunID fixes the run id, e.g. to match the run log opened by the caller.
func (o *Orchestrator) SetRunID(id string) {
	o.runID = id
}

// LastRun returns the context of the most recent Run, or nil.
func (o *Orchestrator) LastRun() *RunContext {
	return o.last
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now()
}

type step struct {
	phase Phase
	title string
	run   func(context.Context, *RunContext) error
}

// Run executes the pipeline once. The returned error is a *PhaseError
// carrying the exit code. Whatever happens, the credential is scrubbed and
// the run report and metrics are written before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	runID := o.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	rc := newRunContext(runID, o.now())
	o.last = rc
	defer func() {
		if r := recover(); r != nil {
			err = &PhaseError{Phase: rc.Phase, Err: fmt.Errorf("panic: %v", r), Code: types.ExitPanicError}
			o.finish(rc, err)
			panic(r)
		}
		o.finish(rc, err)
	}()

	steps := []step{
		{PhasePreflight, "Preflight checks", o.preflight},
		{PhaseHandshake, "Destination handshake", o.handshake},
		{PhaseSelection, "Account selection", o.selectAccounts},
		{PhaseBackup, "Backup", o.backup},
		{PhaseTransfer, "Transfer to destination", o.transferArtifacts},
		{PhaseRestore, "Restore", o.restore},
		{PhasePostRestoreSync, "Post-restore sync", o.postRestoreSync},
		{PhaseCleanup, "Cleanup", o.cleanup},
	}

	for i, s := range steps {
		rc.Phase = s.phase
		if ctxErr := ctx.Err(); ctxErr != nil {
			return phaseErr(s.phase, types.ExitInterrupted, ctxErr)
		}
		o.logger.Phase("[%d/%d] %s", i+1, len(steps), s.title)
		o.logger.Record("phase", map[string]interface{}{"phase": s.phase.String(), "state": "start"})

		started := o.now()
		stepErr := s.run(ctx, rc)
		rc.PhaseDurations[s.phase] += o.now().Sub(started)

		if errors.Is(stepErr, errDryRunStop) {
			o.logger.Info("Dry run: stopping after %s", s.phase)
			return nil
		}
		if stepErr != nil {
			var pe *PhaseError
			if !errors.As(stepErr, &pe) {
				stepErr = phaseErr(s.phase, types.ExitGenericError, stepErr)
			}
			return stepErr
		}
		o.logger.Record("phase", map[string]interface{}{
			"phase":       s.phase.String(),
			"state":       "done",
			"duration_ms": rc.PhaseDurations[s.phase].Milliseconds(),
		})
	}
	rc.Phase = PhaseDone
	return nil
}

// finish runs on every exit path.
func (o *Orchestrator) finish(rc *RunContext, err error) {
	rc.EndTime = o.now()
	rc.Err = err

	rc.Session.Scrub()
	if rc.Gateway != nil {
		if cerr := rc.Gateway.Close(); cerr != nil {
			o.logger.Debug("Closing remote gateway: %v", cerr)
		}
	}
	if o.lockHeld {
		if lerr := o.checker.ReleaseLock(); lerr != nil {
			o.logger.Warning("%v", lerr)
		}
		o.lockHeld = false
	}

	code := ExitCodeOf(err)
	if err != nil {
		o.logger.Record("phase", map[string]interface{}{
			"phase": rc.Phase.String(),
			"state": PhaseFailed.String(),
			"error": err.Error(),
			"code":  int(code),
		})
		if rc.StagingDir != "" && (rc.StagingCreated || rc.BackupReused) {
			o.logger.Error("Staging directory kept for inspection: %s", rc.StagingDir)
		}
	}

	if o.cfg.ReportEnabled && !o.dryRun {
		if path, rerr := o.writeReport(rc, code); rerr != nil {
			o.logger.Warning("Run report not written: %v", rerr)
		} else if path != "" {
			o.logger.Info("Run report: %s", path)
		}
	}
	if o.metrics != nil && !o.dryRun {
		if merr := o.metrics.Export(o.runMetrics(rc, code)); merr != nil {
			o.logger.Warning("Metrics not exported: %v", merr)
		}
	}

	if o.notifier != nil && !o.dryRun {
		o.notify(rc, code)
	}

	warnings, errs := o.logger.Counts()
	if err != nil {
		o.logger.Critical("Migration failed (%s, exit code %d): %v", code, int(code), err)
		return
	}
	if o.dryRun {
		o.logger.Info("Dry run finished in %s", rc.EndTime.Sub(rc.StartTime).Round(time.Second))
		return
	}
	o.logger.Info("Migration completed: %d/%d accounts migrated, %s transferred in %s (%d warnings, %d errors)",
		rc.Migrated(), len(rc.SelectedIDs()), humanize.IBytes(uint64(rc.BytesTransferred)),
		rc.EndTime.Sub(rc.StartTime).Round(time.Second), warnings, errs)
}

// notifyTimeout bounds the webhook call; the run context may already be cancelled.
const notifyTimeout = 2 * time.Minute

func (o *Orchestrator) notify(rc *RunContext, code types.ExitCode) {
	m := o.runMetrics(rc, code)
	summary := &notify.RunSummary{
		RunID:            rc.RunID,
		Version:          o.version,
		Hostname:         o.hostname,
		Destination:      m.Destination,
		Status:           notify.StatusFromExitCode(int(code), m.WarningCount),
		ExitCode:         int(code),
		FailedPhase:      m.FailedPhase,
		Started:          rc.StartTime,
		Duration:         rc.EndTime.Sub(rc.StartTime),
		Accounts:         rc.SelectedIDs(),
		Migrated:         rc.Migrated(),
		BytesTransferred: rc.BytesTransferred,
		Warnings:         m.WarningCount,
		Errors:           m.ErrorCount,
	}
	if rc.Err != nil {
		summary.Error = rc.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := o.notifier.Send(ctx, summary); err != nil {
		o.logger.Warning("Run notification not delivered: %v", err)
		return
	}
	o.logger.Debug("Run notification delivered (%s)", summary.Status)
}

func (o *Orchestrator) preflight(ctx context.Context, rc *RunContext) error {
	results, err := o.checker.RunAllChecks(ctx)
	for _, result := range results {
		if result.Passed {
			o.logger.Info("✓ %s: %s", result.Name, result.Message)
		} else {
			o.logger.Error("✗ %s: %s", result.Name, result.Message)
		}
	}
	if err != nil {
		return phaseErr(PhasePreflight, types.ExitPreconditionError, fmt.Errorf("preflight checks failed: %w", err))
	}
	o.lockHeld = true
	return nil
}

func (o *Orchestrator) handshake(ctx context.Context, rc *RunContext) error {
	if o.dryRun {
		o.logger.Skip("Dry run: destination handshake skipped")
		return nil
	}
	fail := func(code types.ExitCode, err error) error {
		return phaseErr(PhaseHandshake, code, err)
	}

	host, err := o.prompter.AskRequired(ctx, "Destination host", o.cfg.DestHost)
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}
	port, err := o.prompter.AskPort(ctx, "Destination SSH port", o.cfg.DestPort)
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}
	userName, err := o.prompter.AskRequired(ctx, "Destination user", o.cfg.DestUser)
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}
	backupPath, err := o.prompter.AskRequired(ctx, "Destination backup path", o.cfg.DestBackupPath)
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}
	restoreIP, err := o.prompter.AskRequired(ctx, "Restore IP on destination", o.cfg.RestoreIP)
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}
	if net.ParseIP(restoreIP) == nil {
		return fail(types.ExitPreconditionError, fmt.Errorf("invalid restore IP %q", restoreIP))
	}
	secret, err := o.prompter.Secret(ctx, fmt.Sprintf("Password for %s@%s", userName, host))
	if err != nil {
		return fail(types.ExitPreconditionError, err)
	}

	dest := remote.Destination{Host: host, Port: port, User: userName}
	rc.Session = remote.NewSession(dest, remote.Profile{
		ConnectTimeout:  o.cfg.SSHConnectTimeout,
		ConnectAttempts: o.cfg.SSHConnectAttempts,
		IOTimeout:       o.cfg.RsyncIOTimeout,
		RsyncFlags:      o.cfg.RsyncFlags,
	}, secret)
	rc.DestBackupPath = backupPath
	rc.RestoreIP = restoreIP
	rc.Gateway = o.gateway(rc.Session)

	if err := rc.Gateway.WarmUp(ctx); err != nil {
		return fail(types.ExitConnectivityError, err)
	}
	o.logger.Info("Connected to %s", dest)

	if _, err := rc.Gateway.Run(ctx, remote.Command("mkdir", "-p", backupPath)); err != nil {
		return fail(types.ExitConnectivityError, fmt.Errorf("create %s on destination: %w", backupPath, err))
	}
	if err := rc.Gateway.Writable(ctx, backupPath); err != nil {
		return fail(types.ExitConnectivityError, err)
	}
	o.logger.Info("Destination backup path %s is writable", backupPath)
	return nil
}

func (o *Orchestrator) selectAccounts(ctx context.Context, rc *RunContext) error {
	cat, err := catalog.Load(o.catalogFS, CatalogLayout(o.cfg), o.logger)
	if err != nil {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, err)
	}
	if cat.Len() == 0 {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, fmt.Errorf("no valid accounts under %s", o.cfg.CatalogRoot))
	}
	o.logger.Info("Catalog: %d accounts, %d resellers", cat.Len(), len(cat.Resellers()))

	list := selection.BuildDisplayList(cat)
	selection.Render(o.out, list)
	resolver := &selection.Resolver{Catalog: cat, Logger: o.logger}
	set, err := resolver.Resolve(ctx, list, o.in, o.out)
	if err != nil {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, err)
	}
	if set.Len() == 0 {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, selection.ErrEmptySelection)
	}
	set.Freeze()
	rc.Catalog = cat
	rc.Selection = set

	ids := set.IDs()
	for _, id := range ids {
		acct, _ := cat.Account(id)
		rc.Accounts = append(rc.Accounts, &AccountResult{Account: id, Domain: acct.Domain})
	}
	o.logger.Info("Selected %d accounts: %s", len(ids), strings.Join(ids, ", "))
	o.logger.Record("selection", map[string]interface{}{"accounts": ids})

	rc.StagingDir = o.stagingDir(rc)
	rc.BackupTask = o.backupTask(rc.StagingDir, ids)

	if o.dryRun {
		fmt.Fprintf(o.out, "\nBackup task for %s:\n%s\n", rc.StagingDir, rc.BackupTask)
		if params, perr := engine.ParseTask(rc.BackupTask); perr == nil {
			for _, kv := range params {
				fmt.Fprintf(o.out, "  %-22s %s\n", kv[0], kv[1])
			}
		}
		return errDryRunStop
	}

	ok, err := o.prompter.Confirm(ctx, fmt.Sprintf("Migrate %d accounts to %s? Destination-only files under %s and the heavy data directories are deleted",
		len(ids), rc.Session.Destination.Host, rc.DestBackupPath), true)
	if err != nil {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, err)
	}
	if !ok {
		return phaseErr(PhaseSelection, types.ExitPreconditionError, ErrDeclined)
	}
	return nil
}

func (o *Orchestrator) stagingDir(rc *RunContext) string {
	if o.cfg.ResumeStagingDir != "" {
		return o.cfg.ResumeStagingDir
	}
	return filepath.Join(o.cfg.StagingRoot, "migration-"+rc.StartTime.Format("20060102-150405"))
}

func (o *Orchestrator) backupTask(dir string, ids []string) engine.Task {
	return engine.EncodeBackup(ids, engine.BackupOptions{
		Options:   o.cfg.BackupOptions,
		LocalPath: dir,
		Owner:     o.cfg.EngineOwner,
	})
}

func (o *Orchestrator) backup(ctx context.Context, rc *RunContext) error {
	dir := rc.StagingDir
	ids := rc.SelectedIDs()
	pending := ids

	if o.cfg.ResumeStagingDir != "" {
		info, err := o.fs.Stat(dir)
		if err != nil || !info.IsDir() {
			return phaseErr(PhaseBackup, types.ExitPreconditionError, fmt.Errorf("resume staging directory %s is not usable: %v", dir, err))
		}
		found, err := engine.ResolveArtifacts(os.DirFS(dir), ids)
		if err == nil {
			rc.Artifacts = found
			rc.BackupReused = true
			o.logger.Skip("All %d artifacts already present in %s, backup not re-issued", len(found), dir)
			return o.probeArtifacts(rc)
		}
		pending = nil
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				pending = append(pending, id)
			}
		}
		o.logger.Info("Resuming in %s: %d of %d artifacts present", dir, len(found), len(ids))
		rc.BackupReused = true
		rc.BackupTask = o.backupTask(dir, pending)
	} else {
		if err := o.fs.MkdirAll(dir, 0o755); err != nil {
			return phaseErr(PhaseBackup, types.ExitPreconditionError, fmt.Errorf("create staging directory: %w", err))
		}
		rc.StagingCreated = true
		o.chownToOwner(dir)
	}
	o.logger.Info("Staging directory: %s", dir)

	queue := engine.Queue{Path: o.cfg.EngineQueueFile}
	if err := queue.Append(rc.BackupTask); err != nil {
		return phaseErr(PhaseBackup, types.ExitEngineError, err)
	}
	o.logger.Record("task", map[string]interface{}{"action": "backup", "queue": queue.Path, "accounts": pending})

	trigger, err := engine.NewTrigger(o.cfg.EngineTrigger, o.cmdRunner, o.cfg.EngineFailurePatterns, o.logger)
	if err != nil {
		return phaseErr(PhaseBackup, types.ExitConfigError, err)
	}
	out, err := trigger.Run(ctx)
	if err != nil {
		return phaseErr(PhaseBackup, types.ExitEngineError, err)
	}
	o.logger.Debug("Engine trigger output: %s", strings.TrimSpace(out))

	watcher := &poll.ArtifactWatcher{Dir: dir, IDs: ids, Logger: o.logger}
	var found map[string]engine.Artifact
	var ok bool
	o.withProgress(ctx, "Waiting for backup artifacts", func() {
		found, ok = watcher.Await(ctx, poll.Options{
			Timeout:  o.cfg.ArtifactTimeout,
			Interval: o.cfg.ArtifactPollInterval,
			Clock:    o.pollClock,
		})
	})
	if !ok {
		if ctx.Err() != nil {
			return phaseErr(PhaseBackup, types.ExitInterrupted, ctx.Err())
		}
		var missing []string
		for _, id := range ids {
			if _, present := found[id]; !present {
				missing = append(missing, id)
			}
		}
		return phaseErr(PhaseBackup, types.ExitTimeoutError,
			fmt.Errorf("backup artifacts not ready after %s: missing %s", o.cfg.ArtifactTimeout, strings.Join(missing, ", ")))
	}
	rc.Artifacts = found
	o.logger.Info("%d artifacts ready (%s)", len(found), humanize.IBytes(uint64(engine.TotalSize(found))))
	return o.probeArtifacts(rc)
}

func (o *Orchestrator) probeArtifacts(rc *RunContext) error {
	for _, id := range rc.SelectedIDs() {
		a := rc.Artifacts[id]
		if res := rc.account(id); res != nil {
			res.Artifact = a.Name
		}
		if !o.cfg.ArtifactProbe {
			continue
		}
		if err := engine.ProbeArtifact(filepath.Join(rc.StagingDir, a.Name), a.Compression); err != nil {
			return accountErr(PhaseBackup, id, types.ExitEngineError, err)
		}
		o.logger.Debug("Artifact %s verified", a.Name)
	}
	return nil
}

// chownToOwner hands the staging dir to the engine owner when running as
// root. Failures only warn: the engine may still be able to write.
func (o *Orchestrator) chownToOwner(dir string) {
	if os.Geteuid() != 0 || o.cfg.EngineOwner == "" {
		return
	}
	u, err := user.Lookup(o.cfg.EngineOwner)
	if err != nil {
		o.logger.Warning("Cannot look up engine owner %s: %v", o.cfg.EngineOwner, err)
		return
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	if err := o.fs.Chown(dir, uid, gid); err != nil {
		o.logger.Warning("Cannot hand %s to %s: %v", dir, o.cfg.EngineOwner, err)
	}
}

func (o *Orchestrator) withProgress(ctx context.Context, label string, fn func()) {
	ind := progress.Start(ctx, o.out, label)
	defer ind.Stop()
	fn()
}

func (o *Orchestrator) sync(ctx context.Context, rc *RunContext, local, remoteDir string) (transfer.Result, error) {
	var res transfer.Result
	var err error
	o.withProgress(ctx, "Syncing "+local, func() {
		res, err = rc.Gateway.Transfer(ctx, local, remoteDir, true)
	})
	if err == nil {
		rc.BytesTransferred += res.TransferredBytes
	}
	return res, err
}

func (o *Orchestrator) transferArtifacts(ctx context.Context, rc *RunContext) error {
	if _, err := o.sync(ctx, rc, rc.StagingDir, rc.DestBackupPath); err != nil {
		return phaseErr(PhaseTransfer, types.ExitTransferError, err)
	}

	owner := o.cfg.DestBackupOwner
	if _, err := rc.Gateway.Run(ctx, remote.Command("chown", "-R", owner+":"+owner, rc.DestBackupPath)); err != nil {
		return phaseErr(PhaseTransfer, types.ExitConnectivityError, fmt.Errorf("prepare %s for the restore engine: %w", rc.DestBackupPath, err))
	}
	return nil
}

// ipBound reports whether ip appears as an address in `ip -o addr show` output.
func ipBound(out, ip string) bool {
	want := net.ParseIP(ip)
	if want == nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "inet" && fields[i] != "inet6" {
				continue
			}
			addr, _, _ := strings.Cut(fields[i+1], "/")
			if got := net.ParseIP(addr); got != nil && got.Equal(want) {
				return true
			}
		}
	}
	return false
}

func (o *Orchestrator) restore(ctx context.Context, rc *RunContext) error {
	out, err := rc.Gateway.Run(ctx, "ip -o addr show")
	if err != nil {
		return phaseErr(PhaseRestore, types.ExitConnectivityError, fmt.Errorf("list destination addresses: %w", err))
	}
	if !ipBound(string(out), rc.RestoreIP) {
		return phaseErr(PhaseRestore, types.ExitConnectivityError,
			fmt.Errorf("restore IP %s is not configured on %s", rc.RestoreIP, rc.Session.Destination.Host))
	}

	ids := rc.SelectedIDs()
	for _, id := range ids {
		a := rc.Artifacts[id]
		remotePath := path.Join(rc.DestBackupPath, a.Name)
		ok, err := rc.Gateway.Exists(ctx, remotePath)
		if err != nil || !ok {
			o.logger.Warning("Artifact %s missing on destination (%v)", remotePath, err)
			continue
		}
		if res := rc.account(id); res != nil {
			res.RemoteArtifact = true
		}
	}

	task, err := engine.EncodeRestore(ids, rc.Artifacts, engine.RestoreOptions{
		IP:        rc.RestoreIP,
		LocalPath: rc.DestBackupPath,
		Owner:     o.cfg.DestBackupOwner,
	})
	if err != nil {
		return phaseErr(PhaseRestore, types.ExitEngineError, err)
	}
	rc.RestoreTask = task

	appendCmd := fmt.Sprintf("printf '%%s\\n' %s >> %s", remote.Command(task.String()), remote.Command(o.cfg.RemoteQueueFile))
	if _, err := rc.Gateway.Run(ctx, appendCmd); err != nil {
		return phaseErr(PhaseRestore, types.ExitConnectivityError, fmt.Errorf("queue restore task: %w", err))
	}
	o.logger.Record("task", map[string]interface{}{"action": "restore", "queue": o.cfg.RemoteQueueFile, "accounts": ids})

	var runErr error
	o.withProgress(ctx, "Running restore on destination", func() {
		out, runErr = rc.Gateway.Run(ctx, o.cfg.RemoteTrigger)
	})
	var cmdErr *remote.CommandError
	if runErr != nil && !errors.As(runErr, &cmdErr) {
		return phaseErr(PhaseRestore, types.ExitConnectivityError, fmt.Errorf("run restore trigger: %w", runErr))
	}
	if failure := engine.DetectFailure(string(out), command.ExitCode(runErr), o.cfg.EngineFailurePatterns); failure != nil {
		o.logger.Warning("Restore reported problems, continuing: %v", failure)
	} else {
		o.logger.Info("Restore task processed for %d accounts", len(ids))
	}
	return nil
}

func (o *Orchestrator) postRestoreSync(ctx context.Context, rc *RunContext) error {
	watcher := &poll.RemotePathWatcher{Gateway: rc.Gateway, Logger: o.logger}
	normalizer := &ownership.Normalizer{
		Remote:    rc.Gateway,
		HomeRoot:  o.cfg.DestHomeRoot,
		MailGroup: o.cfg.MailGroup,
		Logger:    o.logger,
	}

	ids := rc.SelectedIDs()
	for i, id := range ids {
		res := rc.account(id)
		o.logger.Step("[%d/%d] %s", i+1, len(ids), id)

		home := path.Join(o.cfg.DestHomeRoot, id)
		var ready bool
		o.withProgress(ctx, "Waiting for "+home, func() {
			ready = watcher.Await(ctx, home, poll.Options{
				Timeout:  o.cfg.HomeTimeout,
				Interval: o.cfg.HomePollInterval,
				Clock:    o.pollClock,
			})
		})
		if !ready {
			if ctx.Err() != nil {
				return accountErr(PhasePostRestoreSync, id, types.ExitInterrupted, ctx.Err())
			}
			return accountErr(PhasePostRestoreSync, id, types.ExitTimeoutError,
				fmt.Errorf("home %s not created on destination after %s", home, o.cfg.HomeTimeout))
		}
		res.HomeReady = true

		for _, dir := range o.cfg.HeavyDirs {
			local := filepath.Join(o.cfg.LocalHomeRoot, id, dir)
			r, err := o.sync(ctx, rc, local, path.Join(home, dir))
			if err != nil {
				return accountErr(PhasePostRestoreSync, id, types.ExitTransferError, err)
			}
			if r.Skipped {
				res.Skipped = append(res.Skipped, dir)
				continue
			}
			res.Synced = append(res.Synced, dir)
			res.BytesTransferred += r.TransferredBytes
		}

		if err := normalizer.Normalize(ctx, id); err != nil {
			return accountErr(PhasePostRestoreSync, id, types.ExitTransferError, err)
		}
		res.Normalized = true
	}
	return nil
}

func (o *Orchestrator) cleanup(ctx context.Context, rc *RunContext) error {
	if rc.StagingCreated {
		if err := o.fs.RemoveAll(rc.StagingDir); err != nil {
			o.logger.Warning("Cannot remove staging directory %s: %v", rc.StagingDir, err)
			return nil
		}
		o.logger.Info("Removed staging directory %s", rc.StagingDir)
		return nil
	}

	names := make([]string, 0, len(rc.Artifacts))
	for _, a := range rc.Artifacts {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := o.fs.Remove(filepath.Join(rc.StagingDir, name)); err != nil && !os.IsNotExist(err) {
			o.logger.Warning("Cannot remove artifact %s: %v", name, err)
		}
	}
	o.logger.Info("Removed %d artifacts from %s", len(names), rc.StagingDir)
	return nil
}

func (o *Orchestrator) runMetrics(rc *RunContext, code types.ExitCode) *metrics.RunMetrics {
	warnings, errs := o.logger.Counts()
	m := &metrics.RunMetrics{
		RunID:            rc.RunID,
		Hostname:         o.hostname,
		Version:          o.version,
		StartTime:        rc.StartTime,
		EndTime:          rc.EndTime,
		ExitCode:         int(code),
		AccountsSelected: len(rc.SelectedIDs()),
		AccountsMigrated: rc.Migrated(),
		BytesTransferred: rc.BytesTransferred,
		WarningCount:     warnings,
		ErrorCount:       errs,
		PhaseDurations:   make(map[string]time.Duration, len(rc.PhaseDurations)),
	}
	if rc.Session != nil {
		m.Destination = rc.Session.Destination.String()
	}
	if code != types.ExitSuccess {
		m.FailedPhase = rc.Phase.String()
	}
	for p, d := range rc.PhaseDurations {
		m.PhaseDurations[p.String()] = d
	}
	return m
}

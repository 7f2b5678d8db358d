package orchestrator

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/awnumar/memguard"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tis24dev/hostmigrate/internal/checks"
	"github.com/tis24dev/hostmigrate/internal/command/commandtest"
	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/engine"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/metrics"
	"github.com/tis24dev/hostmigrate/internal/notify"
	"github.com/tis24dev/hostmigrate/internal/remote"
	"github.com/tis24dev/hostmigrate/internal/selection"
	"github.com/tis24dev/hostmigrate/internal/transfer"
	"github.com/tis24dev/hostmigrate/internal/types"
)

const (
	engineTrigger = "/usr/local/bin/engine run"
	remoteTrigger = "/usr/local/directadmin/dataskq d"
	restoreIP     = "192.0.2.10"
	destBackups   = "/home/admin/admin_backups"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixedTime struct{}

func (fixedTime) Now() time.Time { return fixedNow }

type fakeChecker struct {
	err      error
	released bool
}

func (c *fakeChecker) RunAllChecks(context.Context) ([]checks.CheckResult, error) {
	if c.err != nil {
		return []checks.CheckResult{{Name: "Tools", Message: c.err.Error()}}, c.err
	}
	return []checks.CheckResult{{Name: "Tools", Passed: true, Message: "ok"}}, nil
}

func (c *fakeChecker) ReleaseLock() error {
	c.released = true
	return nil
}

type fakePrompter struct {
	secret    *memguard.LockedBuffer
	secretErr error
	decline   bool
	confirms  []string
}

func (p *fakePrompter) AskRequired(_ context.Context, _, def string) (string, error) { return def, nil }
func (p *fakePrompter) AskPort(_ context.Context, _ string, def int) (int, error)    { return def, nil }

func (p *fakePrompter) Confirm(_ context.Context, label string, def bool) (bool, error) {
	p.confirms = append(p.confirms, label)
	return def && !p.decline, nil
}

func (p *fakePrompter) Secret(context.Context, string) (*memguard.LockedBuffer, error) {
	if p.secretErr != nil {
		return nil, p.secretErr
	}
	p.secret = memguard.NewBufferFromBytes([]byte("pw"))
	return p.secret, nil
}

type fakeNotifier struct {
	sent []*notify.RunSummary
}

func (n *fakeNotifier) Send(_ context.Context, s *notify.RunSummary) error {
	n.sent = append(n.sent, s)
	return nil
}

type transferCall struct {
	Local, Remote string
	Mirror        bool
}

type fakeGateway struct {
	mu          sync.Mutex
	warmErr     error
	addrOutput  string
	triggerOut  string
	triggerErr  error
	transferErr map[string]error
	existing    map[string]bool
	commands    []string
	transfers   []transferCall
	closed      bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		addrOutput:  "2: eth0    inet 192.0.2.10/24 brd 192.0.2.255 scope global eth0\n",
		triggerOut:  "restore queued",
		transferErr: map[string]error{},
		existing:    map[string]bool{"/home/alice": true, "/home/bob": true},
	}
}

func (g *fakeGateway) WarmUp(context.Context) error { return g.warmErr }

func (g *fakeGateway) Run(_ context.Context, cmd string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append(g.commands, cmd)
	switch cmd {
	case "ip -o addr show":
		return []byte(g.addrOutput), nil
	case remoteTrigger:
		return []byte(g.triggerOut), g.triggerErr
	}
	return nil, nil
}

func (g *fakeGateway) Exists(_ context.Context, p string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existing[p], nil
}

func (g *fakeGateway) Writable(context.Context, string) error { return nil }

func (g *fakeGateway) Transfer(_ context.Context, local, remoteDir string, mirror bool) (transfer.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, transferCall{local, remoteDir, mirror})
	if err := g.transferErr[local]; err != nil {
		return transfer.Result{}, err
	}
	entries, err := os.ReadDir(local)
	if err != nil {
		return transfer.Result{Skipped: true}, nil
	}
	for _, e := range entries {
		g.existing[path.Join(remoteDir, e.Name())] = true
	}
	return transfer.Result{FilesTransferred: int64(len(entries)), TransferredBytes: 100}, nil
}

func (g *fakeGateway) Close() error {
	g.closed = true
	return nil
}

func (g *fakeGateway) commandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range g.commands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func testCatalog() fstest.MapFS {
	return fstest.MapFS{
		"resell1/user.conf":     {Data: []byte("domain=resell1.example\n")},
		"resell1/reseller.conf": {Data: []byte("")},
		"resell1/users.list":    {Data: []byte("alice\nbob\n")},
		"alice/user.conf":       {Data: []byte("domain=alice.example\n")},
		"bob/user.conf":         {Data: []byte("domain=bob.example\n")},
	}
}

func writeTarArchive(t *testing.T, w io.WriteCloser) {
	t.Helper()
	tw := tar.NewWriter(w)
	body := []byte("backup=1\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "backup/user.conf", Mode: 0o600, Size: int64(len(body))}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, w.Close())
}

func writeArtifacts(t *testing.T, dir string) {
	t.Helper()
	var gz bytes.Buffer
	writeTarArchive(t, gzip.NewWriter(&gz))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.resell1.alice.tar.gz"), gz.Bytes(), 0o600))

	var zst bytes.Buffer
	enc, err := zstd.NewWriter(&zst)
	require.NoError(t, err)
	writeTarArchive(t, enc)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.resell1.bob.tar.zst"), zst.Bytes(), 0o600))
}

type harness struct {
	root     string
	cfg      *config.Config
	runner   *commandtest.Runner
	gateway  *fakeGateway
	prompter *fakePrompter
	checker  *fakeChecker
	notifier *fakeNotifier
	out      *bytes.Buffer
	logs     *bytes.Buffer
	deps     Deps
}

func (h *harness) stagingDir() string {
	return filepath.Join(h.cfg.StagingRoot, "migration-20240301-100000")
}

func newHarness(t *testing.T, selectionInput string) *harness {
	t.Helper()
	root := t.TempDir()
	envFile := filepath.Join(root, "migrate.env")
	require.NoError(t, os.WriteFile(envFile, []byte(strings.Join([]string{
		"STAGING_ROOT=" + filepath.Join(root, "staging"),
		"LOG_PATH=" + filepath.Join(root, "log"),
		"ENGINE_QUEUE_FILE=" + filepath.Join(root, "task.queue"),
		"ENGINE_TRIGGER=" + engineTrigger,
		"REMOTE_TRIGGER=" + remoteTrigger,
		"REMOTE_QUEUE_FILE=/usr/local/directadmin/data/task.queue",
		"DEST_HOST=dst.example",
		"RESTORE_IP=" + restoreIP,
		"LOCAL_HOME_ROOT=" + filepath.Join(root, "home"),
		"ARTIFACT_TIMEOUT=5s",
		"ARTIFACT_POLL_INTERVAL=10ms",
		"HOME_TIMEOUT=50ms",
		"HOME_POLL_INTERVAL=5ms",
		"ARTIFACT_PROBE=true",
		"REPORT_ENABLED=true",
		"",
	}, "\n")), 0o600))
	cfg, err := config.LoadConfig(envFile)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.StagingRoot, 0o755))

	for _, p := range []string{"alice/domains/alice.example/public_html", "alice/imap/alice.example", "bob/domains/bob.example"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.LocalHomeRoot, p), 0o755))
	}

	h := &harness{
		root:     root,
		cfg:      cfg,
		runner:   commandtest.New(),
		gateway:  newFakeGateway(),
		prompter: &fakePrompter{},
		checker:  &fakeChecker{},
		notifier: &fakeNotifier{},
		out:      &bytes.Buffer{},
		logs:     &bytes.Buffer{},
	}
	h.runner.On(commandtest.Response{
		Output: "queue processed",
		Hook:   func() { writeArtifacts(t, h.stagingDir()) },
	}, "/usr/local/bin/engine", "run")

	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(h.logs)
	h.deps = Deps{
		Logger:    logger,
		Config:    cfg,
		Version:   "test",
		Hostname:  "src.example",
		FS:        osFS{},
		CatalogFS: testCatalog(),
		Time:      fixedTime{},
		Command:   h.runner,
		Prompter:  h.prompter,
		Checker:   h.checker,
		Gateway:   func(*remote.Session) remote.Gateway { return h.gateway },
		Metrics:   metrics.NewPrometheusExporter(filepath.Join(root, "metrics"), logger),
		Notifier:  h.notifier,
		In:        bufio.NewReader(strings.NewReader(selectionInput)),
		Out:       h.out,
	}
	return h
}

func (h *harness) run(t *testing.T) (*Orchestrator, error) {
	t.Helper()
	o := New(h.deps)
	return o, o.Run(context.Background())
}

func (h *harness) queueLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.cfg.EngineQueueFile)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t, "1\n0\n")
	o, err := h.run(t)
	require.NoError(t, err, h.logs.String())
	assert.Equal(t, types.ExitSuccess, ExitCodeOf(err))

	rc := o.LastRun()
	assert.Equal(t, PhaseDone, rc.Phase)
	assert.Equal(t, []string{"alice", "bob"}, rc.SelectedIDs())
	assert.True(t, rc.Selection.Frozen())

	// one backup task for the whole selection
	lines := h.queueLines(t)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "select0=alice&select1=bob")
	assert.Equal(t, []string{engineTrigger}, h.runner.Keys())

	// restore task names both artifacts with encoded dots
	restoreTask := rc.RestoreTask.String()
	assert.Contains(t, restoreTask, "select0="+engine.EncodeFilename("user.resell1.alice.tar.gz"))
	assert.Contains(t, restoreTask, "select1="+engine.EncodeFilename("user.resell1.bob.tar.zst"))
	assert.Contains(t, restoreTask, "ip="+restoreIP)
	assert.Len(t, h.gateway.commandsWithPrefix("printf '%s\\n' "), 1)
	assert.Len(t, h.gateway.commandsWithPrefix(remoteTrigger), 1)
	assert.Len(t, h.gateway.commandsWithPrefix("sh -c "), 2, "one ownership script per account")
	assert.Contains(t, h.gateway.commands, "chown -R admin:admin "+destBackups)

	home := h.cfg.LocalHomeRoot
	assert.Equal(t, []transferCall{
		{h.stagingDir(), destBackups, true},
		{filepath.Join(home, "alice", "domains"), "/home/alice/domains", true},
		{filepath.Join(home, "alice", "imap"), "/home/alice/imap", true},
		{filepath.Join(home, "bob", "domains"), "/home/bob/domains", true},
		{filepath.Join(home, "bob", "imap"), "/home/bob/imap", true},
	}, h.gateway.transfers)

	bob := rc.account("bob")
	assert.Equal(t, []string{"domains"}, bob.Synced)
	assert.Equal(t, []string{"imap"}, bob.Skipped)
	assert.True(t, bob.RemoteArtifact)
	assert.Equal(t, 2, rc.Migrated())

	// cleanup, scrubbing and lock release
	_, statErr := os.Stat(h.stagingDir())
	assert.True(t, os.IsNotExist(statErr), "staging dir removed after success")
	assert.False(t, h.prompter.secret.IsAlive(), "credential destroyed")
	assert.True(t, rc.Session.Scrubbed())
	assert.True(t, h.gateway.closed)
	assert.True(t, h.checker.released)

	// run report and metrics
	reportPath := filepath.Join(h.cfg.LogPath, "migration-20240301-100000.report.yaml")
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Equal(t, "success", report["status"])
	assert.Equal(t, 0, report["exit_code"])
	assert.Equal(t, []interface{}{"alice", "bob"}, report["selection"])

	_, err = os.Stat(filepath.Join(h.root, "metrics", metrics.TextfileName))
	assert.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	sent := h.notifier.sent[0]
	assert.Equal(t, 0, sent.ExitCode)
	assert.Equal(t, 2, sent.Migrated)
	assert.Equal(t, "root@dst.example:22", sent.Destination)
	assert.Empty(t, sent.FailedPhase)
}

func TestRunDryRunStopsAfterSelection(t *testing.T) {
	h := newHarness(t, "4\n")
	h.deps.DryRun = true
	gatewayOpened := false
	h.deps.Gateway = func(*remote.Session) remote.Gateway {
		gatewayOpened = true
		return h.gateway
	}

	o, err := h.run(t)
	require.NoError(t, err)
	assert.False(t, gatewayOpened)
	assert.Nil(t, h.prompter.secret)
	assert.Empty(t, h.runner.Calls)
	assert.Nil(t, h.queueLines(t))
	assert.Equal(t, PhaseSelection, o.LastRun().Phase)
	assert.Contains(t, h.out.String(), "select0=alice")
	assert.Contains(t, h.out.String(), "action=backup")
	assert.Empty(t, h.notifier.sent)
}

func TestRunFailures(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		setup     func(h *harness)
		phase     Phase
		code      types.ExitCode
		account   string
		transfers int
	}{
		{
			name:  "preflight",
			input: "1\n",
			setup: func(h *harness) { h.checker.err = errors.New("rsync not found") },
			phase: PhasePreflight,
			code:  types.ExitPreconditionError,
		},
		{
			name:  "non-interactive credential",
			input: "1\n",
			setup: func(h *harness) { h.prompter.secretErr = errors.New("secret input requires an interactive terminal") },
			phase: PhaseHandshake,
			code:  types.ExitPreconditionError,
		},
		{
			name:  "warm-up",
			input: "1\n",
			setup: func(h *harness) { h.gateway.warmErr = remote.ErrWarmUpFailed },
			phase: PhaseHandshake,
			code:  types.ExitConnectivityError,
		},
		{
			name:  "empty selection",
			input: "0\n",
			phase: PhaseSelection,
			code:  types.ExitPreconditionError,
		},
		{
			name:  "backup engine failure text",
			input: "1\n",
			setup: func(h *harness) {
				h.runner.On(commandtest.Response{Output: "Error: unable to create backup"}, "/usr/local/bin/engine", "run")
			},
			phase: PhaseBackup,
			code:  types.ExitEngineError,
		},
		{
			name:  "artifacts never appear",
			input: "1\n",
			setup: func(h *harness) {
				h.runner.On(commandtest.Response{Output: "queued"}, "/usr/local/bin/engine", "run")
				h.cfg.ArtifactTimeout = 30 * time.Millisecond
			},
			phase: PhaseBackup,
			code:  types.ExitTimeoutError,
		},
		{
			name:  "restore ip absent",
			input: "1\n",
			setup: func(h *harness) {
				h.gateway.addrOutput = "2: eth0    inet 198.51.100.7/24 scope global eth0\n"
			},
			phase:     PhaseRestore,
			code:      types.ExitConnectivityError,
			transfers: 1,
		},
		{
			name:  "home never created",
			input: "1\n",
			setup: func(h *harness) { delete(h.gateway.existing, "/home/bob") },
			phase:     PhasePostRestoreSync,
			code:      types.ExitTimeoutError,
			account:   "bob",
			transfers: 3,
		},
		{
			name:  "heavy data sync",
			input: "1\n",
			setup: func(h *harness) {
				h.gateway.transferErr[filepath.Join(h.cfg.LocalHomeRoot, "alice", "domains")] = transfer.ErrTransferFailed
			},
			phase:     PhasePostRestoreSync,
			code:      types.ExitTransferError,
			account:   "alice",
			transfers: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.input)
			if tc.setup != nil {
				tc.setup(h)
			}
			o, err := h.run(t)
			require.Error(t, err)

			var pe *PhaseError
			require.True(t, errors.As(err, &pe), "%T: %v", err, err)
			assert.Equal(t, tc.phase, pe.Phase, err.Error())
			assert.Equal(t, tc.code, pe.Code)
			assert.Equal(t, tc.code, ExitCodeOf(err))
			assert.Equal(t, tc.account, pe.Account)
			assert.Len(t, h.gateway.transfers, tc.transfers)

			if h.prompter.secret != nil {
				assert.False(t, h.prompter.secret.IsAlive(), "credential scrubbed on failure")
			}
			rc := o.LastRun()
			if rc.StagingCreated {
				_, statErr := os.Stat(rc.StagingDir)
				assert.NoError(t, statErr, "staging dir kept after failure")
			}
			assert.Equal(t, tc.phase != PhasePreflight, h.checker.released)

			data, rerr := os.ReadFile(filepath.Join(h.cfg.LogPath, "migration-20240301-100000.report.yaml"))
			require.NoError(t, rerr)
			assert.Contains(t, string(data), "status: failed")
			assert.Contains(t, string(data), "failed_phase: "+tc.phase.String())

			require.Len(t, h.notifier.sent, 1)
			assert.Equal(t, notify.StatusFailure, h.notifier.sent[0].Status)
			assert.Equal(t, tc.phase.String(), h.notifier.sent[0].FailedPhase)
		})
	}
}

func TestRunEmptySelectionError(t *testing.T) {
	h := newHarness(t, "0\n")
	_, err := h.run(t)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)
}

func TestRunInvalidListedAccountSelectsNothing(t *testing.T) {
	h := newHarness(t, "6\n0\n")
	catalogFS := testCatalog()
	catalogFS["resell1/users.list"] = &fstest.MapFile{Data: []byte("alice\nbob\nghost\n")}
	h.deps.CatalogFS = catalogFS

	_, err := h.run(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)
	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseSelection, pe.Phase)
	assert.Equal(t, types.ExitPreconditionError, pe.Code)

	assert.Contains(t, h.out.String(), "Entry 6 selected no valid account")
	assert.Empty(t, h.runner.Keys(), "engine never triggered")
	_, statErr := os.Stat(h.cfg.EngineQueueFile)
	assert.True(t, os.IsNotExist(statErr), "no task queued")
}

func TestRunDeclinedConfirmation(t *testing.T) {
	h := newHarness(t, "1\n")
	h.prompter.decline = true

	_, err := h.run(t)
	require.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, types.ExitPreconditionError, ExitCodeOf(err))
	require.Len(t, h.prompter.confirms, 1)
	assert.Contains(t, h.prompter.confirms[0], "Migrate 2 accounts to dst.example")
	assert.Empty(t, h.runner.Keys())
	assert.Empty(t, h.gateway.transfers)
}

func TestRunRestoreProblemsAreWarnings(t *testing.T) {
	h := newHarness(t, "1\n")
	h.gateway.triggerOut = "Restore of bob failed: quota exceeded"
	h.gateway.triggerErr = &remote.CommandError{Command: remoteTrigger, Code: 1}

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "Restore reported problems")
	assert.Len(t, h.gateway.transfers, 5)
}

func TestRunRestoreTriggerConnectionLossIsFatal(t *testing.T) {
	h := newHarness(t, "1\n")
	h.gateway.triggerErr = errors.New("connection reset by peer")
	_, err := h.run(t)
	assert.Equal(t, types.ExitConnectivityError, ExitCodeOf(err))
}

func TestRunResumeSkipsBackupWhenArtifactsPresent(t *testing.T) {
	h := newHarness(t, "1\n")
	resume := filepath.Join(h.root, "resume")
	require.NoError(t, os.MkdirAll(resume, 0o755))
	writeArtifacts(t, resume)
	require.NoError(t, os.WriteFile(filepath.Join(resume, "unrelated.txt"), []byte("keep"), 0o600))
	h.cfg.ResumeStagingDir = resume

	o, err := h.run(t)
	require.NoError(t, err, h.logs.String())
	rc := o.LastRun()
	assert.True(t, rc.BackupReused)
	assert.Empty(t, h.runner.Calls, "backup not re-issued")
	assert.Nil(t, h.queueLines(t))
	assert.Equal(t, resume, h.gateway.transfers[0].Local)

	// only the consumed artifacts are removed from a resumed directory
	entries, err := os.ReadDir(resume)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unrelated.txt", entries[0].Name())
}

func TestRunResumeReissuesBackupForMissingAccounts(t *testing.T) {
	h := newHarness(t, "1\n")
	resume := filepath.Join(h.root, "resume")
	require.NoError(t, os.MkdirAll(resume, 0o755))
	h.cfg.ResumeStagingDir = resume
	h.runner.On(commandtest.Response{Output: "ok", Hook: func() { writeArtifacts(t, resume) }}, "/usr/local/bin/engine", "run")

	_, err := h.run(t)
	require.NoError(t, err, h.logs.String())
	lines := h.queueLines(t)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "local_path="+engine.EncodePath(resume))
}

func TestRunCorruptArtifact(t *testing.T) {
	h := newHarness(t, "1\n")
	h.runner.On(commandtest.Response{Output: "ok", Hook: func() {
		writeArtifacts(t, h.stagingDir())
		require.NoError(t, os.WriteFile(filepath.Join(h.stagingDir(), "user.resell1.bob.tar.zst"), []byte("not zstd"), 0o600))
	}}, "/usr/local/bin/engine", "run")

	_, err := h.run(t)
	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseBackup, pe.Phase)
	assert.Equal(t, "bob", pe.Account)
	assert.ErrorIs(t, err, engine.ErrCorruptArtifact)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, "1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(h.deps)
	err := o.Run(ctx)
	assert.Equal(t, types.ExitInterrupted, ExitCodeOf(err))
}

func TestIPBound(t *testing.T) {
	out := `1: lo    inet 127.0.0.1/8 scope host lo
2: eth0    inet 203.0.113.5/24 brd 203.0.113.255 scope global eth0
2: eth0    inet6 2001:db8::5/64 scope global
`
	assert.True(t, ipBound(out, "203.0.113.5"))
	assert.True(t, ipBound(out, "2001:db8:0::5"))
	assert.False(t, ipBound(out, "203.0.113.50"))
	assert.False(t, ipBound(out, "not-an-ip"))
}

func TestPhaseStringAndExitCode(t *testing.T) {
	assert.Equal(t, "post-restore-sync", PhasePostRestoreSync.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
	assert.Equal(t, types.ExitGenericError, ExitCodeOf(errors.New("boom")))
	assert.Equal(t, types.ExitSuccess, ExitCodeOf(nil))

	pe := accountErr(PhaseBackup, "bob", types.ExitEngineError, errors.New("corrupt"))
	assert.Equal(t, "backup phase failed for bob: corrupt", pe.Error())
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tis24dev/hostmigrate/internal/config"
	"github.com/tis24dev/hostmigrate/internal/types"
)

type recorder struct {
	called string
	args   *Args
}

func (r *recorder) handlers() Handlers {
	record := func(name string) func(context.Context, *Args) error {
		return func(_ context.Context, a *Args) error {
			r.called = name
			r.args = a
			return nil
		}
	}
	return Handlers{Migrate: record("migrate"), Accounts: record("accounts"), Check: record("check")}
}

func execute(t *testing.T, h Handlers, argv ...string) (*Args, string, error) {
	t.Helper()
	root, args := NewRootCommand(h)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(argv)
	err := root.ExecuteContext(context.Background())
	return args, out.String(), err
}

func TestRootDefaults(t *testing.T) {
	rec := &recorder{}
	args, _, err := execute(t, rec.handlers())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.called != "migrate" {
		t.Fatalf("called %q, want migrate", rec.called)
	}
	if args.ConfigPath != config.DefaultConfigPath || args.ConfigPathSource != configSourceDefault {
		t.Fatalf("config = %q (%s)", args.ConfigPath, args.ConfigPathSource)
	}
	if args.DryRun || args.LogLevelSet || args.NoColor {
		t.Fatalf("unexpected flags set: %+v", args)
	}
}

func TestRootFlags(t *testing.T) {
	rec := &recorder{}
	args, _, err := execute(t, rec.handlers(),
		"-c", "/tmp/m.env", "-l", "debug", "--no-color", "-n",
		"--dest-host", "dst.example", "--dest-port", "2222", "--dest-user", "admin",
		"--dest-path", "/backup", "--restore-ip", "2001:db8::1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if args.ConfigPath != "/tmp/m.env" || args.ConfigPathSource != configSourceFlag {
		t.Fatalf("config = %q (%s)", args.ConfigPath, args.ConfigPathSource)
	}
	if !args.LogLevelSet || args.LogLevel != types.LogLevelDebug {
		t.Fatalf("log level = %v (set=%v)", args.LogLevel, args.LogLevelSet)
	}
	if !args.DryRun || !args.NoColor {
		t.Fatalf("dry-run/no-color not parsed: %+v", args)
	}

	cfg := &config.Config{DebugLevel: types.LogLevelInfo, UseColor: true, DestPort: 22, DestUser: "root"}
	args.Apply(cfg)
	if cfg.DestHost != "dst.example" || cfg.DestPort != 2222 || cfg.DestUser != "admin" ||
		cfg.DestBackupPath != "/backup" || cfg.RestoreIP != "2001:db8::1" {
		t.Fatalf("destination not applied: %+v", cfg)
	}
	if cfg.DebugLevel != types.LogLevelDebug || cfg.UseColor {
		t.Fatalf("logging not applied: level=%v color=%v", cfg.DebugLevel, cfg.UseColor)
	}
}

func TestApplyKeepsConfiguredValues(t *testing.T) {
	cfg := &config.Config{DebugLevel: types.LogLevelWarning, UseColor: true, DestHost: "cfg.example", DestPort: 22}
	(&Args{}).Apply(cfg)
	if cfg.DestHost != "cfg.example" || cfg.DestPort != 22 || cfg.DebugLevel != types.LogLevelWarning || !cfg.UseColor {
		t.Fatalf("empty args changed config: %+v", cfg)
	}
}

func TestSubcommands(t *testing.T) {
	for _, name := range []string{"accounts", "check"} {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			args, _, err := execute(t, rec.handlers(), name, "--log-level", "warning")
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if rec.called != name {
				t.Fatalf("called %q, want %q", rec.called, name)
			}
			if args.LogLevel != types.LogLevelWarning {
				t.Fatalf("persistent flag not parsed: %v", args.LogLevel)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	rec := &recorder{}
	_, out, err := execute(t, rec.handlers(), "version")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.called != "" {
		t.Fatalf("version ran handler %q", rec.called)
	}
	if !strings.HasPrefix(out, "hostmigrate ") {
		t.Fatalf("version output = %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"bad log level", []string{"-l", "loud"}},
		{"port out of range", []string{"--dest-port", "70000"}},
		{"port not a number", []string{"--dest-port", "ssh"}},
		{"bad restore ip", []string{"--restore-ip", "300.1.1.1"}},
		{"positional argument", []string{"alice"}},
		{"subcommand argument", []string{"accounts", "extra"}},
		{"root flag on subcommand", []string{"check", "--dest-host", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			_, _, err := execute(t, rec.handlers(), tt.argv...)
			if !errors.Is(err, ErrUsage) {
				t.Fatalf("err = %v, want ErrUsage", err)
			}
			if rec.called != "" {
				t.Fatalf("handler %q ran despite usage error", rec.called)
			}
		})
	}
}

func TestMissingHandler(t *testing.T) {
	_, _, err := execute(t, Handlers{}, "check")
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("err = %v, want ErrUsage", err)
	}
}

func TestHandlerErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := execute(t, Handlers{Migrate: func(context.Context, *Args) error { return boom }})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tis24dev/hostmigrate/internal/command"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/transfer"
)

var (
	// ErrWarmUpFailed means the destination could not be reached or refused
	// the credential. It is never retried by callers.
	ErrWarmUpFailed = errors.New("remote warm-up failed")
	// ErrNotWarmedUp guards every remote call issued before WarmUp succeeded.
	ErrNotWarmedUp = errors.New("remote gateway not warmed up")
	// ErrNotWritable is returned by Writable.
	ErrNotWritable = errors.New("remote path not writable")
)

// Gateway is the single choke point for destination access.
type Gateway interface {
	WarmUp(ctx context.Context) error
	Run(ctx context.Context, cmd string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Writable(ctx context.Context, path string) error
	Transfer(ctx context.Context, local, remote string, mirror bool) (transfer.Result, error)
	Close() error
}

// Command shell-quotes args into one remote command line.
func Command(args ...string) string {
	return shellquote.Join(args...)
}

// CommandError is a remote command that ran and exited non-zero.
type CommandError struct {
	Command string
	Code    int
	Output  string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", e.Command, e.Code)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// ExitCode lets command.ExitCode read remote exit statuses.
func (e *CommandError) ExitCode() int { return e.Code }

// connection is an established ssh+sftp pair.
type connection interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
	Stat(path string) (os.FileInfo, error)
	Close() error
}

type dialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (connection, error)

// SSHGateway implements Gateway over golang.org/x/crypto/ssh, with sftp for
// existence checks and rsync (through the transfer engine) for trees.
type SSHGateway struct {
	session *Session
	runner  command.Runner
	logger  *logging.Logger
	clock   clock.Clock
	dial    dialFunc

	mu   sync.Mutex
	conn connection
	warm bool
}

// NewSSHGateway binds a gateway to session. runner executes the local rsync
// processes used by Transfer.
func NewSSHGateway(session *Session, runner command.Runner, logger *logging.Logger) *SSHGateway {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SSHGateway{
		session: session,
		runner:  runner,
		logger:  logger,
		clock:   clock.WallClock,
		dial:    dialSSH,
	}
}

func (g *SSHGateway) clientConfig() *ssh.ClientConfig {
	password := func() (string, error) {
		var pw string
		err := g.session.WithSecret(func(secret []byte) error {
			pw = string(secret)
			return nil
		})
		return pw, err
	}
	return &ssh.ClientConfig{
		User: g.session.Destination.User,
		Auth: []ssh.AuthMethod{
			ssh.PasswordCallback(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				pw, err := password()
				if err != nil {
					return nil, err
				}
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         g.session.Profile.ConnectTimeout,
	}
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func (g *SSHGateway) connect(ctx context.Context) (connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		return g.conn, nil
	}

	profile := g.session.Profile
	delay := profile.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	addr := g.session.Destination.Address()
	cfg := g.clientConfig()

	var conn connection
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			c, err := g.dial(ctx, addr, cfg)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		IsFatalError: func(err error) bool {
			return isAuthError(err) || errors.Is(err, ErrSessionScrubbed) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			g.logger.Debug("ssh connect to %s, attempt %d: %v", addr, attempt, err)
		},
		Attempts: profile.ConnectAttempts,
		Delay:    delay,
		Clock:    g.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if last := retry.LastError(err); last != nil {
			err = last
		}
		return nil, fmt.Errorf("connect to %s: %w", g.session.Destination, err)
	}
	g.conn = conn
	return conn, nil
}

// WarmUp connects and runs a no-op command. Until it succeeds every other
// call returns ErrNotWarmedUp.
func (g *SSHGateway) WarmUp(ctx context.Context) error {
	done := logging.DebugStart(g.logger, "remote warm-up", "destination=%s", g.session.Destination)
	conn, err := g.connect(ctx)
	if err == nil {
		_, err = conn.Run(ctx, "true")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrWarmUpFailed, err)
		done(err)
		return err
	}
	g.mu.Lock()
	g.warm = true
	g.mu.Unlock()
	done(nil)
	return nil
}

func (g *SSHGateway) ready() (connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.warm || g.conn == nil {
		return nil, ErrNotWarmedUp
	}
	return g.conn, nil
}

// Run executes cmd through the destination's shell and returns its combined
// output. A non-zero exit yields *CommandError.
func (g *SSHGateway) Run(ctx context.Context, cmd string) ([]byte, error) {
	conn, err := g.ready()
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out, err := conn.Run(ctx, cmd)
	fields := map[string]interface{}{
		"command":     cmd,
		"exit_code":   command.ExitCode(err),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	g.logger.Record("remote_command", fields)
	return out, err
}

// Exists stats path over sftp.
func (g *SSHGateway) Exists(ctx context.Context, path string) (bool, error) {
	conn, err := g.ready()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := conn.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s on %s: %w", path, g.session.Destination.Host, err)
	}
	return true, nil
}

// Writable checks that the remote user can write into path.
func (g *SSHGateway) Writable(ctx context.Context, path string) error {
	_, err := g.Run(ctx, Command("test", "-d", path, "-a", "-w", path))
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return fmt.Errorf("%w: %s on %s", ErrNotWritable, path, g.session.Destination.Host)
	}
	return err
}

// Transfer syncs a local tree to the destination with the session's
// profile and credential.
func (g *SSHGateway) Transfer(ctx context.Context, local, remote string, mirror bool) (transfer.Result, error) {
	if _, err := g.ready(); err != nil {
		return transfer.Result{}, err
	}
	engine := &transfer.Engine{
		Runner:  g.runner,
		Target:  g.session.TransferTarget(),
		Options: g.session.TransferOptions(),
		Secret:  g.session,
		Logger:  g.logger,
	}
	return engine.SyncTree(ctx, local, remote, mirror)
}

// Close drops the connection. The gateway must be warmed up again to be
// reused.
func (g *SSHGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warm = false
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

type sshConnection struct {
	client *ssh.Client
	sftp   *sftp.Client
}

var sftpNewClient = sftp.NewClient

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (connection, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	client := ssh.NewClient(c, chans, reqs)
	sftpClient, err := sftpNewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &sshConnection{client: client, sftp: sftpClient}, nil
}

func (c *sshConnection) Run(ctx context.Context, cmd string) ([]byte, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer sess.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGTERM)
			sess.Close()
		case <-stop:
		}
	}()

	out, err := sess.CombinedOutput(cmd)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out, &CommandError{Command: cmd, Code: exitErr.ExitStatus(), Output: string(out)}
		}
		return out, err
	}
	return out, nil
}

func (c *sshConnection) Stat(path string) (os.FileInfo, error) {
	return c.sftp.Stat(path)
}

func (c *sshConnection) Close() error {
	sftpErr := c.sftp.Close()
	clientErr := c.client.Close()
	return errors.Join(sftpErr, clientErr)
}

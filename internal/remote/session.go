// Package remote is the only way the migration talks to the destination
// server: command execution, path checks and tree transfers all go through a
// Gateway bound to one Session.
package remote

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/tis24dev/hostmigrate/internal/transfer"
)

// ErrSessionScrubbed is returned when the credential was already destroyed.
var ErrSessionScrubbed = errors.New("session credential already scrubbed")

// Destination identifies the remote server.
type Destination struct {
	Host string
	Port int
	User string
}

// Address returns host:port, defaulting the port to 22.
func (d Destination) Address() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

func (d Destination) String() string {
	if d.User == "" {
		return d.Address()
	}
	return d.User + "@" + d.Address()
}

// Profile holds the connection options shared by every remote call of a run.
type Profile struct {
	ConnectTimeout  time.Duration
	ConnectAttempts int
	// RetryDelay is the pause between failed connection attempts.
	RetryDelay time.Duration
	// IOTimeout bounds idle rsync transfers.
	IOTimeout  time.Duration
	RsyncFlags []string
}

// Session is resolved once at handshake time and then only read. The
// credential lives in a locked buffer until Scrub.
type Session struct {
	Destination Destination
	Profile     Profile

	mu         sync.Mutex
	credential *memguard.LockedBuffer
}

// NewSession takes ownership of credential.
func NewSession(dest Destination, profile Profile, credential *memguard.LockedBuffer) *Session {
	if profile.ConnectAttempts < 1 {
		profile.ConnectAttempts = 1
	}
	return &Session{Destination: dest, Profile: profile, credential: credential}
}

// WithSecret lends the credential bytes to fn. fn must not retain them.
func (s *Session) WithSecret(fn func(secret []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential == nil || !s.credential.IsAlive() {
		return ErrSessionScrubbed
	}
	return fn(s.credential.Bytes())
}

// Scrub wipes and releases the credential. Safe to call more than once.
func (s *Session) Scrub() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential != nil {
		s.credential.Destroy()
		s.credential = nil
	}
}

// Scrubbed reports whether the credential is gone.
func (s *Session) Scrubbed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential == nil
}

// TransferTarget maps the destination for the transfer engine.
func (s *Session) TransferTarget() transfer.Target {
	return transfer.Target{Host: s.Destination.Host, Port: s.Destination.Port, User: s.Destination.User}
}

// TransferOptions maps the profile for the transfer engine so rsync's ssh
// transport uses the same timeouts as the gateway.
func (s *Session) TransferOptions() transfer.Options {
	return transfer.Options{
		ConnectTimeout:  s.Profile.ConnectTimeout,
		ConnectAttempts: s.Profile.ConnectAttempts,
		IOTimeout:       s.Profile.IOTimeout,
		ExtraFlags:      s.Profile.RsyncFlags,
	}
}

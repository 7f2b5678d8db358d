// Package ownership fixes file ownership of migrated home directories on the
// destination after the heavy data was synced without owner information.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/remote"
)

// ErrInvalidAccount rejects ids that cannot be a login name.
var ErrInvalidAccount = errors.New("invalid account id")

// DefaultMailGroup owns mailbox trees when it exists on the destination.
const DefaultMailGroup = "mail"

// Runner is the part of remote.Gateway the normalizer needs.
type Runner interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

// Normalizer applies ownership to <HomeRoot>/<account>/{domains,imap}.
type Normalizer struct {
	Remote    Runner
	HomeRoot  string
	MailGroup string
	Logger    *logging.Logger
}

func validAccount(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, "-") {
		return false
	}
	return !strings.ContainsAny(id, "/: \t\n")
}

// Script returns the shell script run on the destination for account. Each
// subtree is only touched when it exists, and the mail group is looked up
// when the script runs.
func (n *Normalizer) Script(account string) string {
	home := path.Join(n.homeRoot(), account)
	group := n.MailGroup
	if group == "" {
		group = DefaultMailGroup
	}
	q := remote.Command

	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "if [ -d %s ]; then chown -R %s %s; fi\n",
		q(path.Join(home, "domains")), q(account+":"+account), q(path.Join(home, "domains")))
	fmt.Fprintf(&b, "if [ -d %s ]; then\n", q(path.Join(home, "imap")))
	fmt.Fprintf(&b, "  if getent group %s >/dev/null 2>&1; then grp=%s; else grp=%s; fi\n", q(group), q(group), q(account))
	fmt.Fprintf(&b, "  chown -R %s:\"$grp\" %s\n", q(account), q(path.Join(home, "imap")))
	b.WriteString("fi\n")
	return b.String()
}

func (n *Normalizer) homeRoot() string {
	if n.HomeRoot == "" {
		return "/home"
	}
	return n.HomeRoot
}

// Normalize runs the ownership script for one account. Running it on an
// already normalized tree changes nothing.
func (n *Normalizer) Normalize(ctx context.Context, account string) error {
	if !validAccount(account) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	logger := n.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	done := logging.DebugStart(logger, "normalize ownership", "account=%s", account)
	out, err := n.Remote.Run(ctx, remote.Command("sh", "-c", n.Script(account)))
	if err != nil {
		err = fmt.Errorf("normalize ownership of %s: %w", account, err)
		if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("%w (%s)", err, msg)
		}
		done(err)
		return err
	}
	done(nil)
	return nil
}

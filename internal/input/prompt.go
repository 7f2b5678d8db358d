package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when a secret is requested but stdin is not a terminal.
var ErrNotInteractive = errors.New("secret input requires an interactive terminal")

// Prompter asks the operator for values on a shared reader.
type Prompter struct {
	Reader *bufio.Reader
	Out    io.Writer

	// Secret input. Defaults target the process stdin.
	FD           int
	IsTerminal   func(fd int) bool
	ReadPassword func(fd int) ([]byte, error)
}

// NewPrompter builds a Prompter bound to stdin/stdout.
func NewPrompter() *Prompter {
	return &Prompter{
		Reader:       bufio.NewReader(os.Stdin),
		Out:          os.Stdout,
		FD:           int(os.Stdin.Fd()),
		IsTerminal:   term.IsTerminal,
		ReadPassword: term.ReadPassword,
	}
}

// Ask prints label and returns the trimmed answer, or def when the answer is empty.
func (p *Prompter) Ask(ctx context.Context, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.Out, "%s: ", label)
	}
	line, err := ReadLineWithContext(ctx, p.Reader)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskRequired repeats the question until a non-empty answer is given.
func (p *Prompter) AskRequired(ctx context.Context, label, def string) (string, error) {
	for {
		answer, err := p.Ask(ctx, label, def)
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(p.Out, "A value is required.")
	}
}

// AskPort repeats the question until a valid TCP port is given.
func (p *Prompter) AskPort(ctx context.Context, label string, def int) (int, error) {
	defStr := ""
	if def > 0 {
		defStr = strconv.Itoa(def)
	}
	for {
		answer, err := p.Ask(ctx, label, defStr)
		if err != nil {
			return 0, err
		}
		port, convErr := strconv.Atoi(answer)
		if convErr == nil && port >= 1 && port <= 65535 {
			return port, nil
		}
		fmt.Fprintf(p.Out, "Invalid port %q (1-65535).\n", answer)
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(ctx context.Context, label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(p.Out, "%s [%s]: ", label, hint)
	line, err := ReadLineWithContext(ctx, p.Reader)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Secret reads a credential without echo into a locked buffer. It refuses to
// read from a non-interactive stream. The caller owns the buffer and must
// Destroy it.
func (p *Prompter) Secret(ctx context.Context, label string) (*memguard.LockedBuffer, error) {
	if p.IsTerminal == nil || !p.IsTerminal(p.FD) {
		return nil, ErrNotInteractive
	}
	fmt.Fprintf(p.Out, "%s: ", label)
	raw, err := ReadPasswordWithContext(ctx, p.ReadPassword, p.FD)
	fmt.Fprintln(p.Out)
	if err != nil {
		memguard.WipeBytes(raw)
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty credential")
	}
	// NewBufferFromBytes wipes raw.
	return memguard.NewBufferFromBytes(raw), nil
}

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/tis24dev/hostmigrate/internal/logging"
)

// Webhook payload formats.
const (
	FormatGeneric = "generic"
	FormatSlack   = "slack"
)

// ErrInvalidWebhook is returned for a URL that can never be delivered to.
var ErrInvalidWebhook = errors.New("invalid webhook")

// WebhookConfig configures one endpoint.
type WebhookConfig struct {
	URL    string
	Format string
	// Token is sent as a bearer token when set.
	Token string
	// Secret signs the body with HMAC-SHA256 when set: X-Signature: sha256=<hex>.
	Secret     string
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// WebhookNotifier posts run summaries as JSON.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	clock  clock.Clock
	logger *logging.Logger
}

// NewWebhookNotifier validates cfg.URL and applies defaults.
func NewWebhookNotifier(cfg WebhookConfig, logger *logging.Logger) (*WebhookNotifier, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWebhook, maskURL(cfg.URL))
	}
	cfg.URL = parsed.String()
	if cfg.Format == "" {
		cfg.Format = FormatGeneric
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		clock:  clock.WallClock,
		logger: logger,
	}, nil
}

// statusError is a non-2xx answer. 4xx answers are not retried.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook answered %d", e.Code)
	}
	return fmt.Sprintf("webhook answered %d: %s", e.Code, e.Body)
}

func (e *statusError) permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Send posts s, retrying transport errors and 5xx answers.
func (w *WebhookNotifier) Send(ctx context.Context, s *RunSummary) error {
	body, err := json.Marshal(w.payload(s))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	done := logging.DebugStart(w.logger, "webhook", "%s %s (%d bytes)", w.cfg.Format, maskURL(w.cfg.URL), len(body))

	err = retry.Call(retry.CallArgs{
		Func: func() error { return w.post(ctx, body) },
		IsFatalError: func(err error) bool {
			var se *statusError
			return (errors.As(err, &se) && se.permanent()) || ctx.Err() != nil
		},
		NotifyFunc: func(lastErr error, attempt int) {
			w.logger.Debug("Webhook attempt %d failed: %v", attempt, lastErr)
		},
		Attempts: w.cfg.Retries + 1,
		Delay:    w.cfg.RetryDelay,
		Clock:    w.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		err = retry.LastError(err)
		done(err)
		return fmt.Errorf("webhook %s: %w", maskURL(w.cfg.URL), err)
	}
	done(nil)
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hostmigrate")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature", sign(body, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type genericPayload struct {
	Event            string   `json:"event"`
	RunID            string   `json:"run_id"`
	Version          string   `json:"version,omitempty"`
	Source           string   `json:"source"`
	Destination      string   `json:"destination,omitempty"`
	Status           string   `json:"status"`
	ExitCode         int      `json:"exit_code"`
	FailedPhase      string   `json:"failed_phase,omitempty"`
	Error            string   `json:"error,omitempty"`
	Started          string   `json:"started"`
	DurationSeconds  int64    `json:"duration_seconds"`
	Accounts         []string `json:"accounts"`
	Migrated         int      `json:"migrated"`
	BytesTransferred int64    `json:"bytes_transferred"`
	Warnings         int      `json:"warnings"`
	Errors           int      `json:"errors"`
}

type slackPayload struct {
	Text string `json:"text"`
}

func (w *WebhookNotifier) payload(s *RunSummary) interface{} {
	if strings.EqualFold(w.cfg.Format, FormatSlack) {
		return slackPayload{Text: Headline(s)}
	}
	accounts := s.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	return genericPayload{
		Event:            "migration.finished",
		RunID:            s.RunID,
		Version:          s.Version,
		Source:           s.Hostname,
		Destination:      s.Destination,
		Status:           s.Status.String(),
		ExitCode:         s.ExitCode,
		FailedPhase:      s.FailedPhase,
		Error:            s.Error,
		Started:          s.Started.UTC().Format(time.RFC3339),
		DurationSeconds:  int64(s.Duration.Round(time.Second) / time.Second),
		Accounts:         accounts,
		Migrated:         s.Migrated,
		BytesTransferred: s.BytesTransferred,
		Warnings:         s.Warnings,
		Errors:           s.Errors,
	}
}

// Headline is the one-line human summary used by chat formats.
func Headline(s *RunSummary) string {
	dest := s.Destination
	if dest == "" {
		dest = "destination"
	}
	line := fmt.Sprintf("[%s] migration %s -> %s: %d/%d accounts, %s in %s",
		strings.ToUpper(s.Status.String()), s.Hostname, dest, s.Migrated, len(s.Accounts),
		humanize.IBytes(uint64(s.BytesTransferred)), s.Duration.Round(time.Second))
	if s.FailedPhase != "" {
		line += fmt.Sprintf(" (failed in %s, exit %d)", s.FailedPhase, s.ExitCode)
	}
	return line
}

// maskURL keeps scheme and host only; paths and queries often carry tokens.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "***INVALID_URL***"
	}
	masked := parsed.Scheme + "://" + parsed.Host
	if parsed.Path != "" && parsed.Path != "/" {
		masked += "/***MASKED***"
	}
	if parsed.RawQuery != "" {
		masked += "?***MASKED***"
	}
	return masked
}

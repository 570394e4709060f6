// Package notify delivers verification and invite emails.
//
// Delivery happens after the owning transaction commits. Dispatcher bounds
// each send with its own timeout, detached from the request, and swallows
// failures after logging and counting them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"hearth/cmd/internal/metrics"
)

// ErrInvalidRecipient is returned for empty or header-unsafe addresses.
var ErrInvalidRecipient = errors.New("invalid recipient")

// Invitation is the payload of an invite email.
type Invitation struct {
	To          string
	Code        string
	FamilyName  string
	InviterName string
}

// Notifier sends outbound mail.
type Notifier interface {
	SendVerification(ctx context.Context, to, token string) error
	SendInvite(ctx context.Context, inv Invitation) error
}

// Links builds the URLs placed in emails.
type Links struct {
	BaseURL string
}

// Verify returns the email-verification link for token.
func (l Links) Verify(token string) string {
	return l.base() + "/verify-email?token=" + url.QueryEscape(token)
}

// Join returns the invite landing link for code.
func (l Links) Join(code string) string {
	return l.base() + "/join?code=" + url.QueryEscape(code)
}

func (l Links) base() string {
	b := strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	if b == "" {
		return "http://localhost:8080"
	}
	return b
}

func checkRecipient(to string) error {
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return ErrInvalidRecipient
	}
	return nil
}

// DefaultDispatchTimeout bounds a single after-commit send.
const DefaultDispatchTimeout = 10 * time.Second

// Dispatcher runs notifier calls after commit. A nil *Dispatcher drops everything.
type Dispatcher struct {
	n       Notifier
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultDispatchTimeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithMetrics counts failures.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(x *Dispatcher) { x.metrics = m }
}

// NewDispatcher wraps n. A nil logger uses slog.Default().
func NewDispatcher(n Notifier, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{n: n, log: log, timeout: DefaultDispatchTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Verification sends a verification email. Errors are logged and counted, never returned.
func (d *Dispatcher) Verification(ctx context.Context, to, token string) {
	if d == nil || d.n == nil {
		return
	}
	d.run(ctx, "verification", func(ctx context.Context) error {
		return d.n.SendVerification(ctx, to, token)
	})
}

// Invite sends an invite email. Errors are logged and counted, never returned.
func (d *Dispatcher) Invite(ctx context.Context, inv Invitation) {
	if d == nil || d.n == nil {
		return
	}
	d.run(ctx, "invite", func(ctx context.Context) error {
		return d.n.SendInvite(ctx, inv)
	})
}

func (d *Dispatcher) run(parent context.Context, kind string, fn func(context.Context) error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		d.metrics.NotifyFailed(kind)
		d.log.Warn("notify."+kind+".fail", "err", err)
		return
	}
	d.log.Debug("notify." + kind + ".ok")
}

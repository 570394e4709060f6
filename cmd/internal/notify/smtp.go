package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Links    Links
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPNotifier validates cfg and constructs an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host required")
	}
	if err := checkRecipient(cfg.From); err != nil {
		return nil, fmt.Errorf("notify: smtp from: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

func (n *SMTPNotifier) SendVerification(ctx context.Context, to, token string) error {
	body := "Welcome to Hearth.\r\n\r\n" +
		"Confirm your email address within 24 hours:\r\n" +
		n.cfg.Links.Verify(token) + "\r\n"
	return n.send(ctx, to, "Confirm your email", body)
}

func (n *SMTPNotifier) SendInvite(ctx context.Context, inv Invitation) error {
	who := strings.TrimSpace(inv.InviterName)
	if who == "" {
		who = "A family member"
	}
	family := strings.TrimSpace(inv.FamilyName)
	if family == "" {
		family = "their family"
	}
	body := fmt.Sprintf("%s invited you to join %s on Hearth.\r\n\r\n", who, family) +
		"Your invite code: " + inv.Code + "\r\n" +
		n.cfg.Links.Join(inv.Code) + "\r\n"
	return n.send(ctx, inv.To, "You're invited to "+family, body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("notify: invalid subject")
	}

	msg := n.compose(to, subject, body)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	// net/smtp has no context support; the send continues in the background if ctx ends first.
	done := make(chan error, 1)
	go func() { done <- n.sendMail(addr, auth, n.cfg.From, []string{to}, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *SMTPNotifier) compose(to, subject, body string) []byte {
	domain := n.cfg.Host
	if at := strings.LastIndexByte(n.cfg.From, '@'); at >= 0 {
		domain = n.cfg.From[at+1:]
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

var _ Notifier = (*SMTPNotifier)(nil)

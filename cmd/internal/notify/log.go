package notify

import (
	"context"
	"log/slog"
	"strings"
)

// LogNotifier writes notifications to the log instead of sending mail.
// Links are included only when revealLinks is set, for local development.
type LogNotifier struct {
	log         *slog.Logger
	links       Links
	revealLinks bool
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *slog.Logger, links Links, revealLinks bool) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log, links: links, revealLinks: revealLinks}
}

func (n *LogNotifier) SendVerification(ctx context.Context, to, token string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	attrs := []any{"to", maskEmail(to)}
	if n.revealLinks {
		attrs = append(attrs, "link", n.links.Verify(token))
	}
	n.log.InfoContext(ctx, "notify.verification.logged", attrs...)
	return nil
}

func (n *LogNotifier) SendInvite(ctx context.Context, inv Invitation) error {
	if err := checkRecipient(inv.To); err != nil {
		return err
	}
	attrs := []any{"to", maskEmail(inv.To), "family", inv.FamilyName}
	if n.revealLinks {
		attrs = append(attrs, "link", n.links.Join(inv.Code))
	}
	n.log.InfoContext(ctx, "notify.invite.logged", attrs...)
	return nil
}

// maskEmail keeps the first local-part rune and the domain: a***@example.com.
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	r := []rune(email[:at])
	return string(r[0]) + "***" + email[at:]
}

var _ Notifier = (*LogNotifier)(nil)

package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"hearth/cmd/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	t.Parallel()

	l := Links{BaseURL: "https://hearth.example/ "}
	assert.Equal(t, "https://hearth.example/verify-email?token=abc_-", l.Verify("abc_-"))
	assert.Equal(t, "https://hearth.example/join?code=INV-AAAA-BBBB-CCCC", l.Join("INV-AAAA-BBBB-CCCC"))
	assert.Equal(t, "http://localhost:8080/join?code=x", Links{}.Join("x"))
}

func TestDispatcher_SwallowsAndLogsFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := &Recorder{Fail: errors.New("smtp down")}
	d := NewDispatcher(rec, log, WithMetrics(metrics.New(prometheus.NewRegistry())))

	d.Verification(context.Background(), "a@example.com", "tok")
	d.Invite(context.Background(), Invitation{To: "b@example.com", Code: "c"})

	out := buf.String()
	assert.Contains(t, out, "notify.verification.fail")
	assert.Contains(t, out, "notify.invite.fail")
	assert.NotContains(t, out, "tok\"")
}

func TestDispatcher_DetachedFromCanceledRequest(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	d := NewDispatcher(rec, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Verification(ctx, "a@example.com", "tok")

	got, ok := rec.Last("verification")
	require.True(t, ok)
	assert.Equal(t, "tok", got.Token)
}

func TestDispatcher_NilSafe(t *testing.T) {
	t.Parallel()

	var d *Dispatcher
	d.Verification(context.Background(), "a@example.com", "t")
	NewDispatcher(nil, nil).Invite(context.Background(), Invitation{})
}

func TestLogNotifier_HidesLinksByDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)), Links{BaseURL: "https://h.example"}, false)
	require.NoError(t, n.SendVerification(context.Background(), "alice@example.com", "SECRET"))
	assert.NotContains(t, buf.String(), "SECRET")
	assert.NotContains(t, buf.String(), "alice@")
	assert.Contains(t, buf.String(), "a***@example.com")

	buf.Reset()
	n = NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)), Links{BaseURL: "https://h.example"}, true)
	require.NoError(t, n.SendInvite(context.Background(), Invitation{To: "bob@example.com", Code: "CODE"}))
	assert.Contains(t, buf.String(), "join?code=CODE")

	assert.ErrorIs(t, n.SendVerification(context.Background(), "x@example.com\r\nBcc: y", "t"), ErrInvalidRecipient)
}

func TestSMTPNotifier_Compose(t *testing.T) {
	t.Parallel()

	n, err := NewSMTPNotifier(SMTPConfig{
		Host:     "smtp.example.com",
		Username: "u",
		Password: "p",
		From:     "hearth@mail.example.com",
		Links:    Links{BaseURL: "https://hearth.example"},
	})
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
	)
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, n.SendInvite(context.Background(), Invitation{
		To: "guest@example.com", Code: "INV-AAAA-BBBB-CCCC", FamilyName: "Smiths", InviterName: "Ann",
	}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"guest@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: You're invited to Smiths\r\n")
	assert.Contains(t, msg, "Message-ID: <")
	assert.Contains(t, msg, "@mail.example.com>\r\n")
	assert.Contains(t, msg, "Ann invited you to join Smiths")
	assert.True(t, strings.Contains(msg, "https://hearth.example/join?code=INV-AAAA-BBBB-CCCC"))

	assert.Error(t, n.SendInvite(context.Background(), Invitation{To: "g@example.com", FamilyName: "Evil\r\nBcc: x"}))
}

func TestSMTPNotifier_ContextDeadline(t *testing.T) {
	t.Parallel()

	n, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"})
	require.NoError(t, err)
	block := make(chan struct{})
	defer close(block)
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.SendVerification(ctx, "b@example.com", "t"), context.DeadlineExceeded)
}

func TestNewSMTPNotifier_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPNotifier(SMTPConfig{From: "a@example.com"})
	assert.Error(t, err)
	_, err = NewSMTPNotifier(SMTPConfig{Host: "h"})
	assert.Error(t, err)
}

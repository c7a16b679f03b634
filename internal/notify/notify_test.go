package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type recordingMailer struct {
	calls int
	err   error
}

func (m *recordingMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	m.calls++
	return m.err
}

func TestNotifierSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mailer := &recordingMailer{err: errors.New("relay down")}
	n := NewNotifier(mailer, []string{"ops@dealer.test"}, logger)

	n.Notify(context.Background(), "Load Dispatch submitted", "LD-1")
	require.Equal(t, 1, mailer.calls)
	require.Contains(t, buf.String(), "relay down")
}

func TestNotifierWithoutRecipientsIsNoop(t *testing.T) {
	mailer := &recordingMailer{}
	NewNotifier(mailer, nil, nil).Notify(context.Background(), "s", "b")
	require.Zero(t, mailer.calls)

	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), "s", "b")
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	var got *mail.Msg
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@odyssey.local"})
	m.deliver = func(ctx context.Context, msg *mail.Msg) error {
		got = msg
		return nil
	}
	err := m.Send(context.Background(), []string{"a@x.test", "b@x.test"}, "Battery\ndiscarded", "Frame FR-1\nBattery BAT-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	rcpts, err := got.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"a@x.test", "b@x.test"}, rcpts)
	require.Equal(t, []string{"Battery discarded"}, got.GetGenHeader(mail.HeaderSubject))

	var raw bytes.Buffer
	_, err = got.WriteTo(&raw)
	require.NoError(t, err)
	msg := raw.String()
	require.Contains(t, msg, "no-reply@odyssey.local")
	require.Contains(t, msg, "text/plain")
	require.True(t, strings.Contains(msg, "Frame FR-1"))

	require.Error(t, m.Send(context.Background(), nil, "s", "b"))
}

func TestSMTPMailerRejectsBadSender(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1025, From: "not an address"})
	m.deliver = func(ctx context.Context, msg *mail.Msg) error {
		t.Fatal("deliver must not run for an invalid sender")
		return nil
	}
	require.Error(t, m.Send(context.Background(), []string{"a@x.test"}, "s", "b"))
}

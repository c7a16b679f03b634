// Package notify delivers best-effort email notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer sends one message to a set of recipients.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host    string
	Port    int
	From    string
	Timeout time.Duration
}

// SMTPMailer delivers mail through an SMTP relay, upgrading to TLS when the
// relay offers STARTTLS.
type SMTPMailer struct {
	cfg     SMTPConfig
	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPMailer constructs the mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	m := &SMTPMailer{cfg: cfg}
	m.deliver = m.dialAndSend
	return m
}

// Send writes a text/plain message.
func (m *SMTPMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return errors.New("notify: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := m.buildMessage(recipients, subject, body)
	if err != nil {
		return err
	}
	return m.deliver(ctx, msg)
}

func (m *SMTPMailer) buildMessage(to []string, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("notify: sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("notify: recipients: %w", err)
	}
	msg.Subject(strings.ReplaceAll(subject, "\n", " "))
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Notifier sends notifications to a fixed recipient list and never fails the
// caller: delivery errors are logged and dropped.
type Notifier struct {
	mailer     Mailer
	recipients []string
	logger     *slog.Logger
}

// NewNotifier wires a Notifier. A nil mailer or empty recipient list turns
// Notify into a no-op.
func NewNotifier(mailer Mailer, recipients []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mailer: mailer, recipients: recipients, logger: logger}
}

// Notify sends subject and body.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	if n == nil || n.mailer == nil || len(n.recipients) == 0 {
		return
	}
	if err := n.mailer.Send(ctx, n.recipients, subject, body); err != nil {
		n.logger.Warn("notification not sent", slog.String("subject", subject), slog.Any("error", err))
	}
}

package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"muistot/api/internal/config"
)

// Transport delivers one rendered mail.
type Transport interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// LogTransport writes mail to the log instead of sending it.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(_ context.Context, to, subject, body string) error {
	t.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("mail")
	return nil
}

type SMTPTransport struct {
	cfg    config.SMTPConfig
	sender string
}

func NewSMTPTransport(cfg config.SMTPConfig, sender string) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, sender: sender}
}

func (t *SMTPTransport) Deliver(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if t.cfg.SSL {
		conn = tls.Client(conn, &tls.Config{ServerName: t.cfg.Host})
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !t.cfg.SSL {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if t.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(t.sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(compose(t.sender, to, subject, body))); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func compose(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

// NewTransport picks the transport named by cfg.Driver.
func NewTransport(cfg config.MailerConfig, logger zerolog.Logger) (Transport, error) {
	switch cfg.Driver {
	case "log":
		return NewLogTransport(logger), nil
	case "smtp":
		return NewSMTPTransport(cfg.SMTP, cfg.Sender), nil
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.Driver)
	}
}

package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer delivers one-time login codes.
type Mailer interface {
	SendOTP(ctx context.Context, toEmail, code string, expiresIn time.Duration) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer sends codes through an SMTP relay that supports STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// LogMailer records that a code was issued without delivering it.
type LogMailer struct{}

// SendOTP implements Mailer. The code itself is never logged.
func (LogMailer) SendOTP(_ context.Context, toEmail, _ string, expiresIn time.Duration) error {
	log.Printf("[Mail] SMTP not configured, skipping code email to %s (expires in %s)", toEmail, expiresIn)
	return nil
}

// SendOTP implements Mailer.
func (m *SMTPMailer) SendOTP(ctx context.Context, toEmail, code string, expiresIn time.Duration) error {
	if strings.ContainsAny(toEmail, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	body := fmt.Sprintf("Your sign-in code is %s\r\n\r\nIt expires in %d minutes. If you did not request it, ignore this email.",
		code, int(expiresIn.Minutes()))

	msg := "From: " + m.cfg.From + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: Your sign-in code\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body

	if err := m.send(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending code email: %w", err)
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers receipts over SMTP with STARTTLS (port 587) or
// implicit TLS (port 465).
type EmailSender struct {
	host      string
	port      int
	auth      smtp.Auth
	from      string
	storeName string
	send      sendMailFunc
}

// NewEmailSender builds an SMTP sender from notification settings.
func NewEmailSender(cfg config.NotificationsConfig, storeName string) (*EmailSender, error) {
	if !cfg.EmailEnabled() {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	s := &EmailSender{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		from:      cfg.FromEmail,
		storeName: storeName,
	}
	if cfg.SMTPUsername != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	if cfg.SMTPPort == 465 {
		s.send = s.sendImplicitTLS
	} else {
		s.send = smtp.SendMail
	}
	return s, nil
}

func (s *EmailSender) Channel() enums.NotificationChannel {
	return enums.NotificationChannelEmail
}

// Send writes one receipt email. net/smtp takes no context; only the
// implicit TLS path bounds its dial.
func (s *EmailSender) Send(ctx context.Context, receipt Receipt) error {
	to := strings.TrimSpace(receipt.Email)
	if to == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := buildMessage(s.from, to, EmailSubject(s.storeName), RenderEmailBody(s.storeName, receipt))
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := s.send(addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var msg bytes.Buffer
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", time.Now().UTC().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
	}
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

func (s *EmailSender) sendImplicitTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

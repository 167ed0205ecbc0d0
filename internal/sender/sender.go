package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
)

// Sender delivers composed messages over SMTP. Mailbox backends without a
// native send API (IMAP, POP3) route outbound mail through it.
type Sender struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// New creates a new SMTP sender.
func New(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *Sender {
	return &Sender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Send delivers raw RFC 5322 bytes from the envelope sender to every
// recipient in to.
func (s *Sender) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("smtp send: no recipients")
	}
	if from == "" {
		from = s.username
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	s.logger.Debug("smtp message delivered", "from", from, "recipients", len(to))
	return client.Quit()
}

func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	tlsConfig := &tls.Config{ServerName: s.host}

	if s.useTLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial %s: %w", addr, err)
		}
		client, err := smtp.NewClient(conn, s.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp new client: %w", err)
		}
		return client, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp new client: %w", err)
	}
	// Upgrade when the server offers it.
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			s.logger.Warn("STARTTLS failed, continuing without TLS", "error", err)
		}
	}
	return client, nil
}

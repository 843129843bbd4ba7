// Package mailer delivers password reset codes.
//
// SMTPSender talks to a real relay (STARTTLS + PLAIN auth on port 587 by
// default). LogSender writes the code to the log instead and is selected when
// no SMTP host is configured, so local runs work without mail credentials.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender dispatches a reset code to an address.
type Sender interface {
	SendOTP(ctx context.Context, to, code string) error
}

const (
	fromName = "Todo App"
	subject  = "Your OTP Code"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPSender creates an SMTPSender. From defaults to Username.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, logger: logger, now: time.Now}
}

// SendOTP delivers code to the given address.
//
// net/smtp has no context support, so the context deadline is applied to the
// underlying connection instead.
func (s *SMTPSender) SendOTP(ctx context.Context, to, code string) error {
	msg, msgID, err := s.buildMessage(to, code)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mailer: dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mailer: smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("mailer: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("mailer: auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mailer: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("mailer: RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mailer: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("mailer: writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailer: finishing message: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Warn("smtp quit failed", slog.String("error", err.Error()))
	}

	s.logger.Info("otp email sent", slog.String("to", to), slog.String("message_id", msgID))
	return nil
}

// buildMessage renders a multipart/alternative message with a plain-text and
// an HTML part, both carrying the code.
func (s *SMTPSender) buildMessage(to, code string) ([]byte, string, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, "", fmt.Errorf("mailer: invalid recipient %q: %w", to, err)
	}

	domain := "localhost"
	if at := strings.LastIndex(s.cfg.From, "@"); at >= 0 {
		domain = s.cfg.From[at+1:]
	}
	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
	boundary := "todo-" + uuid.NewString()
	from := mail.Address{Name: fromName, Address: s.cfg.From}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", msgID)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	writePart(&b, boundary, "text/plain", "Your OTP Code is: "+code)
	writePart(&b, boundary, "text/html", "<b>Your OTP Code is: "+code+"</b>")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.Bytes(), msgID, nil
}

func writePart(b *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(b, "--%s\r\n", boundary)
	fmt.Fprintf(b, "Content-Type: %s; charset=utf-8\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(b)
	_, _ = qp.Write([]byte(body))
	_ = qp.Close()
	b.WriteString("\r\n")
}

// LogSender logs reset codes instead of mailing them. Development only: the
// code is logged at Debug so it doesn't leak into production logs at Info.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendOTP(ctx context.Context, to, code string) error {
	s.logger.Info("otp email not sent: no SMTP host configured", slog.String("to", to))
	s.logger.Debug("otp code", slog.String("to", to), slog.String("otp", code))
	return nil
}

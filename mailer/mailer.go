// Package mailer delivers account notifications.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	auth "github.com/goliatone/go-credentials"
	goerrors "github.com/goliatone/go-errors"
)

// LogSink writes notifications to a logger instead of sending them.
// Useful in development where the links are read from the console.
type LogSink struct {
	logger auth.Logger
}

// NewLogSink returns a LogSink, a nil logger uses the package default
func NewLogSink(logger auth.Logger) *LogSink {
	_, logger = auth.ResolveLogger("mailer.log", nil, logger)
	return &LogSink{logger: logger}
}

// Send implements auth.NotificationSink
func (s *LogSink) Send(ctx context.Context, n auth.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithContext(ctx).Info("notification",
		"kind", n.Kind,
		"to", n.Recipient,
		"subject", n.Subject,
		"text", n.Text,
	)
	return nil
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig configures an SMTPSink
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

// SMTPSink delivers notifications over SMTP
type SMTPSink struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send SendFunc
	now  func() time.Time
}

// SMTPOption configures an SMTPSink
type SMTPOption func(*SMTPSink)

// WithSendFunc replaces smtp.SendMail
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(s *SMTPSink) {
		if fn != nil {
			s.send = fn
		}
	}
}

// WithSMTPClock sets the clock used for the Date header
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSink) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSMTPSink returns an SMTPSink. PLAIN auth is used when a username is set.
func NewSMTPSink(cfg SMTPConfig, opts ...SMTPOption) (*SMTPSink, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid smtp address").
			WithMetadata(map[string]any{"addr": cfg.Addr})
	}
	if cfg.From == "" {
		return nil, goerrors.New("smtp sender address is required", goerrors.CategoryBadInput)
	}

	s := &SMTPSink{
		cfg:  cfg,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send implements auth.NotificationSink. smtp.SendMail takes no context so
// the call runs in a goroutine and is abandoned when ctx is done.
func (s *SMTPSink) Send(ctx context.Context, n auth.Notification) error {
	msg, err := s.Compose(n)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.cfg.Addr, s.auth, s.cfg.From, []string{n.Recipient}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp delivery failed").
				WithMetadata(map[string]any{"kind": string(n.Kind)})
		}
		return nil
	}
}

// Compose builds the MIME message for n. When a text part is present the
// message is multipart/alternative.
func (s *SMTPSink) Compose(n auth.Notification) ([]byte, error) {
	if strings.ContainsAny(n.Recipient, "\r\n") {
		return nil, goerrors.New("invalid recipient", goerrors.CategoryBadInput)
	}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", s.cfg.From)
	header("To", n.Recipient)
	header("Subject", mime.QEncoding.Encode("utf-8", n.Subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if n.Text == "" {
		header("Content-Type", `text/html; charset="utf-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(n.Body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	for _, part := range []struct{ ctype, body string }{
		{`text/plain; charset="utf-8"`, n.Text},
		{`text/html; charset="utf-8"`, n.Body},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package mailer_test

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/mailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	infos []string
}

func (l *recordingLogger) Trace(string, ...any) {}
func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(msg string, args ...any) {
	l.infos = append(l.infos, msg)
}
func (l *recordingLogger) Warn(string, ...any)                     {}
func (l *recordingLogger) Error(string, ...any)                    {}
func (l *recordingLogger) Fatal(string, ...any)                    {}
func (l *recordingLogger) WithContext(context.Context) auth.Logger { return l }

func notification() auth.Notification {
	return auth.Notification{
		Kind:      auth.NotificationVerifyEmail,
		Recipient: "alice@example.com",
		Subject:   "Please verify your email",
		Body:      "<a href=\"http://x/verify\">verify</a>",
		Text:      "verify at http://x/verify",
	}
}

func TestLogSinkLogsNotification(t *testing.T) {
	logger := &recordingLogger{}
	sink := mailer.NewLogSink(logger)

	require.NoError(t, sink.Send(context.Background(), notification()))
	assert.Equal(t, []string{"notification"}, logger.infos)
}

func TestLogSinkHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mailer.NewLogSink(&recordingLogger{}).Send(ctx, notification())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSMTPSinkValidatesConfig(t *testing.T) {
	_, err := mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "no-port", From: "a@b.c"})
	require.Error(t, err)

	_, err = mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "localhost:25"})
	require.Error(t, err)
}

func TestSMTPSinkSendsMultipartMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	send := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{
		Addr: "localhost:2525",
		From: "no-reply@example.com",
	}, mailer.WithSendFunc(send), mailer.WithSMTPClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), notification()))

	assert.Equal(t, "localhost:2525", gotAddr)
	assert.Equal(t, "no-reply@example.com", gotFrom)
	assert.Equal(t, []string{"alice@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "multipart/alternative")
	assert.Contains(t, gotMsg, "verify at http://x/verify")
	assert.Contains(t, gotMsg, "Date: "+fixed.Format(time.RFC1123Z))
}

func TestSMTPSinkHTMLOnly(t *testing.T) {
	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "localhost:25", From: "a@b.c"})
	require.NoError(t, err)

	n := notification()
	n.Text = ""
	msg, err := sink.Compose(n)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(msg), `Content-Type: text/html; charset="utf-8"`))
	assert.NotContains(t, string(msg), "multipart")
}

func TestSMTPSinkRejectsHeaderInjection(t *testing.T) {
	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "localhost:25", From: "a@b.c"})
	require.NoError(t, err)

	n := notification()
	n.Recipient = "alice@example.com\r\nBcc: eve@example.com"
	_, err = sink.Compose(n)
	require.Error(t, err)
}

func TestSMTPSinkWrapsDeliveryError(t *testing.T) {
	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "localhost:25", From: "a@b.c"},
		mailer.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		}))
	require.NoError(t, err)

	err = sink.Send(context.Background(), notification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp delivery failed")
}

func TestSMTPSinkAbandonsOnTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	sink, err := mailer.NewSMTPSink(mailer.SMTPConfig{Addr: "localhost:25", From: "a@b.c"},
		mailer.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			<-block
			return nil
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = sink.Send(ctx, notification())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

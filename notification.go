package auth

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
)

// NotificationKind names the message being delivered
type NotificationKind string

const (
	NotificationVerifyEmail   NotificationKind = "verify_email"
	NotificationResetPassword NotificationKind = "reset_password"
)

// DefaultNotificationTimeout bounds a single delivery attempt
const DefaultNotificationTimeout = 5 * time.Second

// Notification is a rendered message ready for out of band delivery
type Notification struct {
	Kind      NotificationKind
	Recipient string
	Subject   string
	Body      string
	Text      string
}

// NotificationSink delivers rendered messages
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(ctx context.Context, n Notification) error

// Send implements NotificationSink.
func (f NotificationSinkFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// NotificationRenderer turns a kind and its data into a message
type NotificationRenderer interface {
	Render(kind NotificationKind, data map[string]any) (subject, body, text string, err error)
}

// TemplateRenderer renders notifications from pongo2 templates named
// <kind>.html and <kind>.txt.
type TemplateRenderer struct {
	fsys     fs.FS
	dir      string
	appName  string
	subjects map[NotificationKind]string

	mu    sync.Mutex
	cache map[string]*pongo2.Template
}

// NewTemplateRenderer loads templates from dir inside fsys, a nil fsys uses
// the embedded defaults.
func NewTemplateRenderer(fsys fs.FS, dir, appName string) *TemplateRenderer {
	if fsys == nil {
		fsys = GetEmailTemplatesFS()
		dir = EmailTemplatesDir
	}
	if appName == "" {
		appName = "Credentials"
	}
	return &TemplateRenderer{
		fsys:    fsys,
		dir:     dir,
		appName: appName,
		subjects: map[NotificationKind]string{
			NotificationVerifyEmail:   "Please verify your email",
			NotificationResetPassword: "Password reset request",
		},
		cache: map[string]*pongo2.Template{},
	}
}

// Render implements NotificationRenderer. The text part is optional.
func (r *TemplateRenderer) Render(kind NotificationKind, data map[string]any) (string, string, string, error) {
	ctx := pongo2.Context(TemplateHelpers(r.appName))
	for k, v := range data {
		ctx[k] = v
	}

	body, err := r.execute(string(kind)+".html", ctx)
	if err != nil {
		return "", "", "", err
	}

	text, err := r.execute(string(kind)+".txt", ctx)
	if err != nil && !isMissingTemplate(err) {
		return "", "", "", err
	}

	subject := r.subjects[kind]
	if subject == "" {
		subject = strings.ReplaceAll(string(kind), "_", " ")
	}
	return subject, body, text, nil
}

func (r *TemplateRenderer) execute(name string, ctx pongo2.Context) (string, error) {
	tpl, err := r.template(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

func (r *TemplateRenderer) template(name string) (*pongo2.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl, ok := r.cache[name]; ok {
		return tpl, nil
	}

	raw, err := fs.ReadFile(r.fsys, path.Join(r.dir, name))
	if err != nil {
		return nil, missingTemplateError{name: name, err: err}
	}

	tpl, err := pongo2.FromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	r.cache[name] = tpl
	return tpl, nil
}

type missingTemplateError struct {
	name string
	err  error
}

func (e missingTemplateError) Error() string { return "template " + e.name + ": " + e.err.Error() }
func (e missingTemplateError) Unwrap() error { return e.err }

func isMissingTemplate(err error) bool {
	_, ok := err.(missingTemplateError)
	return ok
}

// Notifier renders and delivers account notifications. Delivery failures
// never undo the state change that triggered them: they are logged, recorded
// as activity and returned to the caller to surface.
type Notifier struct {
	sink     NotificationSink
	renderer NotificationRenderer
	baseURL  string
	timeout  time.Duration
	activity activityRecorder
	logger   Logger
}

// NotifierConfig configures a Notifier
type NotifierConfig struct {
	Sink          NotificationSink
	Renderer      NotificationRenderer
	PublicBaseURL string
	Timeout       time.Duration
	ActivitySink  ActivitySink
	Logger        Logger
	Now           func() time.Time
}

// NewNotifier returns a Notifier, a nil sink drops messages
func NewNotifier(cfg NotifierConfig) *Notifier {
	_, logger := ResolveLogger("auth.notifications", nil, cfg.Logger)

	n := &Notifier{
		sink:     cfg.Sink,
		renderer: cfg.Renderer,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		timeout:  cfg.Timeout,
		activity: newActivityRecorder(cfg.ActivitySink, logger, cfg.Now),
		logger:   logger,
	}
	if n.sink == nil {
		n.sink = NotificationSinkFunc(func(context.Context, Notification) error { return nil })
	}
	if n.renderer == nil {
		n.renderer = NewTemplateRenderer(nil, "", "")
	}
	if n.timeout <= 0 {
		n.timeout = DefaultNotificationTimeout
	}
	return n
}

// VerificationLink is the public link carrying an unhashed verification token
func (n *Notifier) VerificationLink(token string) string {
	return n.baseURL + "/api/v1/users/verify-email/" + token
}

// ResetLink is the public link carrying an unhashed password reset token
func (n *Notifier) ResetLink(token string) string {
	return n.baseURL + "/api/v1/users/reset-password/" + token
}

// SendVerification delivers the verification link for token to user
func (n *Notifier) SendVerification(ctx context.Context, user *User, token string, ttl time.Duration) error {
	return n.deliver(ctx, NotificationVerifyEmail, user, n.VerificationLink(token), ttl)
}

// SendPasswordReset delivers the reset link for token to user
func (n *Notifier) SendPasswordReset(ctx context.Context, user *User, token string, ttl time.Duration) error {
	return n.deliver(ctx, NotificationResetPassword, user, n.ResetLink(token), ttl)
}

func (n *Notifier) deliver(ctx context.Context, kind NotificationKind, user *User, link string, ttl time.Duration) error {
	data := map[string]any{
		TemplateUserKey: user.Sanitized(),
		"link":          link,
		"ttl":           ttl,
	}

	subject, body, text, err := n.renderer.Render(kind, data)
	if err != nil {
		return n.failure(ctx, kind, user, err)
	}

	// delivery outlives a cancelled request but not the timeout
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	err = n.sink.Send(sendCtx, Notification{
		Kind:      kind,
		Recipient: user.Email,
		Subject:   subject,
		Body:      body,
		Text:      text,
	})
	if err == nil && sendCtx.Err() != nil {
		err = sendCtx.Err()
	}
	if err != nil {
		return n.failure(ctx, kind, user, err)
	}

	n.logger.Debug("notification delivered", "kind", kind, "user_id", user.ID.String())
	return nil
}

func (n *Notifier) failure(ctx context.Context, kind NotificationKind, user *User, err error) error {
	n.logger.Error("notification delivery failed, a manual resend may be needed",
		"kind", kind,
		"user_id", user.ID.String(),
		"error", err,
	)

	n.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventNotificationFailure,
		UserID:    user.ID.String(),
		Actor:     ActorRef{Type: "system"},
		Metadata: map[string]any{
			"kind":  string(kind),
			"error": err.Error(),
		},
	})

	return wrapError(ErrNotificationFailure, err, map[string]any{"kind": string(kind)})
}

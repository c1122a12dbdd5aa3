package auth

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// accountServices are the collaborators shared by every flow handler
type accountServices struct {
	store           CredentialStore
	states          AccountStateMachine
	codec           *TokenCodec
	hasher          PasswordAuthenticator
	notifier        *Notifier
	limiter         AttemptLimiter
	auth            *Auther
	sessions        *SessionIssuer
	activity        activityRecorder
	logger          Logger
	now             func() time.Time
	timeout         time.Duration
	verificationTTL time.Duration
	resetTTL        time.Duration
}

// AccountsOption customizes NewAccounts
type AccountsOption func(*accountsOptions)

type accountsOptions struct {
	now                  func() time.Time
	random               io.Reader
	logger               Logger
	loggerProvider       LoggerProvider
	activitySink         ActivitySink
	notificationSink     NotificationSink
	renderer             NotificationRenderer
	publicBaseURL        string
	notificationTimeout  time.Duration
	limiter              AttemptLimiter
	hasher               PasswordAuthenticator
	verificationTTL      time.Duration
	resetTTL             time.Duration
	operationTimeout     time.Duration
	maxLoginAttempts     int
	loginCoolDown        time.Duration
	revokeOnRefreshReuse bool
	requireVerifiedLogin bool
}

// WithClock sets the clock used by every flow
func WithClock(now func() time.Time) AccountsOption {
	return func(o *accountsOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRandom sets the randomness source of one-time tokens
func WithRandom(r io.Reader) AccountsOption {
	return func(o *accountsOptions) { o.random = r }
}

func WithLogger(logger Logger) AccountsOption {
	return func(o *accountsOptions) { o.logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) AccountsOption {
	return func(o *accountsOptions) { o.loggerProvider = provider }
}

func WithActivitySink(sink ActivitySink) AccountsOption {
	return func(o *accountsOptions) { o.activitySink = sink }
}

func WithNotificationSink(sink NotificationSink) AccountsOption {
	return func(o *accountsOptions) { o.notificationSink = sink }
}

func WithNotificationRenderer(renderer NotificationRenderer) AccountsOption {
	return func(o *accountsOptions) { o.renderer = renderer }
}

// WithPublicBaseURL sets the origin used in emailed links
func WithPublicBaseURL(url string) AccountsOption {
	return func(o *accountsOptions) { o.publicBaseURL = url }
}

func WithNotificationTimeout(timeout time.Duration) AccountsOption {
	return func(o *accountsOptions) { o.notificationTimeout = timeout }
}

// WithAttemptLimiter budgets verification resends and password reset requests
func WithAttemptLimiter(limiter AttemptLimiter) AccountsOption {
	return func(o *accountsOptions) { o.limiter = limiter }
}

func WithPasswordHasher(hasher PasswordAuthenticator) AccountsOption {
	return func(o *accountsOptions) { o.hasher = hasher }
}

// WithTokenTTLs sets the lifetime of verification and reset tokens
func WithTokenTTLs(verification, reset time.Duration) AccountsOption {
	return func(o *accountsOptions) {
		if verification > 0 {
			o.verificationTTL = verification
		}
		if reset > 0 {
			o.resetTTL = reset
		}
	}
}

func WithOperationTimeout(timeout time.Duration) AccountsOption {
	return func(o *accountsOptions) { o.operationTimeout = timeout }
}

// WithLoginLockout sets the failed login budget and window
func WithLoginLockout(maxAttempts int, coolDown time.Duration) AccountsOption {
	return func(o *accountsOptions) {
		o.maxLoginAttempts = maxAttempts
		o.loginCoolDown = coolDown
	}
}

func WithRefreshReuseRevocation(revoke bool) AccountsOption {
	return func(o *accountsOptions) { o.revokeOnRefreshReuse = revoke }
}

func WithVerifiedLoginRequired(required bool) AccountsOption {
	return func(o *accountsOptions) { o.requireVerifiedLogin = required }
}

// OptionsFromConfig maps runtime configuration onto AccountsOptions
func OptionsFromConfig(cfg Config) []AccountsOption {
	return []AccountsOption{
		WithPasswordHasher(BcryptHasher{Cost: cfg.BcryptCost}),
		WithTokenTTLs(cfg.VerificationTTL, cfg.ResetTTL),
		WithOperationTimeout(cfg.OperationTimeout),
		WithNotificationTimeout(cfg.NotificationTimeout),
		WithLoginLockout(cfg.MaxLoginAttempts, cfg.LoginCoolDown),
		WithRefreshReuseRevocation(cfg.RevokeOnRefreshReuse),
		WithVerifiedLoginRequired(cfg.RequireVerifiedLogin),
		WithPublicBaseURL(cfg.PublicBaseURL),
	}
}

// NewTokenServiceFromConfig builds the HS256 token service for cfg
func NewTokenServiceFromConfig(cfg Config, logger Logger) *TokenServiceImpl {
	return NewTokenService(TokenServiceConfig{
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Logger:        logger,
	})
}

// Accounts is the entry point to every account and session flow.
type Accounts struct {
	svc *accountServices

	register       *RegisterUserHandler
	verify         *VerifyEmailHandler
	resend         *ResendEmailVerificationHandler
	login          *LoginHandler
	logout         *LogoutHandler
	refresh        *RefreshAccessTokenHandler
	forgotPassword *InitializePasswordResetHandler
	resetPassword  *FinalizePasswordResetHandler
	changePassword *ChangePasswordHandler
	currentUser    *CurrentUserHandler
}

// NewAccounts wires the flows on top of store and tokens
func NewAccounts(store CredentialStore, tokens TokenService, opts ...AccountsOption) *Accounts {
	o := &accountsOptions{
		now:              time.Now,
		verificationTTL:  DefaultVerificationTTL,
		resetTTL:         DefaultResetTTL,
		operationTimeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	provider, logger := ResolveLogger("auth.accounts", o.loggerProvider, o.logger)
	named := func(name string) Logger {
		_, l := ResolveLogger(name, provider, logger)
		return l
	}

	if o.hasher == nil {
		o.hasher = BcryptHasher{}
	}
	if o.limiter == nil {
		o.limiter = noopLimiter{}
	}

	states := NewAccountStateMachine(store,
		WithStateMachineClock(o.now),
		WithStateMachineActivitySink(o.activitySink),
		WithStateMachineLogger(named("auth.states")),
		WithRequireVerifiedLogin(o.requireVerifiedLogin),
	)

	sessions := NewSessionIssuer(store, tokens,
		WithSessionActivitySink(o.activitySink),
		WithSessionLogger(named("auth.sessions")),
		WithSessionClock(o.now),
		WithRevokeOnRefreshReuse(o.revokeOnRefreshReuse),
	)

	users := NewUserProvider(store, o.hasher).
		WithLoggerProvider(provider).
		WithLockout(o.maxLoginAttempts, o.loginCoolDown).
		WithClock(o.now)

	auther := NewAuthenticator(users, sessions, states, tokens).
		WithLogger(named("auth.authenticator")).
		WithActivitySink(o.activitySink)

	notifier := NewNotifier(NotifierConfig{
		Sink:          o.notificationSink,
		Renderer:      o.renderer,
		PublicBaseURL: o.publicBaseURL,
		Timeout:       o.notificationTimeout,
		ActivitySink:  o.activitySink,
		Logger:        named("auth.notifications"),
		Now:           o.now,
	})

	svc := &accountServices{
		store:           store,
		states:          states,
		codec:           NewTokenCodec(WithTokenRandom(o.random), WithTokenClock(o.now)),
		hasher:          o.hasher,
		notifier:        notifier,
		limiter:         o.limiter,
		auth:            auther,
		sessions:        sessions,
		activity:        newActivityRecorder(o.activitySink, logger, o.now),
		logger:          logger,
		now:             o.now,
		timeout:         o.operationTimeout,
		verificationTTL: o.verificationTTL,
		resetTTL:        o.resetTTL,
	}

	return &Accounts{
		svc:            svc,
		register:       &RegisterUserHandler{svc: svc},
		verify:         &VerifyEmailHandler{svc: svc},
		resend:         &ResendEmailVerificationHandler{svc: svc},
		login:          &LoginHandler{svc: svc},
		logout:         &LogoutHandler{svc: svc},
		refresh:        &RefreshAccessTokenHandler{svc: svc},
		forgotPassword: &InitializePasswordResetHandler{svc: svc},
		resetPassword:  &FinalizePasswordResetHandler{svc: svc},
		changePassword: &ChangePasswordHandler{svc: svc},
		currentUser:    &CurrentUserHandler{svc: svc},
	}
}

// Authenticator exposes login and token validation
func (a *Accounts) Authenticator() *Auther { return a.svc.auth }

// States exposes the account state machine
func (a *Accounts) States() AccountStateMachine { return a.svc.states }

// Status returns the credential state of user
func (a *Accounts) Status(user *User) AccountStatus { return a.svc.states.Status(user) }

// Register creates an unverified account and emails its verification link
func (a *Accounts) Register(ctx context.Context, msg RegisterUserMessage) (*RegisterUserResponse, error) {
	var resp *RegisterUserResponse
	msg.OnResponse = func(r *RegisterUserResponse) { resp = r }
	if err := a.register.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// VerifyEmail consumes an emailed verification token
func (a *Accounts) VerifyEmail(ctx context.Context, token string) (*User, error) {
	var user *User
	msg := VerifyEmailMessage{Token: token, OnResponse: func(r *VerifyEmailResponse) { user = r.User }}
	if err := a.verify.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return user, nil
}

// ResendEmailVerification replaces the verification token of an unverified account
func (a *Accounts) ResendEmailVerification(ctx context.Context, userID uuid.UUID) (*ResendEmailVerificationResponse, error) {
	var resp *ResendEmailVerificationResponse
	msg := ResendEmailVerificationMessage{UserID: userID, OnResponse: func(r *ResendEmailVerificationResponse) { resp = r }}
	if err := a.resend.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// Login verifies credentials and starts a session
func (a *Accounts) Login(ctx context.Context, identifier, password string) (*SessionResponse, error) {
	var resp *SessionResponse
	msg := LoginMessage{Identifier: identifier, Password: password, OnResponse: func(r *SessionResponse) { resp = r }}
	if err := a.login.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// Logout ends the session of the account
func (a *Accounts) Logout(ctx context.Context, userID uuid.UUID) error {
	return a.logout.Execute(ctx, LogoutMessage{UserID: userID})
}

// Refresh rotates a refresh token into a new session
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	var resp *SessionResponse
	msg := RefreshAccessTokenMessage{RefreshToken: refreshToken, OnResponse: func(r *SessionResponse) { resp = r }}
	if err := a.refresh.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// ForgotPassword emails a password reset link
func (a *Accounts) ForgotPassword(ctx context.Context, email string) (*InitializePasswordResetResponse, error) {
	var resp *InitializePasswordResetResponse
	msg := InitializePasswordResetMessage{Email: email, OnResponse: func(r *InitializePasswordResetResponse) { resp = r }}
	if err := a.forgotPassword.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// ResetForgottenPassword consumes a reset token and stores the new password
func (a *Accounts) ResetForgottenPassword(ctx context.Context, token, password string) (*User, error) {
	var user *User
	msg := FinalizePasswordResetMessage{Token: token, Password: password, OnResponse: func(r *FinalizePasswordResetResponse) { user = r.User }}
	if err := a.resetPassword.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangeCurrentPassword replaces the password of an authenticated account
func (a *Accounts) ChangeCurrentPassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	return a.changePassword.Execute(ctx, ChangePasswordMessage{
		UserID:      userID,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
}

// CurrentUser loads an authenticated account
func (a *Accounts) CurrentUser(ctx context.Context, userID uuid.UUID) (*CurrentUserResponse, error) {
	var resp *CurrentUserResponse
	msg := CurrentUserMessage{UserID: userID, OnResponse: func(r *CurrentUserResponse) { resp = r }}
	if err := a.currentUser.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

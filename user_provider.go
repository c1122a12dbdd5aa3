package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// UserTracker is a store we can use to retrieve users and track logins
type UserTracker interface {
	FindByIdentity(ctx context.Context, identity string) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User, attempts int) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// MaxLoginAttempts is the maximun number of failed attempts a user gets
// in a cool down period
const MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
const CoolDownPeriod = 24 * time.Hour

// UserProvider verifies passwords and enforces the login lockout
type UserProvider struct {
	store       UserTracker
	hasher      PasswordAuthenticator
	now         func() time.Time
	maxAttempts int
	coolDown    time.Duration
	logger      Logger
	provider    LoggerProvider
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker, hasher PasswordAuthenticator) *UserProvider {
	loggerProvider, logger := ResolveLogger("auth.user_provider", nil, nil)
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &UserProvider{
		store:       store,
		hasher:      hasher,
		now:         time.Now,
		maxAttempts: MaxLoginAttempts,
		coolDown:    CoolDownPeriod,
		logger:      logger,
		provider:    loggerProvider,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.provider, u.logger = ResolveLogger("auth.user_provider", u.provider, l)
	return u
}

// WithLoggerProvider overrides the logger provider used by the user provider.
func (u *UserProvider) WithLoggerProvider(provider LoggerProvider) *UserProvider {
	u.provider, u.logger = ResolveLogger("auth.user_provider", provider, u.logger)
	return u
}

// WithLockout sets the failed attempt budget and its window, zero values keep defaults
func (u *UserProvider) WithLockout(maxAttempts int, coolDown time.Duration) *UserProvider {
	if maxAttempts > 0 {
		u.maxAttempts = maxAttempts
	}
	if coolDown > 0 {
		u.coolDown = coolDown
	}
	return u
}

// WithClock sets the clock used for the cool down window
func (u *UserProvider) WithClock(now func() time.Time) *UserProvider {
	if now != nil {
		u.now = now
	}
	return u
}

// VerifyIdentity finds the user by username or email and compares the password.
// Unknown identities and wrong passwords both yield ErrInvalidCredentials.
func (u *UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (*User, error) {
	user, err := u.store.FindByIdentity(ctx, identifier)
	if err != nil {
		if IsKind(err, TextCodeNotFound) {
			return nil, newError(ErrInvalidCredentials, nil)
		}
		return nil, err
	}

	now := u.now()
	attempts := user.LoginAttempts
	if user.LoginAttemptAt != nil && IsOutsideThresholdPeriod(now, *user.LoginAttemptAt, u.coolDown) {
		attempts = 0
	}

	//if we have too many attempts in the given window, cool off!
	if attempts >= u.maxAttempts {
		return nil, newError(ErrTooManyAttempts, map[string]any{"user_id": user.ID.String()})
	}

	if err := u.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := u.store.TrackAttemptedLogin(ctx, user, attempts+1); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}
		if IsKind(err, TextCodeInvalidCredentials) {
			return nil, err
		}
		return nil, wrapError(ErrInvalidCredentials, err, nil)
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return user, nil
}

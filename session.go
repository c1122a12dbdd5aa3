package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionIssuer mints access and refresh tokens and keeps a single refresh
// chain per account.
type SessionIssuer struct {
	store         CredentialStore
	tokens        TokenService
	activity      activityRecorder
	logger        Logger
	revokeOnReuse bool
}

// SessionIssuerOption customizes a SessionIssuer
type SessionIssuerOption func(*sessionIssuerOptions)

type sessionIssuerOptions struct {
	sink          ActivitySink
	logger        Logger
	now           func() time.Time
	revokeOnReuse bool
}

// WithSessionActivitySink sets the sink for refresh and logout events
func WithSessionActivitySink(sink ActivitySink) SessionIssuerOption {
	return func(o *sessionIssuerOptions) {
		o.sink = sink
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionIssuerOption {
	return func(o *sessionIssuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSessionClock sets the clock used to stamp activity events
func WithSessionClock(now func() time.Time) SessionIssuerOption {
	return func(o *sessionIssuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRevokeOnRefreshReuse clears the current refresh token when a stale one
// is presented, ending the session of whoever holds the live token.
func WithRevokeOnRefreshReuse(revoke bool) SessionIssuerOption {
	return func(o *sessionIssuerOptions) {
		o.revokeOnReuse = revoke
	}
}

// NewSessionIssuer returns a SessionIssuer
func NewSessionIssuer(store CredentialStore, tokens TokenService, opts ...SessionIssuerOption) *SessionIssuer {
	options := &sessionIssuerOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	_, logger := ResolveLogger("auth.sessions", nil, options.logger)

	return &SessionIssuer{
		store:         store,
		tokens:        tokens,
		activity:      newActivityRecorder(options.sink, logger, options.now),
		logger:        logger,
		revokeOnReuse: options.revokeOnReuse,
	}
}

// IssueAccessToken mints a stateless access token, nothing is stored
func (s *SessionIssuer) IssueAccessToken(ctx context.Context, user *User) (string, *AccessClaims, error) {
	return s.tokens.SignAccessToken(ctx, NewIdentityFromUser(user))
}

// IssueRefreshToken mints a refresh token and replaces the stored one
func (s *SessionIssuer) IssueRefreshToken(ctx context.Context, user *User) (string, *RefreshClaims, error) {
	raw, claims, err := s.tokens.SignRefreshToken(user.ID.String())
	if err != nil {
		return "", nil, err
	}
	if err := s.store.SetRefreshToken(ctx, user.ID, HashToken(raw)); err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Issue starts a new session for user, discarding any previous refresh chain
func (s *SessionIssuer) Issue(ctx context.Context, user *User) (*Session, error) {
	access, accessClaims, err := s.IssueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	refresh, refreshClaims, err := s.IssueRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessClaims.Expires(),
		RefreshTokenExpiresAt: refreshClaims.Expires(),
	}, nil
}

// Rotate exchanges a refresh token for a new session. The swap of the stored
// refresh hash is conditional on the presented token being the current one,
// so two concurrent rotations of the same token cannot both succeed.
func (s *SessionIssuer) Rotate(ctx context.Context, presented string) (*Session, *User, error) {
	claims, err := s.tokens.ValidateRefreshToken(presented)
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, nil, wrapError(ErrTokenInvalidOrExpired, err, nil)
	}

	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if IsKind(err, TextCodeNotFound) {
			return nil, nil, newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "unknown account"})
		}
		return nil, nil, err
	}

	if !user.HasSession() {
		return nil, nil, newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "no active session"})
	}

	next, nextClaims, err := s.tokens.SignRefreshToken(id.String())
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.store.RotateRefreshToken(ctx, id, HashToken(presented), HashToken(next))
	if err != nil {
		if IsKind(err, ErrPreconditionFailed.TextCode) {
			return nil, nil, s.reuseDetected(ctx, user, claims)
		}
		return nil, nil, err
	}

	access, accessClaims, err := s.IssueAccessToken(ctx, updated)
	if err != nil {
		return nil, nil, err
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventRefreshRotated,
		UserID:    id.String(),
	})

	return &Session{
		AccessToken:           access,
		RefreshToken:          next,
		AccessTokenExpiresAt:  accessClaims.Expires(),
		RefreshTokenExpiresAt: nextClaims.Expires(),
	}, updated, nil
}

// Revoke ends the session of the account, any refresh token stops working
func (s *SessionIssuer) Revoke(ctx context.Context, accountID uuid.UUID) error {
	if err := s.store.SetRefreshToken(ctx, accountID, ""); err != nil {
		return err
	}
	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    accountID.String(),
	})
	return nil
}

func (s *SessionIssuer) reuseDetected(ctx context.Context, user *User, claims *RefreshClaims) error {
	s.logger.Warn("refresh token reuse detected",
		"reuse_detected", true,
		"user_id", user.ID.String(),
		"jti", claims.ID,
		"revoked", s.revokeOnReuse,
	)

	if s.revokeOnReuse {
		if err := s.store.SetRefreshToken(ctx, user.ID, ""); err != nil {
			s.logger.Error("failed to revoke session after refresh reuse", "user_id", user.ID.String(), "error", err)
		}
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventRefreshReuseDetected,
		UserID:    user.ID.String(),
		Actor:     ActorRef{Type: "unknown"},
		Metadata: map[string]any{
			"jti":     claims.ID,
			"revoked": s.revokeOnReuse,
		},
	})

	return newError(ErrTokenReuseDetected, map[string]any{"user_id": user.ID.String()})
}

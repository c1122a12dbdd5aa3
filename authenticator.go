package auth

import (
	"context"

	"github.com/google/uuid"
)

// Auther authenticates credentials and manages sessions on top of the
// UserProvider and SessionIssuer.
type Auther struct {
	provider  *UserProvider
	sessions  *SessionIssuer
	states    AccountStateMachine
	validator TokenValidator
	activity  activityRecorder
	logger    Logger
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider *UserProvider, sessions *SessionIssuer, states AccountStateMachine, tokens TokenService) *Auther {
	_, logger := ResolveLogger("auth.authenticator", nil, nil)
	return &Auther{
		provider:  provider,
		sessions:  sessions,
		states:    states,
		validator: AccessTokenValidator(tokens),
		activity:  newActivityRecorder(nil, logger, nil),
		logger:    logger,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
		s.activity.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity.sink = normalizeActivitySink(sink)
	return s
}

// WithTokenValidator sets a custom access token validator.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	if validator != nil {
		s.validator = validator
	}
	return s
}

// Login verifies the password and starts a new session. Unverified accounts
// can log in unless the state machine requires verification.
func (s *Auther) Login(ctx context.Context, identifier, password string) (*Session, *User, error) {
	user, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.logger.Info("login rejected", "identifier", identifier, "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrorKind(err),
		})
		return nil, nil, err
	}

	if err := s.states.EnsureCanLogin(user); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, actorFromUser(user), user.ID.String(), map[string]any{
			"identifier": identifier,
			"error":      ErrorKind(err),
		})
		return nil, nil, err
	}

	session, err := s.sessions.Issue(ctx, user)
	if err != nil {
		s.logger.Error("login failed to issue session", "user_id", user.ID.String(), "error", err)
		return nil, nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorFromUser(user), user.ID.String(), map[string]any{
		"identifier": identifier,
		"verified":   user.EmailVerified,
	})

	return session, user, nil
}

// Logout clears the stored refresh token of the account
func (s *Auther) Logout(ctx context.Context, accountID uuid.UUID) error {
	return s.sessions.Revoke(ctx, accountID)
}

// Refresh rotates a refresh token into a new session
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*Session, *User, error) {
	return s.sessions.Rotate(ctx, refreshToken)
}

// SessionFromToken validates an access token and returns its claims
func (s *Auther) SessionFromToken(raw string) (AuthClaims, error) {
	claims, err := s.validator.Validate(raw)
	if err != nil {
		s.logger.Debug("access token validation failed", "error", err)
		return nil, err
	}
	return claims, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	s.activity.record(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	})
}

func actorFromUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: user.ID.String(), Type: "user"}
}

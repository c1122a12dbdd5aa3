package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// TextCodeInvalidTransition marks ErrInvalidTransition
const TextCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// AccountState is the verification state of an account
type AccountState string

const (
	AccountStateUnverified AccountState = "unverified"
	AccountStateVerified   AccountState = "verified"
)

// AccountStatus is the full credential state of an account at a point in time.
// PasswordResetPending and SessionActive are orthogonal to State.
type AccountStatus struct {
	State                AccountState `json:"state"`
	PasswordResetPending bool         `json:"password_reset_pending"`
	VerificationPending  bool         `json:"verification_pending"`
	SessionActive        bool         `json:"session_active"`
}

// AccountStateMachine governs the legal credential state changes of an account.
type AccountStateMachine interface {
	Status(user *User) AccountStatus
	CanTransition(from, to AccountState) bool
	EnsureCanVerify(user *User) error
	EnsureCanResendVerification(user *User) error
	EnsureCanLogin(user *User) error
	Verify(ctx context.Context, token string) (*User, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithRequireVerifiedLogin blocks login for unverified accounts. Login is
// allowed before verification unless this is enabled.
func WithRequireVerifiedLogin(required bool) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.requireVerifiedLogin = required
	}
}

// NewAccountStateMachine returns the default implementation backed by store.
func NewAccountStateMachine(store CredentialStore, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		store: store,
		transitions: map[AccountState]map[AccountState]struct{}{
			AccountStateUnverified: {
				AccountStateVerified: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	store                CredentialStore
	transitions          map[AccountState]map[AccountState]struct{}
	now                  func() time.Time
	activitySink         ActivitySink
	logger               Logger
	requireVerifiedLogin bool
}

func (sm *accountStateMachine) Status(user *User) AccountStatus {
	if user == nil {
		return AccountStatus{}
	}

	now := sm.now()
	status := AccountStatus{
		State:         stateOf(user),
		SessionActive: user.HasSession(),
	}
	status.PasswordResetPending = user.HasResetToken() && now.Before(user.ResetExpiresAt())
	status.VerificationPending = user.HasVerificationToken() && now.Before(user.VerificationExpiresAt())
	return status
}

func (sm *accountStateMachine) CanTransition(from, to AccountState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) EnsureCanVerify(user *User) error {
	if user == nil {
		return newError(ErrInvalidTransition, map[string]any{
			"reason": "user is nil",
		})
	}

	from := stateOf(user)
	if from == AccountStateVerified {
		return newError(ErrAlreadyVerified, map[string]any{"user_id": user.ID.String()})
	}

	if !sm.CanTransition(from, AccountStateVerified) {
		return newError(ErrInvalidTransition, map[string]any{
			"from": from,
			"to":   AccountStateVerified,
		})
	}
	return nil
}

// EnsureCanResendVerification must pass before a new verification token is minted.
func (sm *accountStateMachine) EnsureCanResendVerification(user *User) error {
	return sm.EnsureCanVerify(user)
}

func (sm *accountStateMachine) EnsureCanLogin(user *User) error {
	if user == nil {
		return newError(ErrInvalidCredentials, nil)
	}
	if sm.requireVerifiedLogin && !user.EmailVerified {
		return newError(ErrInvalidTransition, map[string]any{
			"reason": "email not verified",
		})
	}
	return nil
}

// Verify consumes a verification token. A token that was already consumed
// by a now verified account yields ErrAlreadyVerified, any other miss yields
// ErrTokenInvalidOrExpired.
func (sm *accountStateMachine) Verify(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, newError(ErrTokenInvalidOrExpired, nil)
	}
	hashed := HashToken(token)

	user, err := sm.store.ConsumeVerificationToken(ctx, hashed, sm.now())
	if err == nil {
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventAccountStateChanged,
			UserID:    user.ID.String(),
			FromState: AccountStateUnverified,
			ToState:   AccountStateVerified,
		})
		return user, nil
	}

	if !IsKind(err, TextCodeTokenInvalidOrExpired) {
		return nil, err
	}

	prior, lookupErr := sm.store.FindByConsumedVerificationToken(ctx, hashed)
	if lookupErr != nil {
		if IsKind(lookupErr, TextCodeNotFound) {
			return nil, err
		}
		return nil, lookupErr
	}

	if verifyErr := sm.EnsureCanVerify(prior); verifyErr != nil && IsKind(verifyErr, TextCodeAlreadyVerified) {
		return nil, verifyErr
	}
	return nil, err
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	newActivityRecorder(sm.activitySink, sm.logger, sm.now).record(ctx, event)
}

func stateOf(user *User) AccountState {
	if user != nil && user.EmailVerified {
		return AccountStateVerified
	}
	return AccountStateUnverified
}

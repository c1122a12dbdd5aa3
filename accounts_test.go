package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-credentials"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesUnverifiedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.accounts.Register(ctx, auth.RegisterUserMessage{
		Username: "Alice",
		Email:    "Alice@Example.com",
		Password: testPassword,
		FullName: "Alice Liddell",
	})
	require.NoError(t, err)
	require.NoError(t, resp.NotificationError)

	user := resp.User
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, auth.RoleMember, user.Role)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, env.clock.Now().Add(auth.DefaultVerificationTTL), resp.VerificationExpiresAt)

	require.Equal(t, 1, env.outbox.count())
	token := env.outbox.lastToken(t, auth.NotificationVerifyEmail)
	assert.Len(t, token, 2*auth.MinTokenSize)

	stored := env.reload(t, user.ID)
	assert.Equal(t, auth.HashToken(token), stored.EmailVerificationToken)
	assert.NotEqual(t, token, stored.EmailVerificationToken)
	assert.NotEqual(t, testPassword, stored.PasswordHash)

	assert.Contains(t, env.activity.Types(), auth.ActivityEventUserRegistered)
}

func TestRegisterSendsRenderedLink(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "alice", "alice@example.com")

	env.outbox.mu.Lock()
	msg := env.outbox.sent[0]
	env.outbox.mu.Unlock()

	assert.Equal(t, user.Email, msg.Recipient)
	assert.Equal(t, auth.NotificationVerifyEmail, msg.Kind)
	assert.Contains(t, msg.Body, testBaseURL+"/api/v1/users/verify-email/"+token)
	assert.Contains(t, msg.Text, "20 minutes")
	assert.Contains(t, msg.Text, "Hi alice")
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.Register(context.Background(), auth.RegisterUserMessage{
		Username: "alice2",
		Email:    "ALICE@example.com",
		Password: testPassword,
	})
	requireKind(t, err, auth.TextCodeDuplicateIdentity)

	_, err = env.accounts.Register(context.Background(), auth.RegisterUserMessage{
		Username: "Alice",
		Email:    "other@example.com",
		Password: testPassword,
	})
	requireKind(t, err, auth.TextCodeDuplicateIdentity)
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		msg   auth.RegisterUserMessage
		field string
	}{
		{
			name:  "short username",
			msg:   auth.RegisterUserMessage{Username: "al", Email: "al@example.com", Password: testPassword},
			field: "username",
		},
		{
			name:  "username with symbols",
			msg:   auth.RegisterUserMessage{Username: "al-ice", Email: "al@example.com", Password: testPassword},
			field: "username",
		},
		{
			name:  "invalid email",
			msg:   auth.RegisterUserMessage{Username: "alice", Email: "not-an-email", Password: testPassword},
			field: "email",
		},
		{
			name:  "short password",
			msg:   auth.RegisterUserMessage{Username: "alice", Email: "alice@example.com", Password: "short"},
			field: "password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.Register(context.Background(), tt.msg)
			requireKind(t, err, auth.TextCodeValidationFailed)
			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.Metadata, tt.field)
		})
	}
	assert.Zero(t, env.outbox.count())
}

func TestVerifyEmailScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, token := env.register(t, "alice", "alice@example.com")

	verified, err := env.accounts.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)
	assert.Empty(t, verified.EmailVerificationToken)

	_, err = env.accounts.VerifyEmail(ctx, token)
	requireKind(t, err, auth.TextCodeAlreadyVerified)

	_, err = env.accounts.VerifyEmail(ctx, strings.Repeat("ab", 32))
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	status := env.accounts.Status(env.reload(t, user.ID))
	assert.Equal(t, auth.AccountStateVerified, status.State)
	assert.False(t, status.VerificationPending)

	ev, ok := env.activity.Last(auth.ActivityEventAccountStateChanged)
	require.True(t, ok)
	assert.Equal(t, auth.AccountStateUnverified, ev.FromState)
	assert.Equal(t, auth.AccountStateVerified, ev.ToState)
	assert.Equal(t, user.ID.String(), ev.UserID)
}

func TestVerifyEmailTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "alice", "alice@example.com")

	// expiry is exclusive
	env.clock.Advance(auth.DefaultVerificationTTL)

	_, err := env.accounts.VerifyEmail(context.Background(), token)
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
	assert.False(t, env.reload(t, user.ID).EmailVerified)
}

func TestVerifyEmailEmptyToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.VerifyEmail(context.Background(), "")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
}

func TestResendVerificationReplacesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, first := env.register(t, "alice", "alice@example.com")

	resp, err := env.accounts.ResendEmailVerification(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, resp.NotificationError)

	second := env.outbox.lastToken(t, auth.NotificationVerifyEmail)
	require.NotEqual(t, first, second)

	_, err = env.accounts.VerifyEmail(ctx, first)
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	_, err = env.accounts.VerifyEmail(ctx, second)
	require.NoError(t, err)

	_, err = env.accounts.ResendEmailVerification(ctx, user.ID)
	requireKind(t, err, auth.TextCodeAlreadyVerified)
	assert.Contains(t, env.activity.Types(), auth.ActivityEventVerificationIssued)
}

func TestLoginWhileUnverified(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "alice", "alice@example.com")

	resp, err := env.accounts.Login(context.Background(), "alice@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.NotEmpty(t, resp.Session.AccessToken)
	assert.NotEmpty(t, resp.Session.RefreshToken)
	assert.Equal(t, env.clock.Now().Add(auth.DefaultAccessTokenTTL).Unix(), resp.Session.AccessTokenExpiresAt.Unix())

	stored := env.reload(t, user.ID)
	assert.Equal(t, auth.HashToken(resp.Session.RefreshToken), stored.RefreshToken)
	require.NotNil(t, stored.LoggedInAt)

	claims, err := env.accounts.Authenticator().SessionFromToken(resp.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, string(auth.RoleMember), claims.Role())
}

func TestLoginByUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.Login(context.Background(), "ALICE", testPassword)
	require.NoError(t, err)
}

func TestLoginRequiresVerificationWhenConfigured(t *testing.T) {
	env := newTestEnv(t, auth.WithVerifiedLoginRequired(true))
	_, token := env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.Login(context.Background(), "alice", testPassword)
	require.Error(t, err)
	requireKind(t, err, auth.TextCodeInvalidTransition)

	_, err = env.accounts.VerifyEmail(context.Background(), token)
	require.NoError(t, err)

	_, err = env.accounts.Login(context.Background(), "alice", testPassword)
	require.NoError(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.Login(context.Background(), "nobody@example.com", testPassword)
	requireKind(t, err, auth.TextCodeInvalidCredentials)

	_, err = env.accounts.Login(context.Background(), "alice", "wrong password")
	requireKind(t, err, auth.TextCodeInvalidCredentials)

	ev, ok := env.activity.Last(auth.ActivityEventLoginFailure)
	require.True(t, ok)
	assert.Equal(t, auth.TextCodeInvalidCredentials, ev.Metadata["error"])
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t, auth.WithLoginLockout(3, time.Hour))
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	for i := 0; i < 3; i++ {
		_, err := env.accounts.Login(ctx, "alice", "wrong password")
		requireKind(t, err, auth.TextCodeInvalidCredentials)
	}

	_, err := env.accounts.Login(ctx, "alice", testPassword)
	requireKind(t, err, auth.TextCodeTooManyAttempts)

	env.clock.Advance(time.Hour + time.Second)

	_, err = env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	login, err := env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	r0 := login.Session.RefreshToken

	env.clock.Advance(time.Minute)
	rotated, err := env.accounts.Refresh(ctx, r0)
	require.NoError(t, err)
	r1 := rotated.Session.RefreshToken
	require.NotEqual(t, r0, r1)
	assert.Equal(t, auth.HashToken(r1), env.reload(t, user.ID).RefreshToken)

	env.clock.Advance(time.Minute)
	_, err = env.accounts.Refresh(ctx, r0)
	requireKind(t, err, auth.TextCodeTokenReuseDetected)
	assert.Equal(t, auth.ErrTokenInvalidOrExpired.Message, auth.ErrTokenReuseDetected.Message)

	ev, ok := env.activity.Last(auth.ActivityEventRefreshReuseDetected)
	require.True(t, ok)
	assert.Equal(t, false, ev.Metadata["revoked"])

	// without revocation the live token keeps working
	_, err = env.accounts.Refresh(ctx, r1)
	require.NoError(t, err)
}

func TestRefreshReuseRevokesWhenConfigured(t *testing.T) {
	env := newTestEnv(t, auth.WithRefreshReuseRevocation(true))
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	login, err := env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)

	rotated, err := env.accounts.Refresh(ctx, login.Session.RefreshToken)
	require.NoError(t, err)

	_, err = env.accounts.Refresh(ctx, login.Session.RefreshToken)
	requireKind(t, err, auth.TextCodeTokenReuseDetected)
	assert.Empty(t, env.reload(t, user.ID).RefreshToken)

	_, err = env.accounts.Refresh(ctx, rotated.Session.RefreshToken)
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	login, err := env.accounts.Login(context.Background(), "alice", testPassword)
	require.NoError(t, err)

	_, err = env.accounts.Refresh(context.Background(), login.Session.AccessToken)
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	_, err = env.accounts.Refresh(context.Background(), "")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	login, err := env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.accounts.Logout(ctx, user.ID))
	assert.Empty(t, env.reload(t, user.ID).RefreshToken)

	_, err = env.accounts.Refresh(ctx, login.Session.RefreshToken)
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
	assert.Contains(t, env.activity.Types(), auth.ActivityEventLogout)
}

func TestForgotPasswordTwiceKeepsOnlyLatestToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	first := env.outbox.lastToken(t, auth.NotificationResetPassword)

	resp, err := env.accounts.ForgotPassword(ctx, "Alice@Example.com")
	require.NoError(t, err)
	require.NoError(t, resp.NotificationError)
	second := env.outbox.lastToken(t, auth.NotificationResetPassword)
	require.NotEqual(t, first, second)

	_, err = env.accounts.ResetForgottenPassword(ctx, first, "brand new password")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	updated, err := env.accounts.ResetForgottenPassword(ctx, second, "brand new password")
	require.NoError(t, err)
	assert.Equal(t, user.ID, updated.ID)
	assert.Empty(t, updated.ForgotPasswordToken)
	require.NotNil(t, updated.PasswordChangedAt)

	_, err = env.accounts.ResetForgottenPassword(ctx, second, "another password")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	_, err = env.accounts.Login(ctx, "alice", testPassword)
	requireKind(t, err, auth.TextCodeInvalidCredentials)
	_, err = env.accounts.Login(ctx, "alice", "brand new password")
	require.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.ForgotPassword(context.Background(), "ghost@example.com")
	requireKind(t, err, auth.TextCodeNotFound)
	assert.Zero(t, env.outbox.count())
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t, auth.WithTokenTTLs(0, 5*time.Minute))
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	token := env.outbox.lastToken(t, auth.NotificationResetPassword)

	env.clock.Advance(5 * time.Minute)
	_, err = env.accounts.ResetForgottenPassword(ctx, token, "brand new password")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)
}

func TestChangePasswordClearsPendingReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	resetToken := env.outbox.lastToken(t, auth.NotificationResetPassword)
	assert.True(t, env.accounts.Status(env.reload(t, user.ID)).PasswordResetPending)

	err = env.accounts.ChangeCurrentPassword(ctx, user.ID, "not my password", "brand new password")
	requireKind(t, err, auth.TextCodeInvalidCredentials)

	require.NoError(t, env.accounts.ChangeCurrentPassword(ctx, user.ID, testPassword, "brand new password"))
	assert.False(t, env.accounts.Status(env.reload(t, user.ID)).PasswordResetPending)

	_, err = env.accounts.ResetForgottenPassword(ctx, resetToken, "attacker password")
	requireKind(t, err, auth.TextCodeTokenInvalidOrExpired)

	_, err = env.accounts.Login(ctx, "alice", "brand new password")
	require.NoError(t, err)
	assert.Contains(t, env.activity.Types(), auth.ActivityEventPasswordChanged)
}

func TestNotificationFailureKeepsStateChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.outbox.setFailure(errors.New("smtp down"))

	resp, err := env.accounts.Register(ctx, auth.RegisterUserMessage{
		Username: "alice",
		Email:    "alice@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	requireKind(t, resp.NotificationError, auth.TextCodeNotificationFailure)

	stored := env.reload(t, resp.User.ID)
	assert.True(t, stored.HasVerificationToken())

	ev, ok := env.activity.Last(auth.ActivityEventNotificationFailure)
	require.True(t, ok)
	assert.Equal(t, string(auth.NotificationVerifyEmail), ev.Metadata["kind"])

	env.outbox.setFailure(nil)
	_, err = env.accounts.ResendEmailVerification(ctx, stored.ID)
	require.NoError(t, err)

	_, err = env.accounts.VerifyEmail(ctx, env.outbox.lastToken(t, auth.NotificationVerifyEmail))
	require.NoError(t, err)
}

func TestNotificationTimeoutIsReported(t *testing.T) {
	env := newTestEnv(t,
		auth.WithNotificationTimeout(10*time.Millisecond),
		auth.WithNotificationSink(auth.NotificationSinkFunc(func(ctx context.Context, _ auth.Notification) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)

	resp, err := env.accounts.Register(context.Background(), auth.RegisterUserMessage{
		Username: "alice",
		Email:    "alice@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	requireKind(t, resp.NotificationError, auth.TextCodeNotificationFailure)
	assert.ErrorIs(t, resp.NotificationError, context.DeadlineExceeded)
}

func TestAttemptLimiterBlocksResetRequests(t *testing.T) {
	var keys []string
	limiter := auth.AttemptLimiterFunc(func(_ context.Context, key string) (bool, time.Duration, error) {
		keys = append(keys, key)
		return len(keys) <= 1, 30 * time.Second, nil
	})

	env := newTestEnv(t, auth.WithAttemptLimiter(limiter))
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = env.accounts.ForgotPassword(ctx, "alice@example.com")
	requireKind(t, err, auth.TextCodeTooManyAttempts)
	assert.Equal(t, []string{"reset:alice@example.com", "reset:alice@example.com"}, keys)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(time.Duration), args.Error(2)
}

func TestAttemptLimiterFailsOpen(t *testing.T) {
	limiter := &mockLimiter{}
	env := newTestEnv(t, auth.WithAttemptLimiter(limiter))
	user, _ := env.register(t, "alice", "alice@example.com")

	limiter.On("Allow", mock.Anything, "verify:"+user.ID.String()).
		Return(false, time.Duration(0), errors.New("redis unavailable")).
		Once()

	_, err := env.accounts.ResendEmailVerification(context.Background(), user.ID)
	require.NoError(t, err)
	limiter.AssertExpectations(t)
}

func TestCurrentUserReportsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	resp, err := env.accounts.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStateUnverified, resp.Status.State)
	assert.True(t, resp.Status.VerificationPending)
	assert.False(t, resp.Status.SessionActive)

	_, err = env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)

	resp, err = env.accounts.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, resp.Status.SessionActive)
}

func TestFlowsHonourCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.accounts.Register(ctx, auth.RegisterUserMessage{
		Username: "alice",
		Email:    "alice@example.com",
		Password: testPassword,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.outbox.count())
}

// race fans out n calls of fn and returns the text code of every failure
func race(n int, fn func() error) (successes int, kinds []string) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := fn()

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			kinds = append(kinds, auth.ErrorKind(err))
		}()
	}
	close(start)
	wg.Wait()
	return successes, kinds
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	const callers = 8
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice", "alice@example.com")

	login, err := env.accounts.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	r0 := login.Session.RefreshToken
	env.clock.Advance(time.Minute)

	var (
		mu     sync.Mutex
		winner string
	)
	successes, kinds := race(callers, func() error {
		resp, err := env.accounts.Refresh(ctx, r0)
		if err == nil {
			mu.Lock()
			winner = resp.Session.RefreshToken
			mu.Unlock()
		}
		return err
	})

	assert.Equal(t, 1, successes)
	require.Len(t, kinds, callers-1)
	for _, kind := range kinds {
		assert.Equal(t, auth.TextCodeTokenReuseDetected, kind)
	}
	assert.Equal(t, auth.HashToken(winner), env.reload(t, user.ID).RefreshToken)
}

func TestConcurrentResetConsumesTokenOnce(t *testing.T) {
	const callers = 8
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	_, err := env.accounts.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	token := env.outbox.lastToken(t, auth.NotificationResetPassword)

	successes, kinds := race(callers, func() error {
		_, err := env.accounts.ResetForgottenPassword(ctx, token, "brand new password")
		return err
	})

	assert.Equal(t, 1, successes)
	require.Len(t, kinds, callers-1)
	for _, kind := range kinds {
		assert.Equal(t, auth.TextCodeTokenInvalidOrExpired, kind)
	}

	_, err = env.accounts.Login(ctx, "alice", "brand new password")
	require.NoError(t, err)
}

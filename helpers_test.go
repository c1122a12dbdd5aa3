package auth_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAccessSecret  = "access-secret-0123456789-abcdefghijkl"
	testRefreshSecret = "refresh-secret-0123456789-abcdefghijk"
	testBaseURL       = "https://app.test"
	testPassword      = "correct horse battery"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := persistence.OpenAndMigrate(context.Background(), dsn, auth.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordedActivity struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordedActivity) Record(_ context.Context, ev auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedActivity) Types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *recordedActivity) Last(eventType auth.ActivityEventType) (auth.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType == eventType {
			return r.events[i], true
		}
	}
	return auth.ActivityEvent{}, false
}

type outbox struct {
	mu   sync.Mutex
	sent []auth.Notification
	fail error
}

func (o *outbox) Send(_ context.Context, n auth.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) setFailure(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = err
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

var linkToken = regexp.MustCompile(`/(verify-email|reset-password)/([0-9a-f]+)`)

// lastToken returns the unhashed token carried by the newest message of kind
func (o *outbox) lastToken(t *testing.T, kind auth.NotificationKind) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind != kind {
			continue
		}
		m := linkToken.FindStringSubmatch(o.sent[i].Text)
		require.Len(t, m, 3, "no link in %q", o.sent[i].Text)
		return m[2]
	}
	t.Fatalf("no %s notification sent", kind)
	return ""
}

type testEnv struct {
	clock    *testClock
	db       *bun.DB
	store    auth.CredentialStore
	tokens   *auth.TokenServiceImpl
	accounts *auth.Accounts
	activity *recordedActivity
	outbox   *outbox
}

func newTestEnv(t *testing.T, opts ...auth.AccountsOption) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    newTestClock(),
		db:       newTestDB(t),
		activity: &recordedActivity{},
		outbox:   &outbox{},
	}

	env.store = auth.NewCredentialStore(env.db, auth.WithCredentialStoreClock(env.clock.Now))
	env.tokens = auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		Issuer:        "go-credentials-test",
		Now:           env.clock.Now,
		Logger:        auth.NopLogger(),
	})

	base := []auth.AccountsOption{
		auth.WithClock(env.clock.Now),
		auth.WithRandom(rand.NewChaCha8([32]byte{1, 2, 3})),
		auth.WithLogger(auth.NopLogger()),
		auth.WithPasswordHasher(auth.BcryptHasher{Cost: bcrypt.MinCost}),
		auth.WithActivitySink(env.activity),
		auth.WithNotificationSink(env.outbox),
		auth.WithPublicBaseURL(testBaseURL),
	}
	env.accounts = auth.NewAccounts(env.store, env.tokens, append(base, opts...)...)
	return env
}

// register creates an account and returns it with its verification token
func (e *testEnv) register(t *testing.T, username, email string) (*auth.User, string) {
	t.Helper()

	resp, err := e.accounts.Register(context.Background(), auth.RegisterUserMessage{
		Username: username,
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NoError(t, resp.NotificationError)
	return resp.User, e.outbox.lastToken(t, auth.NotificationVerifyEmail)
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *auth.User {
	t.Helper()
	user, err := e.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

func requireKind(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, auth.ErrorKind(err), "unexpected error: %v", err)
}

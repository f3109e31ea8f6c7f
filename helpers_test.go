package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-tenant-auth"
)

var (
	testAccessSecret  = []byte("access-secret-0123456789-abcdefghij")
	testRefreshSecret = []byte("refresh-secret-0123456789-abcdefghi")
)

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
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

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) ofType(t auth.ActivityEventType) []auth.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []auth.ActivityEvent
	for _, e := range c.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := auth.OpenDB(auth.DatabaseConfig{
		Driver: auth.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = auth.Migrate(context.Background(), db, nil)
	require.NoError(t, err)
	return db
}

func newTestTokens(t *testing.T, clock auth.Clock) *auth.TokenService {
	t.Helper()

	tokens, err := auth.NewTokenService(
		auth.SignerConfig{Secret: testAccessSecret, Issuer: "tenant-auth-test", Audience: "test:access"},
		auth.SignerConfig{Secret: testRefreshSecret, Issuer: "tenant-auth-test", Audience: "test:refresh"},
		auth.WithTokenClock(clock),
	)
	require.NoError(t, err)
	return tokens
}

// testEnv wires every component against an in-memory database
type testEnv struct {
	db         *bun.DB
	repo       auth.RepositoryManager
	clock      *testClock
	tokens     *auth.TokenService
	guard      *auth.FailureGuard
	hasher     *auth.BcryptHasher
	onboarding *auth.Onboarding
	authorizer *auth.Authorizer
	sessions   *auth.Sessions
	sink       *capturingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		db:     newTestDB(t),
		clock:  newTestClock(),
		sink:   &capturingSink{},
		hasher: auth.NewBcryptHasher(bcrypt.MinCost),
	}
	env.repo = auth.NewRepositoryManager(env.db)
	env.tokens = newTestTokens(t, env.clock.Now)
	env.guard = auth.NewFailureGuard(auth.GuardConfig{}, auth.WithGuardClock(env.clock.Now))
	env.onboarding = auth.NewOnboarding(env.repo, env.hasher,
		auth.WithOnboardingClock(env.clock.Now),
		auth.WithOnboardingActivitySink(env.sink),
	)
	env.authorizer = auth.NewAuthorizer(env.repo,
		auth.WithAuthorizerClock(env.clock.Now),
		auth.WithAuthorizerActivitySink(env.sink),
	)
	env.sessions = auth.NewSessions(env.repo, env.tokens, env.guard, env.onboarding, env.hasher,
		auth.WithSessionsClock(env.clock.Now),
		auth.WithSessionsActivitySink(env.sink),
	)
	return env
}

// signupBusiness creates a business and returns the owner's session
func (e *testEnv) signupBusiness(t *testing.T, name, email string) *auth.AuthResult {
	t.Helper()

	res, err := e.sessions.SignupBusiness(context.Background(), auth.SignupBusinessInput{
		Name:       name,
		AdminName:  "Owner of " + name,
		AdminEmail: email,
		Password:   "pw-owner-123",
	})
	require.NoError(t, err)
	return res
}

// inviteAndActivate invites email into the actor's business and completes
// the signup, returning the new user's session
func (e *testEnv) inviteAndActivate(t *testing.T, actor auth.Identity, email string, role auth.BusinessRole) *auth.AuthResult {
	t.Helper()
	ctx := context.Background()

	inv, err := e.onboarding.Invite(ctx, actor, email, role)
	require.NoError(t, err)

	res, err := e.sessions.SignupUser(ctx, inv.InviteToken, "User "+email, "pw-user-1234")
	require.NoError(t, err)
	return res
}

func identityOf(t *testing.T, tokens *auth.TokenService, res *auth.AuthResult) auth.Identity {
	t.Helper()
	claims, err := tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	return claims.Identity()
}

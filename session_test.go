package auth_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
)

func TestSessionsSignupBusinessThenLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.sessions.SignupBusiness(ctx, auth.SignupBusinessInput{
		Name:       " Acme ",
		AdminName:  "Ann",
		AdminEmail: "Ann@Acme.test",
		Password:   "pw-owner-123",
	})
	require.NoError(t, err)

	require.NotNil(t, res.Business)
	assert.Equal(t, "Acme", res.Business.Name)
	assert.Equal(t, res.User.ID, res.Business.OwnerID)
	assert.Equal(t, "ann@acme.test", res.User.Email)
	assert.Equal(t, auth.BusinessRoleOwner, res.User.BusinessRole)
	assert.Equal(t, auth.UserStatusActive, res.User.Status)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	claims, err := env.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Business.ID.String(), claims.BusinessID)
	assert.Equal(t, auth.BusinessRoleOwner, claims.BusinessRole)

	login, err := env.sessions.Login(ctx, "10.0.0.1", "ann@acme.test", "pw-owner-123")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)
	assert.Equal(t, res.Business.ID, login.User.BusinessID)
	assert.Nil(t, login.Business)
	assert.NotEqual(t, res.RefreshToken, login.RefreshToken)

	count, err := env.repo.Credentials().CountForUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "each session keeps its own credential")

	assert.Len(t, env.sink.ofType(auth.ActivityEventBusinessSignup), 1)
	assert.Len(t, env.sink.ofType(auth.ActivityEventLoginSuccess), 1)
}

func TestSessionsSignupBusinessRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.signupBusiness(t, "Acme", "ann@acme.test")

	_, err := env.sessions.SignupBusiness(ctx, auth.SignupBusinessInput{
		Name: "Other", AdminName: "Ann", AdminEmail: " ANN@acme.test", Password: "pw-other-123",
	})
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)

	_, err = env.sessions.SignupBusiness(ctx, auth.SignupBusinessInput{
		Name: "Other", AdminName: "Ann", AdminEmail: "not-an-email", Password: "pw-other-123",
	})
	assert.True(t, goerrors.IsValidation(err))

	_, err = env.sessions.SignupBusiness(ctx, auth.SignupBusinessInput{
		Name: "  ", AdminName: "Ann", AdminEmail: "new@other.test", Password: "pw-other-123",
	})
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.NotEmpty(t, richErr.ValidationErrors)

	exists, err := env.repo.Users().EmailExists(ctx, "new@other.test")
	require.NoError(t, err)
	assert.False(t, exists, "rejected signups write nothing")
}

func TestSessionsLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.signupBusiness(t, "Acme", "ann@acme.test")

	_, err := env.sessions.Login(ctx, "10.0.0.1", "ann@acme.test", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, unknownErr := env.sessions.Login(ctx, "10.0.0.1", "nobody@acme.test", "wrong-password")
	assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
	assert.Equal(t, auth.ErrorKind(err), auth.ErrorKind(unknownErr), "unknown email and wrong password look alike")

	assert.Equal(t, 2, env.guard.Attempts("10.0.0.1"))
	assert.Len(t, env.sink.ofType(auth.ActivityEventLoginFailure), 2)
}

func TestSessionsLoginIsBlockedAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.signupBusiness(t, "Acme", "ann@acme.test")

	for i := 0; i < auth.DefaultGuardMaxAttempts; i++ {
		_, err := env.sessions.Login(ctx, "10.0.0.9", "ann@acme.test", "wrong-password")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	_, err := env.sessions.Login(ctx, "10.0.0.9", "ann@acme.test", "pw-owner-123")
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts, "correct password is rejected while blocked")
	assert.Len(t, env.sink.ofType(auth.ActivityEventLoginBlocked), 1)

	_, err = env.sessions.Login(ctx, "10.0.0.10", "ann@acme.test", "pw-owner-123")
	assert.NoError(t, err, "other clients are unaffected")

	env.clock.Advance(auth.DefaultGuardWindow + time.Second)

	_, err = env.sessions.Login(ctx, "10.0.0.9", "ann@acme.test", "pw-owner-123")
	assert.NoError(t, err)
}

func TestSessionsRefreshUntilLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.signupBusiness(t, "Acme", "ann@acme.test")

	env.clock.Advance(time.Minute)
	access, err := env.sessions.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.AccessToken, access)

	claims, err := env.tokens.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID.String(), claims.UserID())

	_, err = env.sessions.Refresh(ctx, res.RefreshToken)
	assert.NoError(t, err, "refresh tokens are reusable until logout")

	_, err = env.sessions.Refresh(ctx, res.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	require.NoError(t, env.sessions.Logout(ctx, res.RefreshToken))

	_, err = env.sessions.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	assert.NoError(t, env.sessions.Logout(ctx, res.RefreshToken), "logout is idempotent")
	assert.NoError(t, env.sessions.Logout(ctx, "garbage"))
}

func TestSessionsRefreshTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.signupBusiness(t, "Acme", "ann@acme.test")

	env.clock.Advance(auth.DefaultRefreshTokenTTL + time.Second)

	_, err := env.sessions.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestSessionsLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.signupBusiness(t, "Acme", "ann@acme.test")
	second, err := env.sessions.Login(ctx, "10.0.0.1", "ann@acme.test", "pw-owner-123")
	require.NoError(t, err)

	other := env.signupBusiness(t, "Globex", "gil@globex.test")

	n, err := env.sessions.LogoutAll(ctx, res.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, tok := range []string{res.RefreshToken, second.RefreshToken} {
		_, err = env.sessions.Refresh(ctx, tok)
		assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	}

	_, err = env.sessions.Refresh(ctx, other.RefreshToken)
	assert.NoError(t, err, "other users keep their sessions")
}

func TestSessionsSignupUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := identityOf(t, env.tokens, env.signupBusiness(t, "Acme", "ann@acme.test"))
	inv, err := env.onboarding.Invite(ctx, owner, "bob@acme.test", auth.BusinessRoleMember)
	require.NoError(t, err)

	_, err = env.sessions.SignupUser(ctx, inv.InviteToken, "  ", "pw-bob-1234")
	assert.True(t, goerrors.IsValidation(err))

	_, err = env.sessions.SignupUser(ctx, inv.InviteToken, "Bob", "")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)

	_, err = env.sessions.SignupUser(ctx, "not-a-token", "Bob", "pw-bob-1234")
	assert.ErrorIs(t, err, auth.ErrInvalidInviteToken)

	res, err := env.sessions.SignupUser(ctx, inv.InviteToken, "Bob", "pw-bob-1234")
	require.NoError(t, err, "failed attempts leave the invite usable")
	assert.Equal(t, auth.UserStatusActive, res.User.Status)
	assert.Equal(t, owner.BusinessID, res.User.BusinessID)
	assert.Equal(t, auth.BusinessRoleMember, res.User.BusinessRole)

	_, err = env.sessions.SignupUser(ctx, inv.InviteToken, "Bob", "pw-bob-1234")
	assert.ErrorIs(t, err, auth.ErrInvalidInviteToken)

	login, err := env.sessions.Login(ctx, "10.0.0.1", "bob@acme.test", "pw-bob-1234")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)
}

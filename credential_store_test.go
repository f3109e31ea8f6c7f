package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
)

func TestCredentialStoreLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.signupBusiness(t, "Acme", "owner@acme.test")
	store := env.repo.Credentials()

	cred, err := store.Find(ctx, owner.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, owner.User.ID, cred.UserID)
	assert.Equal(t, auth.HashToken(owner.RefreshToken), cred.TokenHash)

	require.NoError(t, store.Save(ctx, owner.User.ID, "second-token"))
	count, err := store.CountForUser(ctx, owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Delete(ctx, owner.RefreshToken))
	_, err = store.Find(ctx, owner.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)

	assert.NoError(t, store.Delete(ctx, owner.RefreshToken), "delete is idempotent")
	assert.NoError(t, store.Delete(ctx, "never-issued"))

	n, err := store.DeleteAllForUserTx(ctx, env.db, owner.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCredentialStoreKeepsOnlyDigests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.signupBusiness(t, "Acme", "owner@acme.test")

	var stored []string
	err := env.db.NewSelect().
		Model((*auth.RefreshCredential)(nil)).
		Column("token_hash").
		Scan(ctx, &stored)
	require.NoError(t, err)

	require.Len(t, stored, 1)
	assert.NotEqual(t, owner.RefreshToken, stored[0])
	assert.Len(t, stored[0], 64)
}

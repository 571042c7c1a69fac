package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chatstream/internal/auth"
	"github.com/suPer8Hu/chatstream/internal/db"
	"github.com/suPer8Hu/chatstream/internal/models"
)

func newTestService(t *testing.T) *auth.Service {
	t.Helper()
	gdb, err := db.Connect("sqlite:file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, &models.User{}))

	svc, err := auth.NewService(gdb, "test-secret", time.Hour, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := auth.NewService(nil, "  ", time.Hour, nil)
	assert.ErrorIs(t, err, auth.ErrSecretRequired)
}

func TestSignupSigninVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Signup(ctx, " Alice@Example.com ", "s3cret!", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	assert.Equal(t, "alice@example.com", res.User.Email)
	require.NotNil(t, res.User.Name)
	assert.Equal(t, "Alice", *res.User.Name)
	assert.NotEqual(t, "s3cret!", res.User.PasswordHash)

	id, err := svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, id.UserID)
	assert.NotEmpty(t, id.TokenID)

	_, err = svc.Signup(ctx, "alice@example.com", "another1", "")
	assert.ErrorIs(t, err, auth.ErrEmailExists)

	login, err := svc.Signin(ctx, "ALICE@example.com", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)

	_, err = svc.Signin(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Signin(ctx, "nobody@example.com", "s3cret!")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	me, err := svc.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)
}

func TestSignup_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "not-an-email", "s3cret!", "")
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = svc.Signup(ctx, "bob@example.com", "123", "")
	assert.ErrorIs(t, err, auth.ErrPasswordTooWeak)
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	foreign, _, err := auth.SignJWT("u1", "other-secret", time.Hour)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, foreign)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	expired, _, err := auth.SignJWT("u1", "test-secret", -time.Minute)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, expired)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSignout_RevokesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Signup(ctx, "carol@example.com", "s3cret!", "")
	require.NoError(t, err)
	id, err := svc.Verify(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Signout(ctx, id))

	_, err = svc.Verify(ctx, res.Token)
	assert.True(t, errors.Is(err, auth.ErrInvalidToken), "revoked token must not verify, got %v", err)

	// a fresh signin still works
	again, err := svc.Signin(ctx, "carol@example.com", "s3cret!")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, again.Token)
	assert.NoError(t, err)
}

func TestMe_UnknownUser(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

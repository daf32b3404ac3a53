package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-secrets/internal/user/repo"
)

func newTestService() (*UserService, *userrepo.MemoryRepo) {
	r := userrepo.NewMemoryRepo()
	return NewUserService(r, BcryptHasher{Cost: bcrypt.MinCost}), r
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, r := newTestService()

	u, err := svc.Register(ctx, " alice@example.com ", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", *u.Username)
	assert.NotEqual(t, "pw1", *u.PasswordHash)
	assert.Nil(t, u.OAuthID)

	_, err = svc.Register(ctx, "alice@example.com", "pw2")
	assert.ErrorIs(t, err, ErrDuplicateUser)
	assert.Equal(t, 1, r.Len())

	// first record unchanged
	_, err = svc.Authenticate(ctx, "alice@example.com", "pw1")
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, "alice@example.com", "pw2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterMissingFields(t *testing.T) {
	svc, r := newTestService()
	_, err := svc.Register(context.Background(), "", "pw")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = svc.Register(context.Background(), "bob", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, 0, r.Len())
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	created, err := svc.Register(ctx, "bob", "correct horse")
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		u, err := svc.Authenticate(ctx, "bob", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, created.ID, u.ID)
	})
	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "bob", "battery staple")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "carol", "correct horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
	t.Run("empty password", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "bob", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticateOAuthOnlyUser(t *testing.T) {
	ctx := context.Background()
	svc, r := newTestService()
	name := "dave"
	// a user row that has a username but no password hash
	require.NoError(t, r.Create(ctx, &entity.User{Username: &name}))

	_, err := svc.Authenticate(ctx, "dave", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestFindOrCreateByOAuthID(t *testing.T) {
	ctx := context.Background()
	svc, r := newTestService()

	u, created, err := svc.FindOrCreateByOAuthID(ctx, "1234567890")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "1234567890", *u.OAuthID)
	assert.False(t, u.HasPassword())

	again, created, err := svc.FindOrCreateByOAuthID(ctx, "1234567890")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, 1, r.Len())

	_, _, err = svc.FindOrCreateByOAuthID(ctx, "")
	assert.Error(t, err)
}

func TestSetSecretOverwrites(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	u, err := svc.Register(ctx, "erin", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.SetSecret(ctx, u.ID, "hello"))
	require.NoError(t, svc.SetSecret(ctx, u.ID, "world"))

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "world", got.SecretValue())

	assert.ErrorIs(t, svc.SetSecret(ctx, "missing", "x"), ErrUserNotFound)
	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

type brokenStore struct{ Store }

var errDown = errors.New("connection refused")

func (brokenStore) GetByUsername(context.Context, string) (*entity.User, error) { return nil, errDown }
func (brokenStore) Create(context.Context, *entity.User) error                  { return errDown }
func (brokenStore) UpdateSecret(context.Context, string, string) error          { return errDown }

func TestStoreFailuresAreDatabaseUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(brokenStore{}, BcryptHasher{Cost: bcrypt.MinCost})

	_, err := svc.Register(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)
	assert.ErrorIs(t, err, errDown)

	_, err = svc.Authenticate(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)

	assert.ErrorIs(t, svc.SetSecret(ctx, "id", "s"), ErrDatabaseUnavailable)
}

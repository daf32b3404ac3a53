package repo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/database"
)

type store interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error)
	UpdateSecret(ctx context.Context, id, secret string) error
}

// suffix keeps integration runs against shared databases independent.
func suffix() string { return time.Now().Format("150405.000000000") }

func runStoreContract(t *testing.T, s store) {
	ctx := context.Background()
	name := "alice-" + suffix()

	t.Run("create and lookup", func(t *testing.T) {
		u := &entity.User{Username: strPtr(name), PasswordHash: strPtr("hash")}
		require.NoError(t, s.Create(ctx, u))
		require.NotEmpty(t, u.ID)

		byName, err := s.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, "hash", *byName.PasswordHash)
		assert.Nil(t, byName.OAuthID)

		byID, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, name, *byID.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		err := s.Create(ctx, &entity.User{Username: strPtr(name), PasswordHash: strPtr("other")})
		assert.ErrorIs(t, err, ErrDuplicate)

		u, err := s.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "hash", *u.PasswordHash)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetByUsername(ctx, "nobody-"+suffix())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetByID(ctx, "missing-"+suffix())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateSecret(ctx, "missing-"+suffix(), "x"), ErrNotFound)
	})

	t.Run("find or create by oauth id", func(t *testing.T) {
		oid := "google-" + suffix()
		first, created, err := s.FindOrCreateByOAuthID(ctx, oid)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, oid, *first.OAuthID)
		assert.Nil(t, first.PasswordHash)

		again, created, err := s.FindOrCreateByOAuthID(ctx, oid)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("secret overwrite", func(t *testing.T) {
		u, err := s.GetByUsername(ctx, name)
		require.NoError(t, err)
		require.NoError(t, s.UpdateSecret(ctx, u.ID, "hello"))
		require.NoError(t, s.UpdateSecret(ctx, u.ID, "world"))
		got, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "world", got.SecretValue())
	})
}

func TestMemoryRepo(t *testing.T) {
	runStoreContract(t, NewMemoryRepo())
}

func TestMemoryRepoConcurrentFindOrCreate(t *testing.T) {
	r := NewMemoryRepo()
	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := r.FindOrCreateByOAuthID(context.Background(), "same")
			assert.NoError(t, err)
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	r := NewMemoryRepo()
	u := &entity.User{Username: strPtr("bob"), PasswordHash: strPtr("h")}
	require.NoError(t, r.Create(context.Background(), u))

	got, err := r.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	*got.Username = "mallory"

	again, err := r.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", *again.Username)
}

func TestPostgresRepo(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	cfg := database.Config{URL: url, MaxConns: 2, Timeout: 5 * time.Second}
	db, err := database.ConnectPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigratePostgres(ctx, db))

	runStoreContract(t, NewUserRepo(db))
}

func TestMongoRepo(t *testing.T) {
	url := os.Getenv("TEST_MONGO_URL")
	if url == "" {
		t.Skip("TEST_MONGO_URL not set")
	}
	ctx := context.Background()
	cfg := database.Config{URL: url, MaxConns: 2, Timeout: 5 * time.Second}
	client, db, err := database.ConnectMongo(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	r := NewMongoRepo(db)
	require.NoError(t, r.EnsureIndexes(ctx))
	runStoreContract(t, r)
}

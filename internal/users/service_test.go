package users

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

var testPasswordConfig = config.PasswordConfig{ArgonMemoryKB: 64, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("entropy exhausted") }

func newTestService(t *testing.T) (Service, *Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo, security.NewHasher(testPasswordConfig))
	require.NoError(t, err)
	return svc, repo
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateUserInput{Username: "testuser", Email: "Test@Example.com", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, "testuser", created.Username)
	assert.Equal(t, "test@example.com", created.Email)

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotEqual(t, "password", stored.PasswordHash)
	ok, err := security.VerifyPassword("password", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserDTOOmitsPasswordHash(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), CreateUserInput{Username: "testuser", Password: "password"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "argon2id")
	assert.NotContains(t, string(raw), "password")
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateUserInput{Username: "ab", Email: "not-an-email", Password: "short"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Contains(t, details, "username")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")

	_, err = svc.Create(context.Background(), CreateUserInput{Username: strings.Repeat("u", MaxUsernameLength+1), Password: "password"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateUserInput{Username: "testuser", Password: "password"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateUserInput{Username: "testuser", Password: "password2"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestCreateUserHasherFailure(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.Open(t)), failingHasher{})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateUserInput{Username: "testuser", Password: "password"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))
}

func TestGetMissingUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 42)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, "user 42 not found", pkgerrors.As(err).Message())
}

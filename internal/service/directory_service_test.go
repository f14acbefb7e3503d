package service

import (
	"context"
	"sync"
	"testing"

	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryService_Setup(t *testing.T) {
	db, cfg := setupTestDB(t)
	cfg.JWT.Secret = ""
	svc := NewDirectoryService(db, cfg)
	ctx := context.Background()

	complete, err := svc.IsSetupComplete(ctx)
	require.NoError(t, err)
	assert.False(t, complete)

	t.Run("Weak password is rejected and nothing is stored", func(t *testing.T) {
		_, err := svc.Setup(ctx, &SetupRequest{Name: "admin", Password: "short"})
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)

		_, err = db.GetSystemConfig(ctx, models.ConfigMasterKey)
		assert.Error(t, err)
	})

	resp, err := svc.Setup(ctx, &SetupRequest{Name: "admin", Email: "admin@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Len(t, resp.MasterKey, 64)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, auth.IsAdmin(resp.User))
	assert.NotEmpty(t, cfg.JWT.Secret, "generated JWT secret is adopted")

	claims, err := auth.ValidateToken(resp.Token, cfg.JWT.Secret, cfg.JWT.Issuer)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)

	masterKey, err := MasterKey(ctx, db)
	require.NoError(t, err)
	assert.Len(t, masterKey, 32)

	t.Run("Second setup conflicts", func(t *testing.T) {
		_, err := svc.Setup(ctx, &SetupRequest{Name: "other", Password: "password123"})
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("JWT secret is reloaded on restart", func(t *testing.T) {
		secret := cfg.JWT.Secret
		cfg.JWT.Secret = ""
		require.NoError(t, svc.LoadJWTSecret(ctx))
		assert.Equal(t, secret, cfg.JWT.Secret)
	})
}

func TestDirectoryService_ConcurrentSetup(t *testing.T) {
	db, cfg := setupTestDB(t)
	svc := NewDirectoryService(db, cfg)
	ctx := context.Background()

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Setup(ctx, &SetupRequest{Name: "admin" + string(rune('a'+i)), Password: "password123"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperror.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	users, err := db.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestDirectoryService_Login(t *testing.T) {
	db, cfg := setupTestDB(t)
	svc := NewDirectoryService(db, cfg)
	ctx := context.Background()

	_, err := svc.Setup(ctx, &SetupRequest{Name: "admin", Password: "password123"})
	require.NoError(t, err)

	t.Run("Valid credentials", func(t *testing.T) {
		token, user, err := svc.Login(ctx, "admin", "password123")
		require.NoError(t, err)
		assert.Equal(t, "admin", user.Name)

		resolved, err := svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, resolved.ID)
		assert.True(t, auth.IsAdmin(resolved))
	})

	t.Run("Wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "admin", "password124")
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("Unknown user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody", "password123")
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("Garbage token", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "not-a-token")
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})
}

func TestDirectoryService_Users(t *testing.T) {
	db, cfg := setupTestDB(t)
	svc := NewDirectoryService(db, cfg)
	admin := adminUser()

	alice, err := svc.ProvisionUser(asUser(admin), &ProvisionUserRequest{
		Name: "alice", Email: "alice@example.com", Password: "password123", Groups: []string{"staff"},
	})
	require.NoError(t, err)
	require.Len(t, alice.Groups, 1)
	assert.Equal(t, "staff", alice.Groups[0].Name)
	bob := createUser(t, db, "bob")

	t.Run("Provision requires admin", func(t *testing.T) {
		_, err := svc.ProvisionUser(asUser(alice), &ProvisionUserRequest{Name: "eve", Password: "password123"})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("Duplicate name conflicts", func(t *testing.T) {
		_, err := svc.ProvisionUser(asUser(admin), &ProvisionUserRequest{Name: "alice", Password: "password123"})
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("Me", func(t *testing.T) {
		me, err := svc.Me(asUser(alice))
		require.NoError(t, err)
		assert.Equal(t, alice.ID, me.ID)

		_, err = svc.Me(context.Background())
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("GetUser", func(t *testing.T) {
		got, err := svc.GetUser(asUser(alice), alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got.Email)

		_, err = svc.GetUser(asUser(alice), bob.ID)
		assert.ErrorIs(t, err, apperror.ErrForbidden)

		_, err = svc.GetUser(asUser(admin), "missing")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("ListUsers", func(t *testing.T) {
		users, err := svc.ListUsers(asUser(admin))
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].Name)

		_, err = svc.ListUsers(asUser(bob))
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})
}

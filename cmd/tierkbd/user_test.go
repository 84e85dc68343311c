package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/tierkb/internal/config"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

func userTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{
			UsersFile: filepath.Join(t.TempDir(), "users.json"),
			Tiers:     []string{"high", "med", "low"},
		},
	}
}

func TestAddUserCreatesVerifiableAccount(t *testing.T) {
	cfg := userTestConfig(t)

	tier, err := addUser(cfg, "alice", "s3cret", "med")
	require.NoError(t, err)
	assert.Equal(t, "med", tier)

	users, err := userstore.Open(cfg.Storage.UsersFile, zaptest.NewLogger(t))
	require.NoError(t, err)
	user := users.Verify("alice", "s3cret")
	require.NotNil(t, user)
	assert.Equal(t, "med", user.AccessLevel)
}

func TestAddUserDefaultsToLeastPrivilegedTier(t *testing.T) {
	cfg := userTestConfig(t)

	tier, err := addUser(cfg, "alice", "s3cret", "")
	require.NoError(t, err)
	assert.Equal(t, "low", tier)
}

func TestAddUserRejectsMissingPassword(t *testing.T) {
	cfg := userTestConfig(t)

	_, err := addUser(cfg, "alice", "", "low")
	assert.Error(t, err)
}

func TestAddUserRejectsUnknownTier(t *testing.T) {
	cfg := userTestConfig(t)

	_, err := addUser(cfg, "alice", "s3cret", "ultra")
	assert.Error(t, err)
}

func TestAddUserRejectsDuplicate(t *testing.T) {
	cfg := userTestConfig(t)

	_, err := addUser(cfg, "alice", "s3cret", "low")
	require.NoError(t, err)

	_, err = addUser(cfg, "alice", "other", "low")
	assert.ErrorIs(t, err, userstore.ErrUserExists)
}

func TestDeleteUserStopsAuthentication(t *testing.T) {
	cfg := userTestConfig(t)

	_, err := addUser(cfg, "alice", "s3cret", "low")
	require.NoError(t, err)

	require.NoError(t, deleteUser(cfg, "alice"))

	users, err := userstore.Open(cfg.Storage.UsersFile, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, users.Get("alice"))
	assert.Nil(t, users.Verify("alice", "s3cret"))
}

func TestDeleteUserAbsentAccount(t *testing.T) {
	cfg := userTestConfig(t)

	err := deleteUser(cfg, "nobody")
	assert.ErrorIs(t, err, userstore.ErrUserNotFound)
}

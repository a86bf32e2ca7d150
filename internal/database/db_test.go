package database

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxytools/chatai/internal/config"
)

func TestGetDSN_EscapesCredentials(t *testing.T) {
	dsn := GetDSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "chat ai",
		Password: "p@ss/w:rd?#",
		Database: "chatai",
		SSLMode:  "disable",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "chat ai", u.User.Username())
	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/w:rd?#", password)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/chatai", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestRollbackMigration(t *testing.T) {
	cfg := config.StorageConfig{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "storage.db"),
	}
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	tableCount := func() int {
		var n int
		require.NoError(t, db.Get(&n, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'client_storage'"))
		return n
	}
	assert.Equal(t, 1, tableCount())

	require.NoError(t, RollbackMigration(cfg))
	assert.Equal(t, 0, tableCount())

	require.NoError(t, RunMigrations(cfg))
	assert.Equal(t, 1, tableCount())
}

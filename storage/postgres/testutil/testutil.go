// Package testutil provides helpers for tests running against a live
// PostgreSQL instance.
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/storage/postgres"
)

// ConnStringEnv names the environment variable holding the CI database.
const ConnStringEnv = "CI_TEST_CONN_STRING"

// SkipIfNoDB skips the test unless a CI database is configured.
func SkipIfNoDB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode")
	}
	if os.Getenv(ConnStringEnv) == "" {
		t.Skipf("skipping test since %s is not set", ConnStringEnv)
	}
}

// MigrationsSource returns the file:// URL of the schema migrations.
func MigrationsSource() string {
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	return "file://" + dir
}

// NewTestClient returns a postgres client used in CI tests.
func NewTestClient(t *testing.T) *postgres.Client {
	SkipIfNoDB(t)
	connString := os.Getenv(ConnStringEnv)
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	client, err := postgres.NewClient(connString, logger)
	require.Nil(t, err, "postgres.NewClient")
	return client
}

// NewMigratedClient returns a client for a freshly wiped and migrated
// database.
func NewMigratedClient(t *testing.T) *postgres.Client {
	client := NewTestClient(t)
	require.NoError(t, client.Wipe(context.Background()), "failed to wipe database")

	m, err := migrate.New(MigrationsSource(), os.Getenv(ConnStringEnv))
	require.NoError(t, err, "migrate.New")
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err, "migrate up")
	}
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)
	return client
}

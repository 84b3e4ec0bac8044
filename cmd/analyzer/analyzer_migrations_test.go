package analyzer_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/cmd/analyzer"
	"github.com/oasisprotocol/nexus-ledger/storage/postgres/testutil"
)

func TestMigrations(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	require.NoError(t, client.Wipe(t.Context()), "failed to wipe database")
	require.NoError(t, analyzer.RunMigrations(testutil.MigrationsSource(), os.Getenv(testutil.ConnStringEnv)), "failed to run migrations")

	// A second run is a no-op.
	require.NoError(t, analyzer.RunMigrations(testutil.MigrationsSource(), os.Getenv(testutil.ConnStringEnv)))
}

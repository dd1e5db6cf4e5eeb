package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenConfiguresWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "plans.db")

	conn, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, VerifyConfiguration(conn))

	var timeout int
	require.NoError(t, conn.Get(&timeout, "PRAGMA busy_timeout"))
	assert.Equal(t, 5000, timeout)
	assert.Equal(t, 1, conn.Stats().MaxOpenConnections)
}

func TestDefaultDBPath(t *testing.T) {
	t.Setenv("SWITCHBOARD_BASE_PATH", "/srv/switchboard")
	path, err := DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/switchboard/storage.db", path)

	home := t.TempDir()
	t.Setenv("SWITCHBOARD_BASE_PATH", "")
	t.Setenv("HOME", home)
	path, err = DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".switchboard", "storage.db"), path)
}

func TestRunFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	defer conn.Close()

	broken := Migration{
		Version:     20261015100000,
		Description: "Half applied",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec("CREATE TABLE scratch (id INTEGER PRIMARY KEY)"); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}

	runner := NewMigrationRunner(conn)
	err = runner.Run(ctx, []Migration{broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 20261015100000: Half applied")

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)

	var tables int
	require.NoError(t, conn.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='scratch'"))
	assert.Zero(t, tables)
}

func TestRollbackEdgeCases(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	defer conn.Close()
	runner := NewMigrationRunner(conn)

	version, err := runner.Rollback(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, version)

	oneWay := Migration{
		Version:     20261015100001,
		Description: "No down",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE one_way (id INTEGER PRIMARY KEY)")
			return err
		},
	}
	require.NoError(t, runner.Run(ctx, []Migration{oneWay}))

	_, err = runner.Rollback(ctx, []Migration{oneWay})
	assert.ErrorContains(t, err, "has no rollback function")

	_, err = runner.Rollback(ctx, nil)
	assert.ErrorContains(t, err, "not found in provided migrations")
}

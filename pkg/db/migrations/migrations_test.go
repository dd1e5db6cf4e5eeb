package migrations

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/db"
)

func columns(t *testing.T, conn *sqlx.DB, table string) []string {
	t.Helper()
	var cols []string
	require.NoError(t, conn.Select(&cols, "SELECT name FROM pragma_table_info(?)", table))
	return cols
}

func tableExists(t *testing.T, conn *sqlx.DB, table string) bool {
	t.Helper()
	var n int
	require.NoError(t, conn.Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table))
	return n == 1
}

func TestAllIsOrderedAndReversible(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	assert.True(t, slices.IsSortedFunc(all, func(a, b db.Migration) int { return int(a.Version - b.Version) }))
	for _, m := range all {
		assert.NotNil(t, m.Down, "migration %d", m.Version)
	}
}

func TestSchema(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenMigrated(ctx, filepath.Join(t.TempDir(), "storage.db"), All())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{
		"id", "parent_id", "agent", "workflow", "task", "outcome_kind", "outcome_code",
		"registry_version", "depth", "data", "created_at", "updated_at",
	}, columns(t, conn, "plans"))
	assert.Equal(t, []string{
		"id", "version", "digest", "agents", "skills", "loaded_at", "recorded_at",
	}, columns(t, conn, "registry_versions"))

	var indexes []string
	require.NoError(t, conn.Select(&indexes, "SELECT name FROM pragma_index_list('plans') WHERE origin = 'c' ORDER BY name"))
	assert.Equal(t, []string{
		"idx_plans_agent", "idx_plans_created_at", "idx_plans_outcome_kind", "idx_plans_parent_id",
	}, indexes)

	statuses, err := db.NewMigrationRunner(conn).Status(ctx, All())
	require.NoError(t, err)
	require.Len(t, statuses, len(All()))
	for _, s := range statuses {
		assert.NotNil(t, s.AppliedAt, "migration %d", s.Version)
	}
}

func TestRollbackNewestAndReapply(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenMigrated(ctx, filepath.Join(t.TempDir(), "storage.db"), All())
	require.NoError(t, err)
	defer conn.Close()
	runner := db.NewMigrationRunner(conn)

	version, err := runner.Rollback(ctx, All())
	require.NoError(t, err)
	assert.Equal(t, int64(20261015090001), version)
	assert.False(t, tableExists(t, conn, "registry_versions"))
	assert.True(t, tableExists(t, conn, "plans"))

	statuses, err := runner.Status(ctx, All())
	require.NoError(t, err)
	assert.NotNil(t, statuses[0].AppliedAt)
	assert.Nil(t, statuses[1].AppliedAt)

	require.NoError(t, runner.Run(ctx, All()))
	assert.True(t, tableExists(t, conn, "registry_versions"))

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20261015090000, 20261015090001}, versions)
}

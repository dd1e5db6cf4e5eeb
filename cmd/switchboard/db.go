package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/db"
	"github.com/jingkaihe/switchboard/pkg/db/migrations"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the sqlite plan store (migrations, status).`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, conn, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		statuses, err := db.NewMigrationRunner(conn).Status(ctx, migrations.All())
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}

		presenter.Section("Database Migration Status")
		presenter.Info(fmt.Sprintf("Database: %s\n", path))

		applied := 0
		for _, s := range statuses {
			mark := "[ ]"
			if s.AppliedAt != nil {
				mark = "[✓]"
				applied++
			}
			presenter.Info(fmt.Sprintf("%s %d - %s", mark, s.Version, s.Description))
		}
		presenter.Info(fmt.Sprintf("\nApplied: %d/%d migrations", applied, len(statuses)))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last database migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		_, conn, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		version, err := db.NewMigrationRunner(conn).Rollback(ctx, migrations.All())
		if err != nil {
			return errors.Wrap(err, "failed to rollback migration")
		}
		if version == 0 {
			presenter.Warning("No migrations to rollback")
			return nil
		}
		presenter.Success(fmt.Sprintf("Successfully rolled back migration %d", version))
		return nil
	},
}

// openDatabase opens the sqlite store without migrating it.
func openDatabase(ctx context.Context) (string, *sqlx.DB, error) {
	if cfg.Store.Backend == planstore.BackendFile {
		return "", nil, errors.New("the file plan store has no database")
	}
	path := cfg.Store.Path
	if path == "" {
		var err error
		if path, err = db.DefaultDBPath(); err != nil {
			return "", nil, err
		}
	}
	conn, err := db.Open(ctx, path)
	return path, conn, err
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}

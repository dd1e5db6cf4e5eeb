package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/db"
)

// Migration20261015090001CreateRegistryVersions records every registry
// snapshot a plan may have been built from.
func Migration20261015090001CreateRegistryVersions() db.Migration {
	return db.Migration{
		Version:     20261015090001,
		Description: "Create registry_versions table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS registry_versions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version INTEGER NOT NULL,
					digest TEXT NOT NULL,
					agents INTEGER NOT NULL,
					skills INTEGER NOT NULL,
					loaded_at DATETIME NOT NULL,
					recorded_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create registry_versions table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS registry_versions")
			return errors.Wrap(err, "failed to drop registry_versions table")
		},
	}
}

package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/db"
)

// Migration20261015090000CreatePlans creates the plans table.
func Migration20261015090000CreatePlans() db.Migration {
	return db.Migration{
		Version:     20261015090000,
		Description: "Create plans table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS plans (
					id TEXT PRIMARY KEY,
					parent_id TEXT,
					agent TEXT NOT NULL,
					workflow TEXT NOT NULL,
					task TEXT NOT NULL,
					outcome_kind TEXT NOT NULL,
					outcome_code TEXT,
					registry_version INTEGER NOT NULL,
					depth INTEGER NOT NULL DEFAULT 0,
					data TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create plans table")
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_plans_created_at ON plans(created_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_plans_agent ON plans(agent)",
				"CREATE INDEX IF NOT EXISTS idx_plans_outcome_kind ON plans(outcome_kind)",
				"CREATE INDEX IF NOT EXISTS idx_plans_parent_id ON plans(parent_id)",
			}
			for _, stmt := range indexes {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to create index: %s", stmt)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS plans")
			return errors.Wrap(err, "failed to drop plans table")
		},
	}
}

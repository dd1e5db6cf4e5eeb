// Package migrations contains the switchboard schema migrations.
// Versions are YYYYMMDDHHmmss timestamps.
package migrations

import (
	"github.com/jingkaihe/switchboard/pkg/db"
)

// All returns every migration in version order. Append new ones here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261015090000CreatePlans(),
		Migration20261015090001CreateRegistryVersions(),
	}
}

// Package planstore persists execution plans and the registry versions they
// were dispatched against. The engine itself keeps no state between calls;
// the CLI and HTTP host save a plan after dispatch and after every run.
package planstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/db"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

// Backends accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// ErrNotFound is returned when no plan has the requested id.
var ErrNotFound = errors.New("plan not found")

// ListOptions filters and paginates List. Results are newest first.
type ListOptions struct {
	Agent    string
	Outcome  plan.OutcomeKind
	ParentID string
	Limit    int
	Offset   int
}

func (o ListOptions) matches(p *plan.ExecutionPlan) bool {
	if o.Agent != "" && p.Agent.Name != o.Agent {
		return false
	}
	if o.Outcome != "" && p.Outcome.Kind != o.Outcome {
		return false
	}
	if o.ParentID != "" && p.ParentID != o.ParentID {
		return false
	}
	return true
}

// RegistryRecord describes one successfully loaded registry snapshot.
type RegistryRecord struct {
	Version    uint64    `json:"version" db:"version"`
	Digest     string    `json:"digest" db:"digest"`
	Agents     int       `json:"agents" db:"agents"`
	Skills     int       `json:"skills" db:"skills"`
	LoadedAt   time.Time `json:"loaded_at" db:"loaded_at"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// RecordOf describes reg for RecordRegistry.
func RecordOf(reg *registry.Registry) RegistryRecord {
	return RegistryRecord{
		Version:  reg.Version(),
		Digest:   reg.Digest(),
		Agents:   len(reg.AllAgents()),
		Skills:   len(reg.AllSkills()),
		LoadedAt: reg.LoadedAt(),
	}
}

// Store persists plans.
type Store interface {
	Save(ctx context.Context, p *plan.ExecutionPlan) error
	Get(ctx context.Context, id string) (*plan.ExecutionPlan, error)
	List(ctx context.Context, opts ListOptions) ([]*plan.ExecutionPlan, error)
	Delete(ctx context.Context, id string) error

	RecordRegistry(ctx context.Context, rec RegistryRecord) error
	Registries(ctx context.Context, limit int) ([]RegistryRecord, error)

	Close() error
}

// Config selects and locates a store.
type Config struct {
	Backend string
	// Path is the database file for sqlite and the directory for file.
	Path string
}

// DefaultPath returns the default location for backend under the
// switchboard base directory.
func DefaultPath(backend string) (string, error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return "", err
	}
	if backend == BackendFile {
		return filepath.Join(filepath.Dir(dbPath), "plans"), nil
	}
	return dbPath, nil
}

// New opens the store described by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}

	path := cfg.Path
	if path == "" {
		var err error
		if path, err = DefaultPath(backend); err != nil {
			return nil, err
		}
	}

	switch backend {
	case BackendSQLite:
		return NewSQLiteStore(ctx, path)
	case BackendFile:
		return NewFileStore(path)
	default:
		return nil, errors.Errorf("unknown store backend %q (want %s or %s)", backend, BackendSQLite, BackendFile)
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func ensureDir(dir string) error {
	return errors.Wrap(os.MkdirAll(dir, 0o755), "failed to create store directory")
}

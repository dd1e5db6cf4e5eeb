package planstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/db"
	"github.com/jingkaihe/switchboard/pkg/db/migrations"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
)

const (
	busyAttempts = 5
	busyDelay    = 50 * time.Millisecond
)

// SQLiteStore keeps plans in the switchboard sqlite database.
type SQLiteStore struct {
	dbPath string
	db     *sqlx.DB
}

// NewSQLiteStore opens dbPath and applies pending migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	conn, err := db.OpenMigrated(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open plan store")
	}
	return &SQLiteStore{dbPath: dbPath, db: conn}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Save inserts or replaces p, preserving its original created_at.
func (s *SQLiteStore) Save(ctx context.Context, p *plan.ExecutionPlan) error {
	row := fromPlan(p)
	query := `
		INSERT INTO plans (
			id, parent_id, agent, workflow, task, outcome_kind, outcome_code,
			registry_version, depth, data, created_at, updated_at
		) VALUES (
			:id, :parent_id, :agent, :workflow, :task, :outcome_kind, :outcome_code,
			:registry_version, :depth, :data, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			outcome_kind = excluded.outcome_kind,
			outcome_code = excluded.outcome_code,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	return s.write(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return errors.Wrapf(err, "failed to save plan %s", p.ID)
	})
}

// Get loads the plan with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*plan.ExecutionPlan, error) {
	var row dbPlan
	err := s.db.GetContext(ctx, &row, "SELECT * FROM plans WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load plan %s", id)
	}
	return row.toPlan()
}

// List returns plans newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*plan.ExecutionPlan, error) {
	var conditions []string
	args := map[string]any{}

	if opts.Agent != "" {
		conditions = append(conditions, "agent = :agent")
		args["agent"] = opts.Agent
	}
	if opts.Outcome != "" {
		conditions = append(conditions, "outcome_kind = :outcome_kind")
		args["outcome_kind"] = string(opts.Outcome)
	}
	if opts.ParentID != "" {
		conditions = append(conditions, "parent_id = :parent_id")
		args["parent_id"] = opts.ParentID
	}

	query := "SELECT * FROM plans"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT :limit"
		args["limit"] = opts.Limit
		if opts.Offset > 0 {
			query += " OFFSET :offset"
			args["offset"] = opts.Offset
		}
	}

	finalQuery, queryArgs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build named query")
	}

	var rows []dbPlan
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(finalQuery), queryArgs...); err != nil {
		return nil, errors.Wrap(err, "failed to list plans")
	}
	if opts.Limit <= 0 && opts.Offset > 0 {
		rows = paginate(rows, 0, opts.Offset)
	}

	plans := make([]*plan.ExecutionPlan, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toPlan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Delete removes the plan with id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
		if err != nil {
			return errors.Wrapf(err, "failed to delete plan %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrap(ErrNotFound, id)
		}
		return nil
	})
}

// RecordRegistry appends rec to the registry history.
func (s *SQLiteStore) RecordRegistry(ctx context.Context, rec RegistryRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	rec.LoadedAt = rec.LoadedAt.UTC()
	return s.write(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO registry_versions (version, digest, agents, skills, loaded_at, recorded_at)
			VALUES (:version, :digest, :agents, :skills, :loaded_at, :recorded_at)
		`, rec)
		return errors.Wrap(err, "failed to record registry version")
	})
}

// Registries returns the most recent registry records, newest first.
func (s *SQLiteStore) Registries(ctx context.Context, limit int) ([]RegistryRecord, error) {
	query := "SELECT version, digest, agents, skills, loaded_at, recorded_at FROM registry_versions ORDER BY id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var records []RegistryRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list registry versions")
	}
	return records, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// write retries op while another process holds the write lock.
func (s *SQLiteStore) write(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.RetryIf(isBusy),
		retry.Attempts(busyAttempts),
		retry.Delay(busyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Debug("database busy, retrying write")
		}),
	)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

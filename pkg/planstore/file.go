package planstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
)

const registryFile = "registry-versions.json"

// FileStore keeps one JSON document per plan in a directory. Every write
// holds an OS file lock, so several switchboard processes can share it.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) planPath(id string) string {
	return filepath.Join(s.dir, "plan-"+id+".json")
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return errors.Errorf("invalid plan id %q", id)
	}
	return nil
}

// Save writes p, keeping the created_at of an existing file.
func (s *FileStore) Save(_ context.Context, p *plan.ExecutionPlan) error {
	if err := validID(p.ID); err != nil {
		return err
	}
	return lockedfile.Transform(s.planPath(p.ID), func(existing []byte) ([]byte, error) {
		out := p
		if len(existing) > 0 {
			var prev plan.ExecutionPlan
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				out = p.Clone()
				out.CreatedAt = prev.CreatedAt
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		return data, errors.Wrapf(err, "failed to marshal plan %s", p.ID)
	})
}

// Get reads the plan with id.
func (s *FileStore) Get(_ context.Context, id string) (*plan.ExecutionPlan, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := lockedfile.Read(s.planPath(id))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", id)
	}

	var p plan.ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "failed to decode plan %s", id)
	}
	return &p, nil
}

// List reads every plan file and returns the matches newest first.
// Unreadable files are logged and skipped.
func (s *FileStore) List(ctx context.Context, opts ListOptions) ([]*plan.ExecutionPlan, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "plan-*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plan files")
	}

	plans := make([]*plan.ExecutionPlan, 0, len(paths))
	for _, path := range paths {
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "plan-"), ".json")
		p, err := s.Get(ctx, id)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("path", path).Warn("skipping unreadable plan file")
			continue
		}
		if opts.matches(p) {
			plans = append(plans, p)
		}
	}

	slices.SortFunc(plans, func(a, b *plan.ExecutionPlan) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(plans, opts.Limit, opts.Offset), nil
}

// Delete removes the plan file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	err := os.Remove(s.planPath(id))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, id)
	}
	return errors.Wrapf(err, "failed to delete plan %s", id)
}

// RecordRegistry appends rec to the registry history file.
func (s *FileStore) RecordRegistry(_ context.Context, rec RegistryRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	return lockedfile.Transform(filepath.Join(s.dir, registryFile), func(data []byte) ([]byte, error) {
		var records []RegistryRecord
		if len(data) > 0 {
			if err := json.Unmarshal(data, &records); err != nil {
				return nil, errors.Wrap(err, "failed to decode registry history")
			}
		}
		records = append(records, rec)
		out, err := json.MarshalIndent(records, "", "  ")
		return out, errors.Wrap(err, "failed to marshal registry history")
	})
}

// Registries returns the most recent registry records, newest first.
func (s *FileStore) Registries(_ context.Context, limit int) ([]RegistryRecord, error) {
	data, err := lockedfile.Read(filepath.Join(s.dir, registryFile))
	if os.IsNotExist(err) {
		return []RegistryRecord{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registry history")
	}

	var records []RegistryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "failed to decode registry history")
	}
	slices.Reverse(records)
	return paginate(records, limit, 0), nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

package planstore

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/plan"
)

// JSONField stores T as a JSON text column.
type JSONField[T any] struct {
	Data T
}

// Scan implements sql.Scanner.
func (j *JSONField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot scan %T into JSONField", value)
		}
		bytes = []byte(str)
	}

	return json.Unmarshal(bytes, &j.Data)
}

// Value implements driver.Valuer.
func (j JSONField[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// dbPlan is a row of the plans table. The indexed columns duplicate fields
// of Data so that List can filter without decoding every plan.
type dbPlan struct {
	ID              string                          `db:"id"`
	ParentID        sql.NullString                  `db:"parent_id"`
	Agent           string                          `db:"agent"`
	Workflow        string                          `db:"workflow"`
	Task            string                          `db:"task"`
	OutcomeKind     string                          `db:"outcome_kind"`
	OutcomeCode     sql.NullString                  `db:"outcome_code"`
	RegistryVersion int64                           `db:"registry_version"`
	Depth           int                             `db:"depth"`
	Data            JSONField[*plan.ExecutionPlan] `db:"data"`
	CreatedAt       time.Time                       `db:"created_at"`
	UpdatedAt       time.Time                       `db:"updated_at"`
}

func fromPlan(p *plan.ExecutionPlan) *dbPlan {
	return &dbPlan{
		ID:              p.ID,
		ParentID:        sql.NullString{String: p.ParentID, Valid: p.ParentID != ""},
		Agent:           p.Agent.Name,
		Workflow:        p.Workflow.Name,
		Task:            p.Task,
		OutcomeKind:     string(p.Outcome.Kind),
		OutcomeCode:     sql.NullString{String: p.Outcome.Code, Valid: p.Outcome.Code != ""},
		RegistryVersion: int64(p.RegistryVersion),
		Depth:           p.Depth,
		Data:            JSONField[*plan.ExecutionPlan]{Data: p},
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (r *dbPlan) toPlan() (*plan.ExecutionPlan, error) {
	if r.Data.Data == nil {
		return nil, errors.Errorf("plan %s has no data", r.ID)
	}
	return r.Data.Data, nil
}

package registry

import (
	"context"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// AgentRecord is the authored form of an agent, as found in frontmatter or a
// YAML catalog. Build turns records into validated Agents.
type AgentRecord struct {
	Name        string            `mapstructure:"name" json:"name" jsonschema:"required,description=Unique agent identifier"`
	Description string            `mapstructure:"description" json:"description,omitempty"`
	Category    string            `mapstructure:"category" json:"category" jsonschema:"required,enum=implementation,enum=operations,enum=architecture,enum=communication,enum=quality,enum=analysis,enum=documentation"`
	Triggers    []string          `mapstructure:"triggers" json:"triggers" jsonschema:"required,minItems=1,description=Literal phrases or wildcard patterns using * and ?"`
	FocusAreas  []FocusAreaRecord `mapstructure:"focus_areas" json:"focus_areas,omitempty"`
	Will        []string          `mapstructure:"will" json:"will,omitempty" jsonschema:"description=Permitted action tags"`
	WillNot     []string          `mapstructure:"will_not" json:"will_not,omitempty" jsonschema:"description=Forbidden action tags"`
	Related     []string          `mapstructure:"related" json:"related,omitempty"`
	Skills      []SkillRefRecord  `mapstructure:"skills" json:"skills,omitempty"`
	Workflows   []WorkflowRecord  `mapstructure:"workflows" json:"workflows" jsonschema:"required,minItems=1"`
	Body        string            `mapstructure:"-" json:"-"`
	Path        string            `mapstructure:"-" json:"-"`
}

// FocusAreaRecord is a focus area label with optional extra keywords. A bare
// string in the source is accepted as a label.
type FocusAreaRecord struct {
	Name     string   `mapstructure:"name" json:"name"`
	Keywords []string `mapstructure:"keywords" json:"keywords,omitempty"`
}

// SkillRefRecord links an agent to a skill. A bare string is a primary skill.
type SkillRefRecord struct {
	Name string `mapstructure:"name" json:"name"`
	Tier string `mapstructure:"tier" json:"tier,omitempty" jsonschema:"enum=primary,enum=secondary"`
}

// WorkflowRecord is an authored workflow.
type WorkflowRecord struct {
	Name  string       `mapstructure:"name" json:"name"`
	When  string       `mapstructure:"when" json:"when,omitempty"`
	Steps []StepRecord `mapstructure:"steps" json:"steps" jsonschema:"minItems=1"`
}

// StepRecord is an authored workflow step. Action is mandatory.
type StepRecord struct {
	Instruction string   `mapstructure:"instruction" json:"instruction"`
	Action      string   `mapstructure:"action" json:"action" jsonschema:"description=Action tag checked against will and will_not"`
	Skills      []string `mapstructure:"skills" json:"skills,omitempty"`
	Expect      string   `mapstructure:"expect" json:"expect,omitempty"`
}

// SkillRecord is the authored form of a shared skill.
type SkillRecord struct {
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description"`
	Content     string `mapstructure:"content" json:"content,omitempty"`
	Directory   string `mapstructure:"-" json:"-"`
}

// Catalog is what a Source yields.
type Catalog struct {
	Agents []AgentRecord `mapstructure:"agents" json:"agents"`
	Skills []SkillRecord `mapstructure:"skills" json:"skills,omitempty"`
}

// Source produces agent and skill records. Sources are read in order; the
// combined catalog is validated as a whole.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Catalog, error)
}

// StaticSource serves records held in memory.
type StaticSource struct {
	Label   string
	Catalog Catalog
}

// Name implements Source
func (s StaticSource) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

// Load implements Source
func (s StaticSource) Load(context.Context) (*Catalog, error) {
	c := s.Catalog
	return &c, nil
}

// decodeRecord decodes a generic map (frontmatter or YAML document) into out.
// Unknown keys are rejected so authoring typos surface at load time.
func decodeRecord(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       shorthandHook,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create record decoder")
	}
	if err := decoder.Decode(input); err != nil {
		return errors.Wrap(err, "failed to decode record")
	}
	return nil
}

var (
	focusAreaType = reflect.TypeOf(FocusAreaRecord{})
	skillRefType  = reflect.TypeOf(SkillRefRecord{})
)

// shorthandHook accepts a bare string where a focus area or skill reference is expected.
func shorthandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to {
	case focusAreaType:
		return map[string]any{"name": data}, nil
	case skillRefType:
		return map[string]any{"name": data, "tier": string(TierPrimary)}, nil
	}
	return data, nil
}

// Package registry holds the immutable catalog of agents, skills and workflows
// that the dispatcher selects from. Agent definitions are markdown documents
// with YAML frontmatter (or entries in a YAML catalog file); they are loaded
// once, validated as a whole and then only read. A Holder swaps complete
// registries atomically on reload.
package registry

import (
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/textnorm"
)

// Category is the enumerated role family of an agent. It drives tie-breaking
// in the matcher.
type Category string

// Known agent categories
const (
	CategoryImplementation Category = "implementation"
	CategoryOperations     Category = "operations"
	CategoryArchitecture   Category = "architecture"
	CategoryCommunication  Category = "communication"
	CategoryQuality        Category = "quality"
	CategoryAnalysis       Category = "analysis"
	CategoryDocumentation  Category = "documentation"
)

// Categories lists every known category in the default priority order.
var Categories = []Category{
	CategoryImplementation,
	CategoryOperations,
	CategoryArchitecture,
	CategoryCommunication,
	CategoryQuality,
	CategoryAnalysis,
	CategoryDocumentation,
}

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return "", errors.Errorf("unknown category %q, must be one of %v", s, Categories)
}

// Tier describes how central a skill is to an agent.
type Tier string

// Skill tiers
const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// Trigger is a phrase or wildcard pattern that signals an agent is relevant.
type Trigger struct {
	Pattern     string    // Original pattern as authored
	Normalized  string    // Lowercase, punctuation-free form
	Wildcard    bool      // Pattern contains * or ?
	Specificity int       // Number of non-wildcard tokens
	glob        glob.Glob // Compiled matcher for wildcard triggers
}

// Match reports whether the trigger matches the already normalized task text.
func (t Trigger) Match(normalizedTask string) bool {
	if t.Wildcard {
		return t.glob != nil && t.glob.Match(" "+normalizedTask+" ")
	}
	return textnorm.ContainsPhrase(normalizedTask, t.Normalized)
}

// FocusArea is a labeled domain with the keywords that indicate it.
type FocusArea struct {
	Name     string
	Keywords []string // Normalized keywords, label tokens included
}

// Capabilities is the Will / Will Not boundary of an agent. Both sets hold
// action tags and are disjoint.
type Capabilities struct {
	Will    []string
	WillNot []string
}

// Permits reports whether the action tag is declared in Will.
func (c Capabilities) Permits(action string) bool {
	return slices.Contains(c.Will, action)
}

// Forbids reports whether the action tag is declared in Will Not.
func (c Capabilities) Forbids(action string) bool {
	return slices.Contains(c.WillNot, action)
}

// SkillRef relates an agent to a shared skill.
type SkillRef struct {
	Name string
	Tier Tier
}

// Step is one instruction of a workflow.
type Step struct {
	Instruction string
	Action      string   // Pre-authored action tag checked against Capabilities
	Skills      []string // Names of skills the step invokes
	Expect      string   // Expected output shape, recorded but not enforced
}

// Workflow is an ordered checklist belonging to an agent.
type Workflow struct {
	Name  string
	When  string // "When to use" precondition text
	Steps []Step
}

// Agent is a named role with triggers, workflows and scope boundaries.
type Agent struct {
	Name         string
	Description  string
	Category     Category
	Triggers     []Trigger
	FocusAreas   []FocusArea
	Workflows    []Workflow
	Capabilities Capabilities
	Related      []string
	Skills       []SkillRef
	Body         string
	Path         string
}

// DefaultWorkflow returns the first declared workflow.
func (a *Agent) DefaultWorkflow() *Workflow {
	if len(a.Workflows) == 0 {
		return nil
	}
	return &a.Workflows[0]
}

// Workflow returns the named workflow, if declared.
func (a *Agent) Workflow(name string) (*Workflow, bool) {
	for i := range a.Workflows {
		if a.Workflows[i].Name == name {
			return &a.Workflows[i], true
		}
	}
	return nil, false
}

// Skill is a shared, reusable capability referenced by workflow steps.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
	Directory   string `json:"directory,omitempty"`
}

// Registry is an immutable, validated catalog. It is safe for concurrent reads.
type Registry struct {
	version  uint64
	loadedAt time.Time
	digest   string
	agents   []*Agent
	byName   map[string]*Agent
	skills   []*Skill
	bySkill  map[string]*Skill
}

// Version is the generation number assigned by the Holder that installed the registry.
func (r *Registry) Version() uint64 { return r.version }

// LoadedAt is the time the registry finished loading.
func (r *Registry) LoadedAt() time.Time { return r.loadedAt }

// Digest is a content hash of the records the registry was built from.
func (r *Registry) Digest() string { return r.digest }

// Lookup returns the agent with the given name.
func (r *Registry) Lookup(name string) (*Agent, error) {
	agent, ok := r.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "agent '%s'", name)
	}
	return agent, nil
}

// AllAgents returns every agent in load order. The slice is a copy.
func (r *Registry) AllAgents() []*Agent {
	return slices.Clone(r.agents)
}

// Skill returns the skill with the given name.
func (r *Registry) Skill(name string) (*Skill, error) {
	skill, ok := r.bySkill[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "skill '%s'", name)
	}
	return skill, nil
}

// AllSkills returns every skill in load order. The slice is a copy.
func (r *Registry) AllSkills() []*Skill {
	return slices.Clone(r.skills)
}

// Related returns the one-hop related agents of name in declaration order.
func (r *Registry) Related(name string) []*Agent {
	agent, ok := r.byName[name]
	if !ok {
		return nil
	}
	related := make([]*Agent, 0, len(agent.Related))
	for _, n := range agent.Related {
		if a, ok := r.byName[n]; ok {
			related = append(related, a)
		}
	}
	return related
}

// Subset returns the agents among names, in registry load order, skipping unknown names.
func (r *Registry) Subset(names []string) []*Agent {
	var out []*Agent
	for _, a := range r.agents {
		if slices.Contains(names, a.Name) {
			out = append(out, a)
		}
	}
	return out
}

package server

import (
	"time"

	"github.com/jingkaihe/switchboard/pkg/engine"
	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

// AgentSummary is the list form of an agent.
type AgentSummary struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Category    registry.Category `json:"category"`
	Triggers    []string          `json:"triggers"`
	Workflows   []string          `json:"workflows"`
}

// FocusAreaView is a focus area with its normalized keywords.
type FocusAreaView struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
}

// SkillRefView is an agent's reference to a skill.
type SkillRefView struct {
	Name string        `json:"name"`
	Tier registry.Tier `json:"tier"`
}

// AgentView is the full form of an agent.
type AgentView struct {
	AgentSummary
	FocusAreas []FocusAreaView `json:"focus_areas,omitempty"`
	Will       []string        `json:"will"`
	WillNot    []string        `json:"will_not,omitempty"`
	Related    []string        `json:"related,omitempty"`
	Skills     []SkillRefView  `json:"skills,omitempty"`
	Flows      []plan.Workflow `json:"workflow_steps"`
	Path       string          `json:"path,omitempty"`
}

// CandidateView is one ranked match.
type CandidateView struct {
	Agent       string            `json:"agent"`
	Category    registry.Category `json:"category"`
	Score       float64           `json:"score"`
	TriggerHits []string          `json:"trigger_hits,omitempty"`
	FocusHits   []string          `json:"focus_hits,omitempty"`
}

// RegistryView describes the installed registry.
type RegistryView struct {
	Version  uint64                     `json:"version"`
	Digest   string                     `json:"digest"`
	LoadedAt time.Time                  `json:"loaded_at"`
	Agents   int                        `json:"agents"`
	Skills   []*registry.Skill          `json:"skills"`
	History  []planstore.RegistryRecord `json:"history,omitempty"`
}

// RunView is the result of running a plan.
type RunView struct {
	Final    plan.Outcome          `json:"final"`
	ExitCode int                   `json:"exit_code"`
	Chain    []*plan.ExecutionPlan `json:"chain"`
}

// NewAgentSummary converts a for listing.
func NewAgentSummary(a *registry.Agent) AgentSummary {
	s := AgentSummary{
		Name:        a.Name,
		Description: a.Description,
		Category:    a.Category,
		Triggers:    make([]string, len(a.Triggers)),
		Workflows:   make([]string, len(a.Workflows)),
	}
	for i, t := range a.Triggers {
		s.Triggers[i] = t.Pattern
	}
	for i, w := range a.Workflows {
		s.Workflows[i] = w.Name
	}
	return s
}

// NewAgentView converts a in full.
func NewAgentView(a *registry.Agent) AgentView {
	v := AgentView{
		AgentSummary: NewAgentSummary(a),
		Will:         a.Capabilities.Will,
		WillNot:      a.Capabilities.WillNot,
		Related:      a.Related,
		Path:         a.Path,
	}
	for _, f := range a.FocusAreas {
		v.FocusAreas = append(v.FocusAreas, FocusAreaView{Name: f.Name, Keywords: f.Keywords})
	}
	for _, s := range a.Skills {
		v.Skills = append(v.Skills, SkillRefView{Name: s.Name, Tier: s.Tier})
	}
	for i := range a.Workflows {
		v.Flows = append(v.Flows, plan.SnapshotWorkflow(&a.Workflows[i]))
	}
	return v
}

// NewCandidateViews converts ranked candidates.
func NewCandidateViews(candidates []matcher.Candidate) []CandidateView {
	out := make([]CandidateView, len(candidates))
	for i, c := range candidates {
		out[i] = CandidateView{
			Agent:       c.Agent.Name,
			Category:    c.Agent.Category,
			Score:       c.Score,
			TriggerHits: c.TriggerHits,
			FocusHits:   c.FocusHits,
		}
	}
	return out
}

// NewRegistryView describes reg.
func NewRegistryView(reg *registry.Registry) RegistryView {
	return RegistryView{
		Version:  reg.Version(),
		Digest:   reg.Digest(),
		LoadedAt: reg.LoadedAt(),
		Agents:   len(reg.AllAgents()),
		Skills:   reg.AllSkills(),
	}
}

// NewRunView converts an engine result.
func NewRunView(r *engine.Result) RunView {
	return RunView{Final: r.Final, ExitCode: r.ExitCode(), Chain: r.Chain}
}

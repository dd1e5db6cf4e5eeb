// Package plan defines the ExecutionPlan produced by the dispatcher and
// filled in by the executor and boundary enforcer. Plans carry value
// snapshots of the agent and workflow they were dispatched to, so a registry
// reload never changes a plan that is already running.
package plan

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/switchboard/pkg/registry"
)

// OutcomeKind is the terminal state of a plan.
type OutcomeKind string

// Outcome kinds
const (
	OutcomePending   OutcomeKind = "pending"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeHandedOff OutcomeKind = "handed_off"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Machine-readable reasons attached to rejected and handed-off outcomes.
const (
	CodeStepFailed        = "step_failed"
	CodeStepTimeout       = "step_timeout"
	CodeUnknownSkill      = "unknown_skill"
	CodeCancelled         = "cancelled"
	CodeBoundaryViolation = "boundary_violation"
	CodeHandoffExhausted  = "handoff_exhausted"
)

// Outcome is where a plan ended up.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Target string      `json:"target,omitempty"` // handoff target agent
	Reason string      `json:"reason,omitempty"`
	Code   string      `json:"code,omitempty"`
}

// Pending is the outcome of a plan that has not finished.
func Pending() Outcome { return Outcome{Kind: OutcomePending} }

// Completed is the outcome of a plan whose every step completed.
func Completed() Outcome { return Outcome{Kind: OutcomeCompleted} }

// HandedOff transfers the task to target.
func HandedOff(target, reason string) Outcome {
	return Outcome{Kind: OutcomeHandedOff, Target: target, Reason: reason, Code: CodeBoundaryViolation}
}

// Rejected ends the plan with a coded reason.
func Rejected(code, reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Code: code, Reason: reason}
}

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool {
	return o.Kind != "" && o.Kind != OutcomePending
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeHandedOff:
		return fmt.Sprintf("handed_off(%s)", o.Target)
	case OutcomeRejected:
		return fmt.Sprintf("rejected(%s: %s)", o.Code, o.Reason)
	case "":
		return string(OutcomePending)
	default:
		return string(o.Kind)
	}
}

// StepStatus is the state of one executed step.
type StepStatus string

// Step statuses
const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepBlocked   StepStatus = "blocked" // stopped by the boundary enforcer
	StepSkipped   StepStatus = "skipped"
)

// SkillInvocation records a skill a step used.
type SkillInvocation struct {
	Name string        `json:"name"`
	Tier registry.Tier `json:"tier,omitempty"`
}

// StepResult is the record of one step.
type StepResult struct {
	Index       int               `json:"index"`
	Instruction string            `json:"instruction"`
	Action      string            `json:"action"`
	Status      StepStatus        `json:"status"`
	Output      string            `json:"output,omitempty"`
	Skills      []SkillInvocation `json:"skills,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Duration is how long the step ran.
func (r StepResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Agent is the part of a registry agent a plan needs after dispatch.
type Agent struct {
	Name     string            `json:"name"`
	Category registry.Category `json:"category"`
	Will     []string          `json:"will,omitempty"`
	WillNot  []string          `json:"will_not,omitempty"`
	Related  []string          `json:"related,omitempty"`
	Skills   []SkillInvocation `json:"skills,omitempty"`
}

// Capabilities returns the agent's boundary sets.
func (a Agent) Capabilities() registry.Capabilities {
	return registry.Capabilities{Will: a.Will, WillNot: a.WillNot}
}

// SkillTier returns the tier the agent declares for a skill, or "" when the
// skill is only referenced from a step.
func (a Agent) SkillTier(name string) registry.Tier {
	for _, s := range a.Skills {
		if s.Name == name {
			return s.Tier
		}
	}
	return ""
}

// Step is a snapshot of a workflow step.
type Step struct {
	Instruction string   `json:"instruction"`
	Action      string   `json:"action"`
	Skills      []string `json:"skills,omitempty"`
	Expect      string   `json:"expect,omitempty"`
}

// Workflow is a snapshot of the selected workflow.
type Workflow struct {
	Name  string `json:"name"`
	When  string `json:"when,omitempty"`
	Steps []Step `json:"steps"`
}

// SnapshotAgent copies what a plan needs out of a registry agent.
func SnapshotAgent(a *registry.Agent) Agent {
	snap := Agent{
		Name:     a.Name,
		Category: a.Category,
		Will:     slices.Clone(a.Capabilities.Will),
		WillNot:  slices.Clone(a.Capabilities.WillNot),
		Related:  slices.Clone(a.Related),
	}
	for _, s := range a.Skills {
		snap.Skills = append(snap.Skills, SkillInvocation{Name: s.Name, Tier: s.Tier})
	}
	return snap
}

// SnapshotWorkflow copies a registry workflow.
func SnapshotWorkflow(w *registry.Workflow) Workflow {
	snap := Workflow{Name: w.Name, When: w.When}
	for _, s := range w.Steps {
		snap.Steps = append(snap.Steps, Step{
			Instruction: s.Instruction,
			Action:      s.Action,
			Skills:      slices.Clone(s.Skills),
			Expect:      s.Expect,
		})
	}
	return snap
}

// ExecutionPlan is a dispatched task bound to one agent and workflow.
type ExecutionPlan struct {
	ID              string       `json:"id"`
	Task            string       `json:"task"`
	Agent           Agent        `json:"agent"`
	Workflow        Workflow     `json:"workflow"`
	RegistryVersion uint64       `json:"registry_version"`
	RegistryDigest  string       `json:"registry_digest,omitempty"`
	Results         []StepResult `json:"results"`
	Outcome         Outcome      `json:"outcome"`
	ParentID        string       `json:"parent_id,omitempty"`
	Depth           int          `json:"depth"`
	Chain           []string     `json:"chain"` // agents from the root plan to this one
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// New creates a pending plan for agent's workflow against reg.
func New(task string, reg *registry.Registry, agent *registry.Agent, workflow *registry.Workflow) *ExecutionPlan {
	now := time.Now()
	return &ExecutionPlan{
		ID:              uuid.NewString(),
		Task:            task,
		Agent:           SnapshotAgent(agent),
		Workflow:        SnapshotWorkflow(workflow),
		RegistryVersion: reg.Version(),
		RegistryDigest:  reg.Digest(),
		Results:         []StepResult{},
		Outcome:         Pending(),
		Chain:           []string{agent.Name},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Adopt turns p into a handoff child of parent.
func (p *ExecutionPlan) Adopt(parent *ExecutionPlan) {
	p.ParentID = parent.ID
	p.Depth = parent.Depth + 1
	p.Chain = append(slices.Clone(parent.Chain), p.Agent.Name)
}

// InChain reports whether agent already handled this task in the handoff chain.
func (p *ExecutionPlan) InChain(agent string) bool {
	return slices.Contains(p.Chain, agent)
}

// Append records a step result.
func (p *ExecutionPlan) Append(r StepResult) {
	p.Results = append(p.Results, r)
	p.UpdatedAt = time.Now()
}

// Finish sets the terminal outcome.
func (p *ExecutionPlan) Finish(o Outcome) {
	p.Outcome = o
	p.UpdatedAt = time.Now()
}

// Done reports whether the plan reached a terminal outcome.
func (p *ExecutionPlan) Done() bool {
	return p.Outcome.Terminal()
}

// NextStep is the index of the first step without a result.
func (p *ExecutionPlan) NextStep() int {
	return len(p.Results)
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	c := *p
	c.Agent.Will = slices.Clone(p.Agent.Will)
	c.Agent.WillNot = slices.Clone(p.Agent.WillNot)
	c.Agent.Related = slices.Clone(p.Agent.Related)
	c.Agent.Skills = slices.Clone(p.Agent.Skills)
	c.Workflow.Steps = make([]Step, len(p.Workflow.Steps))
	for i, s := range p.Workflow.Steps {
		s.Skills = slices.Clone(s.Skills)
		c.Workflow.Steps[i] = s
	}
	c.Results = make([]StepResult, len(p.Results))
	for i, r := range p.Results {
		r.Skills = slices.Clone(r.Skills)
		c.Results[i] = r
	}
	c.Chain = slices.Clone(p.Chain)
	return &c
}

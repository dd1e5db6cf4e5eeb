// Package executor runs the steps of an ExecutionPlan in order. Each step is
// checked against the agent's boundary, has its skills resolved, and is then
// handed to a Performer under a per-step deadline. The executor never
// retries: the first failure ends the plan.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/switchboard/pkg/boundary"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/telemetry"
)

// DefaultStepTimeout bounds a single performer call.
const DefaultStepTimeout = 5 * time.Minute

var (
	// ErrUnknownSkill is recorded when a step names a skill the registry lacks.
	ErrUnknownSkill = errors.New("unknown skill")
	// ErrStepFailed is recorded when the performer fails a step.
	ErrStepFailed = errors.New("step failed")
)

// StepRequest is what a Performer receives for one step.
type StepRequest struct {
	PlanID      string            `json:"plan_id"`
	Task        string            `json:"task"`
	Agent       string            `json:"agent"`
	Index       int               `json:"index"`
	Instruction string            `json:"instruction"`
	Action      string            `json:"action"`
	Expect      string            `json:"expect,omitempty"`
	Skills      []*registry.Skill `json:"skills,omitempty"`
	Prior       []plan.StepResult `json:"prior"`
}

// StepOutcome is what a Performer reports. An empty Status means completed.
type StepOutcome struct {
	Status plan.StepStatus `json:"status"`
	Output string          `json:"output"`
}

// Performer does the work a step describes.
type Performer interface {
	PerformStep(ctx context.Context, req StepRequest) (StepOutcome, error)
}

// StepHook observes every recorded step result.
type StepHook func(p *plan.ExecutionPlan, result plan.StepResult)

// Executor runs plans. It is safe for concurrent use by many plans.
type Executor struct {
	performer   Performer
	enforcer    *boundary.Enforcer
	stepTimeout time.Duration
	hooks       []StepHook
}

// Option configures an Executor
type Option func(*Executor)

// WithStepTimeout sets the per-step deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithStepHook registers a hook called after each step result is recorded.
func WithStepHook(hook StepHook) Option {
	return func(e *Executor) {
		e.hooks = append(e.hooks, hook)
	}
}

// New creates an Executor.
func New(performer Performer, enforcer *boundary.Enforcer, opts ...Option) *Executor {
	e := &Executor{
		performer:   performer,
		enforcer:    enforcer,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the remaining steps of p against reg, the registry snapshot the
// plan was dispatched from, and returns p with its outcome set. The second
// value is the handoff child plan; it is nil unless p was handed off. hooks
// run after the executor's own hooks for this call only.
//
// Cancellation of ctx is observed between steps only. A running step keeps
// its own deadline, and results recorded before cancellation are kept.
func (e *Executor) Execute(ctx context.Context, reg *registry.Registry, p *plan.ExecutionPlan, hooks ...StepHook) (*plan.ExecutionPlan, *plan.ExecutionPlan) {
	if p.Done() {
		return p, nil
	}
	r := &run{Executor: e, hooks: append(append([]StepHook(nil), e.hooks...), hooks...)}

	var child *plan.ExecutionPlan
	_ = telemetry.WithSpan(ctx, "plan.execute", func(ctx context.Context) error {
		ctx = logger.WithFields(ctx, map[string]any{
			"plan_id":          p.ID,
			"agent":            p.Agent.Name,
			"workflow":         p.Workflow.Name,
			"registry_version": p.RegistryVersion,
		})
		child = r.execute(ctx, reg, p)
		telemetry.SetAttributes(ctx,
			attribute.String("outcome", string(p.Outcome.Kind)),
			attribute.Int("steps.recorded", len(p.Results)),
		)
		logger.G(ctx).WithField("outcome", p.Outcome.String()).Info("Plan finished")
		return nil
	}, attribute.String("plan.id", p.ID), attribute.String("agent", p.Agent.Name))
	return p, child
}

// run carries the hooks of a single Execute call.
type run struct {
	*Executor
	hooks []StepHook
}

func (e *run) execute(ctx context.Context, reg *registry.Registry, p *plan.ExecutionPlan) *plan.ExecutionPlan {
	for i := p.NextStep(); i < len(p.Workflow.Steps); i++ {
		if err := ctx.Err(); err != nil {
			logger.G(ctx).WithField("step", i+1).Info("Plan cancelled between steps")
			p.Finish(plan.Rejected(plan.CodeCancelled, fmt.Sprintf("cancelled before step %d: %v", i+1, err)))
			return nil
		}

		step := p.Workflow.Steps[i]
		log := logger.G(ctx).WithFields(map[string]any{"step": i + 1, "action": step.Action})

		if err := e.enforcer.Check(p.Agent, i, step); err != nil {
			log.WithError(err).Warn("Step is outside the agent boundary")
			outcome, child := e.enforcer.Handoff(ctx, reg, p, step)
			now := time.Now()
			e.record(p, plan.StepResult{
				Index:       i,
				Instruction: step.Instruction,
				Action:      step.Action,
				Status:      plan.StepBlocked,
				Error:       err.Error(),
				StartedAt:   now,
				FinishedAt:  now,
			})
			p.Finish(outcome)
			return child
		}

		skills, invocations, err := e.resolveSkills(reg, p.Agent, step)
		if err != nil {
			log.WithError(err).Error("Step references an unknown skill")
			now := time.Now()
			e.record(p, plan.StepResult{
				Index:       i,
				Instruction: step.Instruction,
				Action:      step.Action,
				Status:      plan.StepFailed,
				Error:       err.Error(),
				StartedAt:   now,
				FinishedAt:  now,
			})
			p.Finish(plan.Rejected(plan.CodeUnknownSkill, err.Error()))
			return nil
		}

		result, code := e.perform(ctx, p, i, step, skills)
		result.Skills = invocations
		e.record(p, result)

		if result.Status == plan.StepFailed {
			log.WithField("error", result.Error).Warn("Step failed, stopping plan")
			p.Finish(plan.Rejected(code, result.Error))
			return nil
		}
		log.WithField("duration", result.Duration().String()).Debug("Step finished")
	}

	p.Finish(plan.Completed())
	_, child := e.enforcer.Enforce(ctx, reg, p)
	return child
}

func (e *Executor) resolveSkills(reg *registry.Registry, agent plan.Agent, step plan.Step) ([]*registry.Skill, []plan.SkillInvocation, error) {
	var (
		skills      []*registry.Skill
		invocations []plan.SkillInvocation
	)
	for _, name := range step.Skills {
		skill, err := reg.Skill(name)
		if err != nil {
			return nil, nil, errors.Wrapf(ErrUnknownSkill, "'%s'", name)
		}
		skills = append(skills, skill)
		invocations = append(invocations, plan.SkillInvocation{Name: name, Tier: agent.SkillTier(name)})
	}
	return skills, invocations, nil
}

type performResult struct {
	outcome StepOutcome
	err     error
}

// perform runs one performer call. The call gets its own deadline detached
// from ctx cancellation; a performer that ignores the deadline is abandoned.
func (e *Executor) perform(ctx context.Context, p *plan.ExecutionPlan, index int, step plan.Step, skills []*registry.Skill) (plan.StepResult, string) {
	result := plan.StepResult{
		Index:       index,
		Instruction: step.Instruction,
		Action:      step.Action,
		StartedAt:   time.Now(),
	}

	req := StepRequest{
		PlanID:      p.ID,
		Task:        p.Task,
		Agent:       p.Agent.Name,
		Index:       index,
		Instruction: step.Instruction,
		Action:      step.Action,
		Expect:      step.Expect,
		Skills:      skills,
		Prior:       append([]plan.StepResult(nil), p.Results...),
	}

	code := plan.CodeStepFailed
	_ = telemetry.WithSpan(ctx, "plan.step", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.stepTimeout)
		defer cancel()

		done := make(chan performResult, 1)
		go func() {
			out, err := e.performer.PerformStep(stepCtx, req)
			done <- performResult{outcome: out, err: err}
		}()

		select {
		case r := <-done:
			switch {
			case r.err != nil:
				result.Status = plan.StepFailed
				result.Error = errors.Wrapf(ErrStepFailed, "step %d: %v", index+1, r.err).Error()
				if errors.Is(r.err, context.DeadlineExceeded) {
					code = plan.CodeStepTimeout
				}
			case r.outcome.Status == "" || r.outcome.Status == plan.StepCompleted:
				result.Status = plan.StepCompleted
			case r.outcome.Status == plan.StepSkipped:
				result.Status = plan.StepSkipped
			default:
				result.Status = plan.StepFailed
				result.Error = errors.Wrapf(ErrStepFailed, "step %d reported %s", index+1, r.outcome.Status).Error()
			}
			result.Output = r.outcome.Output
		case <-stepCtx.Done():
			result.Status = plan.StepFailed
			result.Error = errors.Wrapf(ErrStepFailed, "step %d timed out after %s", index+1, e.stepTimeout).Error()
			code = plan.CodeStepTimeout
		}
		result.FinishedAt = time.Now()

		if result.Status == plan.StepFailed {
			return errors.New(result.Error)
		}
		return nil
	}, attribute.Int("step", index+1), attribute.String("action", step.Action))

	return result, code
}

func (e *run) record(p *plan.ExecutionPlan, result plan.StepResult) {
	p.Append(result)
	for _, hook := range e.hooks {
		hook(p, result)
	}
}

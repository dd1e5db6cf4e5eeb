// Package boundary enforces the Will / Will Not scope of an agent. Every
// workflow step carries an action tag; a tag in Will Not stops the plan at
// that step and the task is offered to the agent's related agents.
package boundary

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/telemetry"
)

// ErrHandoffExhausted means no related agent can take the task.
var ErrHandoffExhausted = errors.New("out of scope, no handoff available")

// ViolationError describes a step outside its agent's boundary.
type ViolationError struct {
	Agent  string
	Step   int // zero-based
	Action string
	// Undeclared is set when strict mode rejected an action missing from Will
	// rather than one listed in Will Not.
	Undeclared bool
}

func (e *ViolationError) Error() string {
	if e.Undeclared {
		return fmt.Sprintf("agent '%s' step %d: action '%s' is not declared in will", e.Agent, e.Step+1, e.Action)
	}
	return fmt.Sprintf("agent '%s' step %d: action '%s' is in will_not", e.Agent, e.Step+1, e.Action)
}

// Enforcer checks steps and finds handoff targets.
type Enforcer struct {
	dispatcher *dispatch.Dispatcher
	strict     bool
}

// Option configures an Enforcer
type Option func(*Enforcer)

// WithStrict also treats actions absent from Will as violations.
func WithStrict(strict bool) Option {
	return func(e *Enforcer) {
		e.strict = strict
	}
}

// New creates an Enforcer that re-dispatches handoffs through d.
func New(d *dispatch.Dispatcher, opts ...Option) *Enforcer {
	e := &Enforcer{dispatcher: d}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check returns a *ViolationError if agent may not perform step.
func (e *Enforcer) Check(agent plan.Agent, index int, step plan.Step) error {
	caps := agent.Capabilities()
	if caps.Forbids(step.Action) {
		return &ViolationError{Agent: agent.Name, Step: index, Action: step.Action}
	}
	if e.strict && !caps.Permits(step.Action) {
		return &ViolationError{Agent: agent.Name, Step: index, Action: step.Action, Undeclared: true}
	}
	return nil
}

// Handoff finds an agent to take over p at the violating step. Candidates are
// the plan agent's direct related agents that list the action in Will and have
// not handled the task earlier in the chain. The matcher chooses among them;
// if it cannot, the first candidate in declaration order is used. A tie is
// logged as a warning and named in the outcome reason. The
// returned child plan is nil when the outcome is a rejection.
func (e *Enforcer) Handoff(ctx context.Context, reg *registry.Registry, p *plan.ExecutionPlan, step plan.Step) (plan.Outcome, *plan.ExecutionPlan) {
	var (
		outcome plan.Outcome
		child   *plan.ExecutionPlan
	)
	_ = telemetry.WithSpan(ctx, "plan.handoff", func(ctx context.Context) error {
		log := logger.G(ctx).WithFields(map[string]any{
			"plan_id": p.ID,
			"agent":   p.Agent.Name,
			"action":  step.Action,
		})

		candidates := e.candidates(reg, p, step.Action)
		if len(candidates) == 0 {
			log.Warn("No related agent accepts the action")
			outcome = plan.Rejected(plan.CodeHandoffExhausted, ErrHandoffExhausted.Error())
			return nil
		}

		names := make([]string, 0, len(candidates))
		for _, a := range candidates {
			names = append(names, a.Name)
		}

		reason := fmt.Sprintf("step %d action '%s' is outside the scope of '%s'", p.NextStep()+1, step.Action, p.Agent.Name)

		next, err := e.dispatcher.DispatchAmong(ctx, reg, p.Task, names)
		var ambiguous *dispatch.AmbiguousError
		switch {
		case errors.As(err, &ambiguous):
			tied := tiedNames(ambiguous)
			target := firstTied(candidates, ambiguous)
			log.WithFields(map[string]any{
				"tied":     tied,
				"fallback": target.Name,
			}).Warn("Handoff candidates are tied, using declaration order")
			reason += fmt.Sprintf("; tied candidates %s, chose '%s' by declaration order", strings.Join(tied, ", "), target.Name)
			next = plan.New(p.Task, reg, target, dispatch.SelectWorkflow(target, p.Task))
		case err != nil:
			log.WithError(err).WithField("fallback", candidates[0].Name).
				Info("Matcher could not choose a handoff target, using declaration order")
			next = plan.New(p.Task, reg, candidates[0], dispatch.SelectWorkflow(candidates[0], p.Task))
		}
		next.Adopt(p)
		child = next

		outcome = plan.HandedOff(next.Agent.Name, reason)
		telemetry.SetAttributes(ctx, attribute.String("handoff.target", next.Agent.Name))
		log.WithField("target", next.Agent.Name).Info("Handing off plan")
		return nil
	}, attribute.String("plan.id", p.ID))
	return outcome, child
}

func tiedNames(err *dispatch.AmbiguousError) []string {
	out := make([]string, 0, len(err.Candidates))
	for _, c := range err.Candidates {
		out = append(out, c.Agent.Name)
	}
	return out
}

// firstTied returns the earliest declared candidate among the tied ones.
func firstTied(candidates []*registry.Agent, err *dispatch.AmbiguousError) *registry.Agent {
	for _, a := range candidates {
		for _, c := range err.Candidates {
			if c.Agent.Name == a.Name {
				return a
			}
		}
	}
	return candidates[0]
}

func (e *Enforcer) candidates(reg *registry.Registry, p *plan.ExecutionPlan, action string) []*registry.Agent {
	var out []*registry.Agent
	for _, name := range p.Agent.Related {
		if p.InChain(name) {
			continue
		}
		agent, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		if agent.Capabilities.Permits(action) {
			out = append(out, agent)
		}
	}
	return out
}

// Enforce audits an executed plan. A completed step whose action the agent
// may not perform is marked blocked, later results are marked skipped and the
// outcome is replaced by a handoff or rejection. The returned child plan is
// non-nil only when a handoff target was found.
func (e *Enforcer) Enforce(ctx context.Context, reg *registry.Registry, p *plan.ExecutionPlan) (*plan.ExecutionPlan, *plan.ExecutionPlan) {
	for i, r := range p.Results {
		if r.Status != plan.StepCompleted {
			continue
		}
		step := plan.Step{Instruction: r.Instruction, Action: r.Action}
		err := e.Check(p.Agent, i, step)
		if err == nil {
			continue
		}

		logger.G(ctx).WithError(err).WithField("plan_id", p.ID).Warn("Completed step violates agent boundary")
		p.Results[i].Status = plan.StepBlocked
		p.Results[i].Error = err.Error()
		for j := i + 1; j < len(p.Results); j++ {
			p.Results[j].Status = plan.StepSkipped
		}

		// Handoff reports the step as NextStep, so look at the plan as of step i
		audit := p.Clone()
		audit.Results = audit.Results[:i]
		outcome, child := e.Handoff(ctx, reg, audit, step)
		p.Finish(outcome)
		return p, child
	}
	return p, nil
}

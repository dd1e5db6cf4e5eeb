// Package dispatch turns a task into an ExecutionPlan: it asks the matcher
// for the best agent, refuses to guess between agents it cannot separate,
// and picks the workflow whose precondition fits the task.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/telemetry"
	"github.com/jingkaihe/switchboard/pkg/textnorm"
)

var (
	// ErrNoMatch is returned when no agent clears the matching threshold.
	ErrNoMatch = errors.New("no agent matches the task")
	// ErrAmbiguousMatch is returned when the best candidates cannot be separated.
	ErrAmbiguousMatch = errors.New("ambiguous match")
)

// AmbiguousError lists the candidates that tied for first place.
type AmbiguousError struct {
	Task       string
	Candidates []matcher.Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s (%s, %.2f)", c.Agent.Name, c.Agent.Category, c.Score))
	}
	return fmt.Sprintf("%s: %s", ErrAmbiguousMatch, strings.Join(names, ", "))
}

// Unwrap makes errors.Is(err, ErrAmbiguousMatch) hold.
func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguousMatch
}

// Dispatcher selects agents from the registry installed in a Holder.
type Dispatcher struct {
	holder  *registry.Holder
	matcher matcher.Matcher
	widen   bool
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithoutWidening keeps the matcher threshold for restricted dispatches.
func WithoutWidening() Option {
	return func(d *Dispatcher) {
		d.widen = false
	}
}

// New creates a Dispatcher. A nil matcher uses the default TriggerMatcher.
func New(holder *registry.Holder, m matcher.Matcher, opts ...Option) *Dispatcher {
	if m == nil {
		m = matcher.New(matcher.DefaultOptions())
	}
	d := &Dispatcher{holder: holder, matcher: m, widen: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Matcher returns the matcher in use.
func (d *Dispatcher) Matcher() matcher.Matcher {
	return d.matcher
}

// Holder returns the registry holder.
func (d *Dispatcher) Holder() *registry.Holder {
	return d.holder
}

// Dispatch plans task against the currently installed registry.
func (d *Dispatcher) Dispatch(ctx context.Context, task string) (*plan.ExecutionPlan, error) {
	return d.DispatchWith(ctx, d.holder.Current(), task)
}

// DispatchWith plans task against a specific registry snapshot.
func (d *Dispatcher) DispatchWith(ctx context.Context, reg *registry.Registry, task string) (*plan.ExecutionPlan, error) {
	return d.dispatch(ctx, reg, task, reg.AllAgents(), d.matcher)
}

// DispatchAmong plans task among the named agents only. Unless widening is
// disabled the threshold drops to zero, so any positive score qualifies.
func (d *Dispatcher) DispatchAmong(ctx context.Context, reg *registry.Registry, task string, names []string) (*plan.ExecutionPlan, error) {
	m := d.matcher
	if w, ok := m.(matcher.Widener); ok && d.widen {
		m = w.WithMinScore(0)
	}
	return d.dispatch(ctx, reg, task, reg.Subset(names), m)
}

// Rank returns the ranked candidates for task without planning.
func (d *Dispatcher) Rank(reg *registry.Registry, task string) []matcher.Candidate {
	return d.matcher.Match(task, reg.AllAgents())
}

func (d *Dispatcher) dispatch(ctx context.Context, reg *registry.Registry, task string, agents []*registry.Agent, m matcher.Matcher) (*plan.ExecutionPlan, error) {
	var p *plan.ExecutionPlan
	err := telemetry.WithSpan(ctx, "dispatch", func(ctx context.Context) error {
		log := logger.G(ctx).WithField("registry_version", reg.Version())

		candidates := m.Match(task, agents)
		if len(candidates) == 0 {
			log.WithField("task", task).Info("No agent matched the task")
			return errors.Wrapf(ErrNoMatch, "task %q", task)
		}

		if tied := d.tiedForFirst(m, candidates); len(tied) > 1 {
			log.WithField("candidates", len(tied)).Warn("Ambiguous match, refusing to pick")
			return &AmbiguousError{Task: task, Candidates: tied}
		}

		best := candidates[0]
		workflow := SelectWorkflow(best.Agent, task)
		p = plan.New(task, reg, best.Agent, workflow)

		telemetry.SetAttributes(ctx,
			attribute.String("plan.id", p.ID),
			attribute.String("agent", best.Agent.Name),
			attribute.String("workflow", workflow.Name),
			attribute.Float64("score", best.Score),
		)
		log.WithFields(map[string]any{
			"plan_id":  p.ID,
			"agent":    best.Agent.Name,
			"workflow": workflow.Name,
			"score":    best.Score,
		}).Info("Dispatched task")
		return nil
	}, attribute.Int("candidates.considered", len(agents)))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// tiedForFirst returns the leading candidates that only name order separates.
func (d *Dispatcher) tiedForFirst(m matcher.Matcher, candidates []matcher.Candidate) []matcher.Candidate {
	tied := func(a, b matcher.Candidate) bool {
		if tb, ok := m.(matcher.TieBreaker); ok {
			return tb.Tied(a, b)
		}
		return a.Score == b.Score && a.Agent.Category == b.Agent.Category
	}

	out := []matcher.Candidate{candidates[0]}
	for _, c := range candidates[1:] {
		if !tied(candidates[0], c) {
			break
		}
		out = append(out, c)
	}
	return out
}

// SelectWorkflow returns the first workflow whose "when" text shares a
// keyword with the task, falling back to the first declared workflow.
func SelectWorkflow(agent *registry.Agent, task string) *registry.Workflow {
	if len(agent.Workflows) > 1 {
		taskWords := make(map[string]bool)
		for _, kw := range textnorm.Keywords(task) {
			taskWords[kw] = true
		}
		for i := range agent.Workflows {
			for _, kw := range textnorm.Keywords(agent.Workflows[i].When) {
				if taskWords[kw] {
					return &agent.Workflows[i]
				}
			}
		}
	}
	return agent.DefaultWorkflow()
}

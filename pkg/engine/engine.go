// Package engine wires the registry, dispatcher, boundary enforcer and
// executor into the operations a host exposes: dispatch a task, run a plan
// and optionally follow the handoff chain it produces.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/switchboard/pkg/boundary"
	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/telemetry"
)

// DefaultMaxHandoffDepth bounds how many handoffs one task may go through.
const DefaultMaxHandoffDepth = 3

// retainedSnapshots is how many registry generations the engine keeps for
// plans dispatched before a reload.
const retainedSnapshots = 8

// Exit codes reported for a final outcome
const (
	ExitCompleted = 0
	ExitRejected  = 1
	ExitHandedOff = 2
)

// Engine is safe for concurrent use; each Run executes one plan chain.
type Engine struct {
	holder     *registry.Holder
	dispatcher *dispatch.Dispatcher
	enforcer   *boundary.Enforcer
	executor   *executor.Executor

	matcher     matcher.Matcher
	stepTimeout time.Duration
	strict      bool
	maxDepth    int

	mu        sync.Mutex
	snapshots map[uint64]*registry.Registry
}

// Option configures an Engine
type Option func(*Engine)

// WithMatcher replaces the default TriggerMatcher.
func WithMatcher(m matcher.Matcher) Option {
	return func(e *Engine) {
		e.matcher = m
	}
}

// WithStepTimeout sets the per-step deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.stepTimeout = d
	}
}

// WithStrictBoundaries rejects step actions missing from Will.
func WithStrictBoundaries(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithMaxHandoffDepth sets the handoff depth bound.
func WithMaxHandoffDepth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxDepth = n
		}
	}
}

// New creates an Engine around holder. performer does the step work.
func New(holder *registry.Holder, performer executor.Performer, opts ...Option) *Engine {
	e := &Engine{
		holder:      holder,
		stepTimeout: executor.DefaultStepTimeout,
		maxDepth:    DefaultMaxHandoffDepth,
		snapshots:   make(map[uint64]*registry.Registry),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dispatcher = dispatch.New(holder, e.matcher)
	e.enforcer = boundary.New(e.dispatcher, boundary.WithStrict(e.strict))
	e.executor = executor.New(performer, e.enforcer, executor.WithStepTimeout(e.stepTimeout))
	e.retain(holder.Current())
	holder.OnReload(e.retain)
	return e
}

// Holder returns the registry holder.
func (e *Engine) Holder() *registry.Holder { return e.holder }

// Dispatcher returns the dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// MaxHandoffDepth returns the handoff depth bound.
func (e *Engine) MaxHandoffDepth() int { return e.maxDepth }

// Match ranks agents of the current registry for task.
func (e *Engine) Match(task string) []matcher.Candidate {
	return e.dispatcher.Rank(e.holder.Current(), task)
}

// Dispatch plans task against the current registry.
func (e *Engine) Dispatch(ctx context.Context, task string) (*plan.ExecutionPlan, error) {
	reg := e.holder.Current()
	e.retain(reg)
	return e.dispatcher.DispatchWith(ctx, reg, task)
}

// Reload re-reads the registry sources.
func (e *Engine) Reload(ctx context.Context) (*registry.Registry, error) {
	return e.holder.Reload(ctx)
}

// RunOptions controls a single Run.
type RunOptions struct {
	FollowHandoffs bool
	// OnStep is called after every recorded step of every plan in the chain.
	OnStep executor.StepHook
	// OnPlan is called when a plan in the chain finishes, before the next starts.
	OnPlan func(p *plan.ExecutionPlan)
}

// Result is the outcome of a Run.
type Result struct {
	Root  *plan.ExecutionPlan
	Chain []*plan.ExecutionPlan // Root first, then each handoff child that ran
	Final plan.Outcome
}

// Last returns the last plan that ran.
func (r *Result) Last() *plan.ExecutionPlan {
	return r.Chain[len(r.Chain)-1]
}

// ExitCode maps the final outcome to a process exit code.
func (r *Result) ExitCode() int {
	return ExitCode(r.Final)
}

// Run executes p. With FollowHandoffs, a handed-off plan is followed by a
// child plan for the target agent, up to the handoff depth bound. Every plan
// runs against the registry generation it was dispatched from when that
// generation is still retained.
func (e *Engine) Run(ctx context.Context, p *plan.ExecutionPlan, opts RunOptions) *Result {
	result := &Result{Root: p}

	_ = telemetry.WithSpan(ctx, "engine.run", func(ctx context.Context) error {
		var hooks []executor.StepHook
		if opts.OnStep != nil {
			hooks = append(hooks, opts.OnStep)
		}

		current := p
		for {
			reg := e.snapshotFor(ctx, current)
			done, child := e.executor.Execute(ctx, reg, current, hooks...)
			result.Chain = append(result.Chain, done)
			result.Final = done.Outcome
			if opts.OnPlan != nil {
				opts.OnPlan(done)
			}

			if done.Outcome.Kind != plan.OutcomeHandedOff || !opts.FollowHandoffs || child == nil {
				break
			}
			if child.Depth > e.maxDepth {
				logger.G(ctx).WithFields(map[string]any{
					"plan_id": done.ID,
					"target":  child.Agent.Name,
					"depth":   child.Depth,
				}).Warn("Handoff depth exhausted")
				result.Final = plan.Rejected(plan.CodeHandoffExhausted,
					fmt.Sprintf("handoff depth %d exceeded at '%s'", e.maxDepth, child.Agent.Name))
				break
			}
			current = child
		}

		telemetry.SetAttributes(ctx,
			attribute.String("outcome", string(result.Final.Kind)),
			attribute.Int("chain.length", len(result.Chain)),
		)
		return nil
	}, attribute.String("plan.id", p.ID))

	return result
}

// ExitCode maps an outcome to 0 (completed), 1 (rejected) or 2 (handed off).
func ExitCode(o plan.Outcome) int {
	switch o.Kind {
	case plan.OutcomeCompleted:
		return ExitCompleted
	case plan.OutcomeHandedOff:
		return ExitHandedOff
	default:
		return ExitRejected
	}
}

func (e *Engine) retain(reg *registry.Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snapshots[reg.Version()] = reg
	if len(e.snapshots) <= retainedSnapshots {
		return
	}
	versions := make([]uint64, 0, len(e.snapshots))
	for v := range e.snapshots {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	for _, v := range versions[:len(versions)-retainedSnapshots] {
		delete(e.snapshots, v)
	}
}

func (e *Engine) snapshotFor(ctx context.Context, p *plan.ExecutionPlan) *registry.Registry {
	e.mu.Lock()
	reg, ok := e.snapshots[p.RegistryVersion]
	e.mu.Unlock()
	if ok {
		if p.RegistryDigest != "" && reg.Digest() != p.RegistryDigest {
			logger.G(ctx).WithField("plan_id", p.ID).Debug("Registry content differs from the one the plan was dispatched from")
		}
		return reg
	}

	current := e.holder.Current()
	logger.G(ctx).WithFields(map[string]any{
		"plan_id":          p.ID,
		"plan_registry":    p.RegistryVersion,
		"current_registry": current.Version(),
	}).Warn("Registry generation of plan is no longer retained, resolving skills against the current registry")
	return current
}

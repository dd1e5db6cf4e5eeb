package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/performer"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/registry/registrytest"
)

// scenarioC tags the debug agent's second step with an action it may not perform.
func scenarioC() registry.Catalog {
	catalog := registrytest.Catalog()
	catalog.Agents[0].Workflows[0].Steps[1].Action = "implement_feature"
	return catalog
}

func TestScenarioCompleted(t *testing.T) {
	e := New(registrytest.Holder(t, registrytest.Catalog()), performer.DryRun{})

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)
	assert.Equal(t, "debug-test-failure", p.Agent.Name)

	result := e.Run(context.Background(), p, RunOptions{})
	assert.Equal(t, plan.Completed(), result.Final)
	assert.Equal(t, ExitCompleted, result.ExitCode())
	require.Len(t, result.Chain, 1)
	assert.Same(t, p, result.Root)
	assert.Len(t, p.Results, 3)
}

func TestScenarioHandedOff(t *testing.T) {
	e := New(registrytest.Holder(t, scenarioC()), performer.DryRun{})

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)

	result := e.Run(context.Background(), p, RunOptions{})
	assert.Equal(t, plan.OutcomeHandedOff, result.Final.Kind)
	assert.Equal(t, "implement-feature", result.Final.Target)
	assert.Equal(t, ExitHandedOff, result.ExitCode())
	require.Len(t, result.Chain, 1)

	for _, r := range p.Results {
		if r.Action == "implement_feature" {
			assert.NotEqual(t, plan.StepCompleted, r.Status)
		}
	}
}

func TestRunFollowsHandoffs(t *testing.T) {
	e := New(registrytest.Holder(t, scenarioC()), performer.DryRun{})

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)

	var (
		finished []string
		steps    int
	)
	result := e.Run(context.Background(), p, RunOptions{
		FollowHandoffs: true,
		OnStep:         func(*plan.ExecutionPlan, plan.StepResult) { steps++ },
		OnPlan:         func(p *plan.ExecutionPlan) { finished = append(finished, p.Agent.Name) },
	})

	require.Len(t, result.Chain, 2)
	assert.Equal(t, plan.HandedOff("implement-feature", p.Outcome.Reason), result.Chain[0].Outcome)
	child := result.Last()
	assert.Equal(t, "implement-feature", child.Agent.Name)
	assert.Equal(t, p.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, plan.Completed(), result.Final)
	assert.Equal(t, ExitCompleted, result.ExitCode())
	assert.Equal(t, []string{"debug-test-failure", "implement-feature"}, finished)
	// two steps on the debug agent (one blocked) and two on the feature agent
	assert.Equal(t, 4, steps)
}

func TestRunHandoffDepthBound(t *testing.T) {
	e := New(registrytest.Holder(t, scenarioC()), performer.DryRun{}, WithMaxHandoffDepth(0))

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)

	result := e.Run(context.Background(), p, RunOptions{FollowHandoffs: true})
	require.Len(t, result.Chain, 1)
	assert.Equal(t, plan.OutcomeRejected, result.Final.Kind)
	assert.Equal(t, plan.CodeHandoffExhausted, result.Final.Code)
	assert.Equal(t, ExitRejected, result.ExitCode())
}

func TestRunHandoffCycleIsRejected(t *testing.T) {
	catalog := scenarioC()
	// the feature agent hands diagnosis back, but the debug agent already had the task
	catalog.Agents[1].WillNot = []string{"diagnose"}
	catalog.Agents[1].Workflows[0].Steps[1].Action = "diagnose"
	e := New(registrytest.Holder(t, catalog), performer.DryRun{})

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)

	result := e.Run(context.Background(), p, RunOptions{FollowHandoffs: true})
	require.Len(t, result.Chain, 2)
	assert.Equal(t, plan.OutcomeRejected, result.Final.Kind)
	assert.Equal(t, plan.CodeHandoffExhausted, result.Final.Code)
	assert.Equal(t, "out of scope, no handoff available", result.Final.Reason)
}

func TestReloadDuringExecution(t *testing.T) {
	ctx := context.Background()
	initial := registrytest.Catalog()
	initial.Agents[0].Workflows[0].Steps[2].Skills = []string{"log-analysis"}
	src := &switchableSource{catalog: initial}
	holder, err := registry.Open(ctx, src)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := performer.Func(func(_ context.Context, req executor.StepRequest) (executor.StepOutcome, error) {
		if req.Index == 0 {
			once.Do(func() { close(started) })
			<-release
		}
		return executor.StepOutcome{Output: req.Instruction}, nil
	})
	e := New(holder, slow, WithStepTimeout(10*time.Second))

	p, err := e.Dispatch(ctx, "pytest is showing errors")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.RegistryVersion)

	done := make(chan *Result, 1)
	go func() { done <- e.Run(ctx, p, RunOptions{}) }()
	<-started

	// the new generation gives the debug agent a one-step workflow without skills
	next := registrytest.Catalog()
	next.Agents[0].Workflows[0].Steps = []registry.StepRecord{{Instruction: "Rerun pytest", Action: "diagnose"}}
	next.Skills = nil
	src.set(next)
	reg, err := e.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reg.Version())

	fresh, err := e.Dispatch(ctx, "pytest is showing errors")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.RegistryVersion)
	assert.Len(t, fresh.Workflow.Steps, 1)

	close(release)
	result := <-done
	assert.Equal(t, plan.Completed(), result.Final)
	assert.Len(t, p.Results, 3)
	// the last step resolved a skill the new generation no longer has
	require.Len(t, p.Results[2].Skills, 1)
	assert.Equal(t, "log-analysis", p.Results[2].Skills[0].Name)
	assert.Equal(t, uint64(1), p.RegistryVersion)
}

func TestRunFallsBackToCurrentRegistry(t *testing.T) {
	holder := registrytest.Holder(t, registrytest.Catalog())
	e := New(holder, performer.DryRun{})

	p, err := e.Dispatch(context.Background(), "pytest is showing errors")
	require.NoError(t, err)
	p.RegistryVersion = 99

	result := e.Run(context.Background(), p, RunOptions{})
	assert.Equal(t, plan.Completed(), result.Final)
}

func TestRetainIsBounded(t *testing.T) {
	holder := registrytest.Holder(t, registrytest.Catalog())
	e := New(holder, performer.DryRun{})

	for range retainedSnapshots + 3 {
		_, err := holder.Reload(context.Background())
		require.NoError(t, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Len(t, e.snapshots, retainedSnapshots)
	assert.Contains(t, e.snapshots, holder.Current().Version())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(plan.Completed()))
	assert.Equal(t, 1, ExitCode(plan.Rejected(plan.CodeStepFailed, "x")))
	assert.Equal(t, 2, ExitCode(plan.HandedOff("b", "")))
	assert.Equal(t, 1, ExitCode(plan.Pending()))
}

func TestMatch(t *testing.T) {
	e := New(registrytest.Holder(t, registrytest.Catalog()), performer.DryRun{})
	candidates := e.Match("pytest is showing errors")
	require.Len(t, candidates, 1)
	assert.Equal(t, "debug-test-failure", candidates[0].Agent.Name)
}

type switchableSource struct {
	mu      sync.Mutex
	catalog registry.Catalog
}

func (s *switchableSource) Name() string { return "switchable" }

func (s *switchableSource) Load(context.Context) (*registry.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.catalog
	return &c, nil
}

func (s *switchableSource) set(c registry.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

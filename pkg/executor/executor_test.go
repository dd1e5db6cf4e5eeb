package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jingkaihe/switchboard/pkg/boundary"
	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/registry/registrytest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type performFunc func(ctx context.Context, req StepRequest) (StepOutcome, error)

func (f performFunc) PerformStep(ctx context.Context, req StepRequest) (StepOutcome, error) {
	return f(ctx, req)
}

func echo() performFunc {
	return func(_ context.Context, req StepRequest) (StepOutcome, error) {
		return StepOutcome{Output: req.Instruction}, nil
	}
}

type fixture struct {
	reg      *registry.Registry
	enforcer *boundary.Enforcer
}

func newFixture(t *testing.T, catalog registry.Catalog) fixture {
	t.Helper()
	holder := registrytest.Holder(t, catalog)
	return fixture{reg: holder.Current(), enforcer: boundary.New(dispatch.New(holder, nil))}
}

func (f fixture) plan(t *testing.T, agentName string) *plan.ExecutionPlan {
	t.Helper()
	agent, err := f.reg.Lookup(agentName)
	require.NoError(t, err)
	return plan.New("pytest is showing errors", f.reg, agent, agent.DefaultWorkflow())
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	var hooked []int
	var priors []int
	perf := performFunc(func(_ context.Context, req StepRequest) (StepOutcome, error) {
		priors = append(priors, len(req.Prior))
		if req.Index == 0 && assert.Len(t, req.Skills, 1) {
			assert.Equal(t, "log-analysis", req.Skills[0].Name)
		}
		return StepOutcome{Output: "done: " + req.Instruction}, nil
	})
	ex := New(perf, f.enforcer, WithStepHook(func(_ *plan.ExecutionPlan, r plan.StepResult) {
		hooked = append(hooked, r.Index)
	}))

	got, child := ex.Execute(context.Background(), f.reg, p)
	assert.Nil(t, child)
	assert.Equal(t, plan.Completed(), got.Outcome)
	require.Len(t, got.Results, 3)
	for i, r := range got.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, plan.StepCompleted, r.Status)
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
	}
	assert.Equal(t, "done: Reproduce the failure locally", got.Results[0].Output)
	assert.Equal(t, []plan.SkillInvocation{{Name: "log-analysis", Tier: registry.TierPrimary}}, got.Results[0].Skills)
	assert.Equal(t, []int{0, 1, 2}, priors)
	assert.Equal(t, []int{0, 1, 2}, hooked)
}

func TestExecuteFailsFast(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	var calls atomic.Int32
	perf := performFunc(func(_ context.Context, req StepRequest) (StepOutcome, error) {
		calls.Add(1)
		if req.Index == 1 {
			return StepOutcome{Output: "partial"}, errors.New("collaborator crashed")
		}
		return StepOutcome{}, nil
	})

	got, _ := New(perf, f.enforcer).Execute(context.Background(), f.reg, p)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, got.Results, 2)
	assert.Equal(t, plan.StepFailed, got.Results[1].Status)
	assert.Equal(t, "partial", got.Results[1].Output)
	assert.Contains(t, got.Results[1].Error, "collaborator crashed")
	assert.Equal(t, plan.OutcomeRejected, got.Outcome.Kind)
	assert.Equal(t, plan.CodeStepFailed, got.Outcome.Code)
	assert.Contains(t, got.Outcome.Reason, ErrStepFailed.Error())
}

func TestExecuteReportedFailure(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	perf := performFunc(func(context.Context, StepRequest) (StepOutcome, error) {
		return StepOutcome{Status: plan.StepFailed, Output: "assertion error"}, nil
	})

	got, _ := New(perf, f.enforcer).Execute(context.Background(), f.reg, p)
	require.Len(t, got.Results, 1)
	assert.Equal(t, plan.CodeStepFailed, got.Outcome.Code)
	assert.Contains(t, got.Outcome.Reason, "reported failed")
}

func TestExecuteStepTimeout(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stubborn := performFunc(func(context.Context, StepRequest) (StepOutcome, error) {
		<-release
		return StepOutcome{}, nil
	})

	start := time.Now()
	got, _ := New(stubborn, f.enforcer, WithStepTimeout(50*time.Millisecond)).Execute(context.Background(), f.reg, p)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, got.Results, 1)
	assert.Equal(t, plan.StepFailed, got.Results[0].Status)
	assert.Contains(t, got.Results[0].Error, "timed out")
	assert.Equal(t, plan.CodeStepTimeout, got.Outcome.Code)
}

func TestExecuteStepDeadlineSeenByPerformer(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	polite := performFunc(func(ctx context.Context, _ StepRequest) (StepOutcome, error) {
		<-ctx.Done()
		return StepOutcome{}, ctx.Err()
	})

	got, _ := New(polite, f.enforcer, WithStepTimeout(20*time.Millisecond)).Execute(context.Background(), f.reg, p)
	assert.Equal(t, plan.OutcomeRejected, got.Outcome.Kind)
	assert.Equal(t, plan.CodeStepTimeout, got.Outcome.Code)
}

func TestExecuteCancellationBetweenSteps(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	perf := performFunc(func(stepCtx context.Context, req StepRequest) (StepOutcome, error) {
		if req.Index == 0 {
			cancel()
			// the running step is not interrupted
			time.Sleep(20 * time.Millisecond)
			assert.NoError(t, stepCtx.Err())
		}
		return StepOutcome{Output: "ok"}, nil
	})

	got, _ := New(perf, f.enforcer).Execute(ctx, f.reg, p)
	require.Len(t, got.Results, 1)
	assert.Equal(t, plan.StepCompleted, got.Results[0].Status)
	assert.Equal(t, plan.OutcomeRejected, got.Outcome.Kind)
	assert.Equal(t, plan.CodeCancelled, got.Outcome.Code)
}

func TestExecuteUnknownSkill(t *testing.T) {
	catalog := registrytest.Catalog()
	catalog.Agents[0].Workflows[0].Steps[1].Skills = []string{"not-installed"}
	f := newFixture(t, catalog)
	p := f.plan(t, "debug-test-failure")

	got, _ := New(echo(), f.enforcer).Execute(context.Background(), f.reg, p)
	require.Len(t, got.Results, 2)
	assert.Equal(t, plan.StepFailed, got.Results[1].Status)
	assert.Equal(t, plan.CodeUnknownSkill, got.Outcome.Code)
	assert.Contains(t, got.Outcome.Reason, "not-installed")
}

func TestExecuteHandsOffForbiddenStep(t *testing.T) {
	catalog := registrytest.Catalog()
	catalog.Agents[0].Workflows[0].Steps[1].Action = "implement_feature"
	f := newFixture(t, catalog)
	p := f.plan(t, "debug-test-failure")

	var calls atomic.Int32
	perf := performFunc(func(context.Context, StepRequest) (StepOutcome, error) {
		calls.Add(1)
		return StepOutcome{}, nil
	})

	got, child := New(perf, f.enforcer).Execute(context.Background(), f.reg, p)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, got.Results, 2)
	assert.Equal(t, plan.StepCompleted, got.Results[0].Status)
	assert.Equal(t, plan.StepBlocked, got.Results[1].Status)
	assert.Equal(t, plan.OutcomeHandedOff, got.Outcome.Kind)
	assert.Equal(t, "implement-feature", got.Outcome.Target)
	require.NotNil(t, child)
	assert.Equal(t, "implement-feature", child.Agent.Name)
	assert.Equal(t, p.ID, child.ParentID)
}

func TestExecuteStrictBoundaries(t *testing.T) {
	holder := registrytest.Holder(t, registrytest.Catalog())
	reg := holder.Current()
	feature, err := reg.Lookup("implement-feature")
	require.NoError(t, err)
	p := plan.New("new endpoint", reg, feature, feature.DefaultWorkflow())
	p.Workflow.Steps[1].Action = "deploy"

	strict := boundary.New(dispatch.New(holder, nil), boundary.WithStrict(true))
	got, child := New(echo(), strict).Execute(context.Background(), reg, p)
	assert.Nil(t, child)
	require.Len(t, got.Results, 2)
	assert.Equal(t, plan.StepBlocked, got.Results[1].Status)
	assert.Equal(t, plan.CodeHandoffExhausted, got.Outcome.Code)
}

func TestExecuteSkipsFinishedPlan(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")
	p.Finish(plan.Rejected(plan.CodeCancelled, "stopped"))

	got, child := New(echo(), f.enforcer).Execute(context.Background(), f.reg, p)
	assert.Nil(t, child)
	assert.Empty(t, got.Results)
	assert.Equal(t, plan.CodeCancelled, got.Outcome.Code)
}

func TestExecuteSkippedStepContinues(t *testing.T) {
	f := newFixture(t, registrytest.Catalog())
	p := f.plan(t, "debug-test-failure")

	perf := performFunc(func(_ context.Context, req StepRequest) (StepOutcome, error) {
		if req.Index == 1 {
			return StepOutcome{Status: plan.StepSkipped}, nil
		}
		return StepOutcome{}, nil
	})

	got, _ := New(perf, f.enforcer).Execute(context.Background(), f.reg, p)
	require.Len(t, got.Results, 3)
	assert.Equal(t, plan.StepSkipped, got.Results[1].Status)
	assert.Equal(t, plan.Completed(), got.Outcome)
}

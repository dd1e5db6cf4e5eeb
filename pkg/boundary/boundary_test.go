package boundary

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/registry/registrytest"
)

func setup(t *testing.T, catalog registry.Catalog, opts ...Option) (*registry.Registry, *Enforcer) {
	t.Helper()
	holder := registrytest.Holder(t, catalog)
	return holder.Current(), New(dispatch.New(holder, nil), opts...)
}

func debugPlan(t *testing.T, reg *registry.Registry, task string) *plan.ExecutionPlan {
	t.Helper()
	agent, err := reg.Lookup("debug-test-failure")
	require.NoError(t, err)
	return plan.New(task, reg, agent, agent.DefaultWorkflow())
}

func TestCheck(t *testing.T) {
	reg, e := setup(t, registrytest.Catalog())
	p := debugPlan(t, reg, "pytest")

	assert.NoError(t, e.Check(p.Agent, 0, plan.Step{Action: "diagnose"}))
	assert.NoError(t, e.Check(p.Agent, 0, plan.Step{Action: "write_docs"}))

	err := e.Check(p.Agent, 1, plan.Step{Action: "implement_feature"})
	var violation *ViolationError
	require.True(t, errors.As(err, &violation))
	assert.False(t, violation.Undeclared)
	assert.Equal(t, "agent 'debug-test-failure' step 2: action 'implement_feature' is in will_not", err.Error())

	strict := New(nil, WithStrict(true))
	err = strict.Check(p.Agent, 0, plan.Step{Action: "write_docs"})
	require.True(t, errors.As(err, &violation))
	assert.True(t, violation.Undeclared)
	assert.Contains(t, err.Error(), "not declared in will")
}

func TestHandoffToRelatedAgent(t *testing.T) {
	reg, e := setup(t, registrytest.Catalog())
	p := debugPlan(t, reg, "pytest is showing errors")
	p.Append(plan.StepResult{Index: 0, Action: "diagnose", Status: plan.StepCompleted})

	outcome, child := e.Handoff(context.Background(), reg, p, plan.Step{Action: "implement_feature"})
	assert.Equal(t, plan.OutcomeHandedOff, outcome.Kind)
	assert.Equal(t, "implement-feature", outcome.Target)
	assert.Contains(t, outcome.Reason, "step 2")

	require.NotNil(t, child)
	assert.Equal(t, "implement-feature", child.Agent.Name)
	assert.Equal(t, "build", child.Workflow.Name)
	assert.Equal(t, p.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, []string{"debug-test-failure", "implement-feature"}, child.Chain)
	assert.Equal(t, p.Task, child.Task)
}

func TestHandoffRejectsWhenNoRelatedAgentAccepts(t *testing.T) {
	reg, e := setup(t, registrytest.Catalog())
	p := debugPlan(t, reg, "pytest")

	outcome, child := e.Handoff(context.Background(), reg, p, plan.Step{Action: "deploy"})
	assert.Nil(t, child)
	assert.Equal(t, plan.OutcomeRejected, outcome.Kind)
	assert.Equal(t, plan.CodeHandoffExhausted, outcome.Code)
	assert.Equal(t, "out of scope, no handoff available", outcome.Reason)
}

func TestHandoffSkipsAgentsAlreadyInChain(t *testing.T) {
	catalog := registrytest.Catalog()
	catalog.Agents[1].WillNot = []string{"diagnose"}
	reg, e := setup(t, catalog)

	feature, err := reg.Lookup("implement-feature")
	require.NoError(t, err)
	parent := debugPlan(t, reg, "pytest")
	p := plan.New("pytest", reg, feature, feature.DefaultWorkflow())
	p.Adopt(parent)

	// debug-test-failure accepts diagnose but already handled the task
	outcome, child := e.Handoff(context.Background(), reg, p, plan.Step{Action: "diagnose"})
	assert.Nil(t, child)
	assert.Equal(t, plan.CodeHandoffExhausted, outcome.Code)
}

func TestHandoffChoosesByMatcherScore(t *testing.T) {
	catalog := registrytest.Catalog()
	catalog.Agents = append(catalog.Agents, registry.AgentRecord{
		Name:       "api-designer",
		Category:   "architecture",
		Triggers:   []string{"design the api"},
		FocusAreas: []registry.FocusAreaRecord{{Name: "contracts", Keywords: []string{"schema"}}},
		Will:       []string{"implement_feature"},
		Workflows: []registry.WorkflowRecord{{Name: "design", Steps: []registry.StepRecord{{Instruction: "Draft the schema", Action: "implement_feature"}}}},
	})
	catalog.Agents[0].Related = []string{"implement-feature", "api-designer"}
	reg, e := setup(t, catalog)

	p := debugPlan(t, reg, "pytest fails, we need to design the api schema first")
	outcome, child := e.Handoff(context.Background(), reg, p, plan.Step{Action: "implement_feature"})
	require.NotNil(t, child)
	assert.Equal(t, "api-designer", outcome.Target)

	// nothing in this task scores, so declaration order decides
	p = debugPlan(t, reg, "pytest")
	outcome, _ = e.Handoff(context.Background(), reg, p, plan.Step{Action: "implement_feature"})
	assert.Equal(t, "implement-feature", outcome.Target)
}

func TestHandoffTieIsReported(t *testing.T) {
	catalog := registrytest.Catalog()
	catalog.Agents[1].Triggers = append(catalog.Agents[1].Triggers, "clean up code")
	catalog.Agents = append(catalog.Agents, registry.AgentRecord{
		Name:      "code-cleaner",
		Category:  "implementation",
		Triggers:  []string{"clean up code"},
		Will:      []string{"implement_feature"},
		Workflows: []registry.WorkflowRecord{{Name: "tidy", Steps: []registry.StepRecord{{Instruction: "Tidy the module", Action: "implement_feature"}}}},
	})
	catalog.Agents[0].Related = []string{"code-cleaner", "implement-feature"}
	reg, e := setup(t, catalog)

	p := debugPlan(t, reg, "pytest broke, clean up code afterwards")
	outcome, child := e.Handoff(context.Background(), reg, p, plan.Step{Action: "implement_feature"})
	require.NotNil(t, child)
	assert.Equal(t, "code-cleaner", outcome.Target)
	assert.Contains(t, outcome.Reason, "tied candidates")
	assert.Contains(t, outcome.Reason, "implement-feature")
	assert.Contains(t, outcome.Reason, "chose 'code-cleaner' by declaration order")
}

func TestEnforceBlocksForbiddenCompletedStep(t *testing.T) {
	reg, e := setup(t, registrytest.Catalog())
	p := debugPlan(t, reg, "pytest")
	now := time.Now()
	p.Append(plan.StepResult{Index: 0, Action: "diagnose", Status: plan.StepCompleted, StartedAt: now, FinishedAt: now})
	p.Append(plan.StepResult{Index: 1, Action: "implement_feature", Status: plan.StepCompleted, StartedAt: now, FinishedAt: now})
	p.Append(plan.StepResult{Index: 2, Action: "fix_test", Status: plan.StepCompleted, StartedAt: now, FinishedAt: now})
	p.Finish(plan.Completed())

	audited, child := e.Enforce(context.Background(), reg, p)
	assert.Same(t, p, audited)
	require.NotNil(t, child)
	assert.Equal(t, p.ID, child.ParentID)
	assert.Equal(t, plan.HandedOff("implement-feature", audited.Outcome.Reason), audited.Outcome)
	assert.Contains(t, audited.Outcome.Reason, "step 2")
	assert.Equal(t, plan.StepCompleted, audited.Results[0].Status)
	assert.Equal(t, plan.StepBlocked, audited.Results[1].Status)
	assert.Equal(t, plan.StepSkipped, audited.Results[2].Status)

	for _, r := range audited.Results {
		if r.Status == plan.StepCompleted {
			assert.False(t, audited.Agent.Capabilities().Forbids(r.Action))
		}
	}
}

func TestEnforceLeavesCleanPlanAlone(t *testing.T) {
	reg, e := setup(t, registrytest.Catalog())
	p := debugPlan(t, reg, "pytest")
	p.Append(plan.StepResult{Index: 0, Action: "diagnose", Status: plan.StepCompleted})
	p.Finish(plan.Completed())

	audited, child := e.Enforce(context.Background(), reg, p)
	assert.Nil(t, child)
	assert.Equal(t, plan.Completed(), audited.Outcome)
}

package plan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/registry/registrytest"
)

func newDebugPlan(t *testing.T) *ExecutionPlan {
	t.Helper()
	reg := registrytest.Build(t, registrytest.Catalog())
	agent, err := reg.Lookup("debug-test-failure")
	require.NoError(t, err)
	return New("pytest is showing errors", reg, agent, agent.DefaultWorkflow())
}

func TestNewSnapshotsAgentAndWorkflow(t *testing.T) {
	p := newDebugPlan(t)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, OutcomePending, p.Outcome.Kind)
	assert.False(t, p.Done())
	assert.Equal(t, uint64(0), p.RegistryVersion)
	assert.NotEmpty(t, p.RegistryDigest)
	assert.Equal(t, "debug-test-failure", p.Agent.Name)
	assert.Equal(t, registry.CategoryQuality, p.Agent.Category)
	assert.True(t, p.Agent.Capabilities().Forbids("implement_feature"))
	assert.Equal(t, registry.TierPrimary, p.Agent.SkillTier("log-analysis"))
	assert.Equal(t, registry.Tier(""), p.Agent.SkillTier("unlisted"))
	assert.Equal(t, "triage", p.Workflow.Name)
	require.Len(t, p.Workflow.Steps, 3)
	assert.Equal(t, []string{"log-analysis"}, p.Workflow.Steps[0].Skills)
	assert.Equal(t, []string{"debug-test-failure"}, p.Chain)
	assert.Equal(t, 0, p.NextStep())
}

func TestSnapshotIsIndependentOfRegistry(t *testing.T) {
	reg := registrytest.Build(t, registrytest.Catalog())
	agent, err := reg.Lookup("debug-test-failure")
	require.NoError(t, err)

	p := New("task", reg, agent, agent.DefaultWorkflow())
	p.Workflow.Steps[0].Skills[0] = "mutated"
	p.Agent.Will[0] = "mutated"

	assert.Equal(t, "log-analysis", agent.Workflows[0].Steps[0].Skills[0])
	assert.Equal(t, "diagnose", agent.Capabilities.Will[0])
}

func TestAdoptExtendsChain(t *testing.T) {
	parent := newDebugPlan(t)

	reg := registrytest.Build(t, registrytest.Catalog())
	feature, err := reg.Lookup("implement-feature")
	require.NoError(t, err)
	child := New(parent.Task, reg, feature, feature.DefaultWorkflow())
	child.Adopt(parent)

	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, []string{"debug-test-failure", "implement-feature"}, child.Chain)
	assert.True(t, child.InChain("debug-test-failure"))
	assert.Equal(t, []string{"debug-test-failure"}, parent.Chain)
}

func TestAppendAndFinish(t *testing.T) {
	p := newDebugPlan(t)
	created := p.UpdatedAt

	start := time.Now()
	p.Append(StepResult{Index: 0, Action: "diagnose", Status: StepCompleted, StartedAt: start, FinishedAt: start.Add(time.Second)})
	p.Finish(Rejected(CodeStepFailed, "boom"))

	assert.Equal(t, 1, p.NextStep())
	assert.Equal(t, time.Second, p.Results[0].Duration())
	assert.True(t, p.Done())
	assert.False(t, p.UpdatedAt.Before(created))
	assert.Equal(t, "rejected(step_failed: boom)", p.Outcome.String())
}

func TestCloneIsDeep(t *testing.T) {
	p := newDebugPlan(t)
	p.Append(StepResult{Index: 0, Skills: []SkillInvocation{{Name: "log-analysis"}}})

	c := p.Clone()
	c.Results[0].Skills[0].Name = "changed"
	c.Chain[0] = "changed"
	c.Workflow.Steps[0].Skills[0] = "changed"

	assert.Equal(t, "log-analysis", p.Results[0].Skills[0].Name)
	assert.Equal(t, "debug-test-failure", p.Chain[0])
	assert.Equal(t, "log-analysis", p.Workflow.Steps[0].Skills[0])
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed().String())
	assert.Equal(t, "pending", Outcome{}.String())
	assert.Equal(t, "handed_off(implement-feature)", HandedOff("implement-feature", "out of scope").String())
	assert.False(t, Outcome{}.Terminal())
	assert.True(t, HandedOff("x", "").Terminal())
}

func TestPlanJSONShape(t *testing.T) {
	p := newDebugPlan(t)
	p.Finish(HandedOff("implement-feature", "step 3 is out of scope"))

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, p.ID, doc["id"])
	outcome := doc["outcome"].(map[string]any)
	assert.Equal(t, "handed_off", outcome["kind"])
	assert.Equal(t, "implement-feature", outcome["target"])
	assert.Equal(t, "boundary_violation", outcome["code"])
	assert.Equal(t, []any{}, doc["results"])

	var decoded ExecutionPlan
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, p.Workflow, decoded.Workflow)
	assert.Equal(t, p.Outcome, decoded.Outcome)
}

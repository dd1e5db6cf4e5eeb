// Package registrytest provides catalogs shared by tests of the packages
// built on top of the registry.
package registrytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/registry"
)

// DebugAgent returns the debug-test-failure agent record.
func DebugAgent() registry.AgentRecord {
	return registry.AgentRecord{
		Name:        "debug-test-failure",
		Description: "Diagnoses broken suites",
		Category:    "quality",
		Triggers:    []string{"tests are failing", "pytest"},
		FocusAreas: []registry.FocusAreaRecord{
			{Name: "testing", Keywords: []string{"failing", "test"}},
		},
		Will:    []string{"diagnose", "fix_test"},
		WillNot: []string{"implement_feature"},
		Related: []string{"implement-feature"},
		Skills:  []registry.SkillRefRecord{{Name: "log-analysis", Tier: "primary"}},
		Workflows: []registry.WorkflowRecord{
			{
				Name: "triage",
				When: "tests started failing after a change",
				Steps: []registry.StepRecord{
					{Instruction: "Reproduce the failure locally", Action: "diagnose", Skills: []string{"log-analysis"}, Expect: "failing output"},
					{Instruction: "Isolate the root cause", Action: "diagnose"},
					{Instruction: "Repair the broken test", Action: "fix_test"},
				},
			},
		},
	}
}

// FeatureAgent returns the implement-feature agent record.
func FeatureAgent() registry.AgentRecord {
	return registry.AgentRecord{
		Name:        "implement-feature",
		Description: "Builds features and APIs",
		Category:    "implementation",
		Triggers:    []string{"implement feature", "new endpoint"},
		FocusAreas: []registry.FocusAreaRecord{
			{Name: "api", Keywords: []string{"endpoint", "payment"}},
		},
		Will:    []string{"implement_feature", "write_code"},
		Related: []string{"debug-test-failure"},
		Workflows: []registry.WorkflowRecord{
			{
				Name: "build",
				When: "a new capability is requested",
				Steps: []registry.StepRecord{
					{Instruction: "Design the change", Action: "implement_feature"},
					{Instruction: "Write the code", Action: "write_code"},
				},
			},
		},
	}
}

// LogSkill returns the log-analysis skill record.
func LogSkill() registry.SkillRecord {
	return registry.SkillRecord{Name: "log-analysis", Description: "Reads CI and test logs"}
}

// Catalog returns the two-agent catalog used across scenario tests.
func Catalog() registry.Catalog {
	return registry.Catalog{
		Agents: []registry.AgentRecord{DebugAgent(), FeatureAgent()},
		Skills: []registry.SkillRecord{LogSkill()},
	}
}

// Build builds a registry from records and fails the test on error.
func Build(t *testing.T, catalog registry.Catalog) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(context.Background(), catalog)
	require.NoError(t, err)
	return reg
}

// Holder wraps a freshly built registry in a Holder whose reloads re-read the same catalog.
func Holder(t *testing.T, catalog registry.Catalog) *registry.Holder {
	t.Helper()
	return registry.NewHolder(Build(t, catalog), registry.StaticSource{Catalog: catalog})
}

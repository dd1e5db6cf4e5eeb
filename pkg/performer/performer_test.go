package performer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

func request() executor.StepRequest {
	return executor.StepRequest{
		PlanID:      "plan-1",
		Agent:       "debug-test-failure",
		Index:       0,
		Instruction: "Reproduce the failure",
		Action:      "diagnose",
		Skills:      []*registry.Skill{{Name: "log-analysis", Description: "Reads logs"}},
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "step.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755))
	return path
}

func TestNew(t *testing.T) {
	p, err := New("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, DryRun{}, p)

	p, err = New(KindCommand, "/bin/true", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, &Command{Path: "/bin/true", Args: []string{"x"}}, p)

	_, err = New(KindCommand, "", nil)
	assert.Error(t, err)
	_, err = New("telepathy", "", nil)
	assert.Error(t, err)
}

func TestDryRun(t *testing.T) {
	out, err := DryRun{}.PerformStep(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, plan.StepCompleted, out.Status)
	assert.Equal(t, "[dry-run] diagnose: Reproduce the failure (skills: log-analysis)", out.Output)
}

func TestFunc(t *testing.T) {
	f := Func(func(_ context.Context, req executor.StepRequest) (executor.StepOutcome, error) {
		return executor.StepOutcome{Output: req.Action}, nil
	})
	out, err := f.PerformStep(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "diagnose", out.Output)
}

func TestCommandJSONOutput(t *testing.T) {
	script := writeScript(t, `payload=$(cat)
case "$payload" in
  *'"instruction":"Reproduce the failure"'*) ;;
  *) echo "unexpected payload" >&2; exit 3 ;;
esac
echo "{\"status\": \"completed\", \"output\": \"ran $SWITCHBOARD_ACTION for $SWITCHBOARD_PLAN_ID\"}"
`)

	out, err := NewCommand(script).PerformStep(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, plan.StepCompleted, out.Status)
	assert.Equal(t, "ran diagnose for plan-1", out.Output)
}

func TestCommandPlainOutput(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\necho \"  all good  \"\n")

	out, err := NewCommand(script).PerformStep(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, plan.StepCompleted, out.Status)
	assert.Equal(t, "all good", out.Output)
}

func TestCommandReportsFailureStatus(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\necho '{\"status\": \"failed\", \"output\": \"2 tests failing\"}'\n")

	out, err := NewCommand(script).PerformStep(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, plan.StepFailed, out.Status)
	assert.Equal(t, "2 tests failing", out.Output)
}

func TestCommandNonZeroExit(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\necho 'boom' >&2\nexit 2\n")

	_, err := NewCommand(script).PerformStep(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandDeadline(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewCommand(script).PerformStep(ctx, request())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCommandDeadlineKillsChildren(t *testing.T) {
	script := writeScript(t, "sleep 5 &\nwait\n")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewCommand(script).PerformStep(ctx, request())
	require.Error(t, err)
	assert.Less(t, time.Since(start), waitDelay)
}

func TestParseOutput(t *testing.T) {
	assert.Equal(t, executor.StepOutcome{Status: plan.StepCompleted, Output: `{"unrelated": 1}`}, parseOutput([]byte(`{"unrelated": 1}`)))
	assert.Equal(t, executor.StepOutcome{Status: plan.StepSkipped}, parseOutput([]byte(`{"status": "skipped"}`)))
	assert.Equal(t, executor.StepOutcome{Status: plan.StepCompleted}, parseOutput(nil))
}

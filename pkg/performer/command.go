package performer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/version"
)

// waitDelay bounds how long a killed command may hold its output pipes open.
const waitDelay = 2 * time.Second

// Command runs an external executable once per step. The step request is
// written to stdin as JSON. Stdout is read as {"status": ..., "output": ...}
// when it parses as such, and as plain output otherwise. A non-zero exit
// status fails the step.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

// NewCommand creates a command performer
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

// PerformStep implements executor.Performer
func (c *Command) PerformStep(ctx context.Context, req executor.StepRequest) (executor.StepOutcome, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return executor.StepOutcome{}, errors.Wrap(err, "failed to marshal step request")
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	isolate(cmd)
	cmd.Env = append(os.Environ(),
		"SWITCHBOARD_PLAN_ID="+req.PlanID,
		"SWITCHBOARD_AGENT="+req.Agent,
		"SWITCHBOARD_ACTION="+req.Action,
		"SWITCHBOARD_USER_AGENT="+version.Get().UserAgent(),
	)
	cmd.Env = append(cmd.Env, c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.G(ctx).WithFields(map[string]any{
		"command": c.Path,
		"plan_id": req.PlanID,
		"step":    req.Index + 1,
	}).Debug("Running step command")

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return executor.StepOutcome{}, errors.Wrapf(context.DeadlineExceeded, "command %s", c.Path)
		}
		return executor.StepOutcome{Output: strings.TrimSpace(stdout.String())},
			errors.Wrapf(err, "command %s failed: %s", c.Path, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(stdout.Bytes()), nil
}

func parseOutput(out []byte) executor.StepOutcome {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var result struct {
			Status *plan.StepStatus `json:"status"`
			Output *string          `json:"output"`
		}
		if err := json.Unmarshal(trimmed, &result); err == nil && (result.Status != nil || result.Output != nil) {
			outcome := executor.StepOutcome{Status: plan.StepCompleted}
			if result.Status != nil && *result.Status != "" {
				outcome.Status = *result.Status
			}
			if result.Output != nil {
				outcome.Output = *result.Output
			}
			return outcome
		}
	}
	return executor.StepOutcome{Status: plan.StepCompleted, Output: string(trimmed)}
}

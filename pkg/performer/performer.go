// Package performer provides the step collaborators the executor hands work
// to. The engine itself never performs domain work.
package performer

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/plan"
)

// Performer kinds accepted by New
const (
	KindDryRun  = "dry-run"
	KindCommand = "command"
)

// New builds a performer by kind. command and args are used by KindCommand.
func New(kind, command string, args []string) (executor.Performer, error) {
	switch kind {
	case "", KindDryRun:
		return DryRun{}, nil
	case KindCommand:
		if command == "" {
			return nil, errors.New("performer.command is required for the command performer")
		}
		return NewCommand(command, args...), nil
	default:
		return nil, errors.Errorf("unknown performer kind '%s'", kind)
	}
}

// DryRun completes every step and echoes what would have been done.
type DryRun struct{}

// PerformStep implements executor.Performer
func (DryRun) PerformStep(_ context.Context, req executor.StepRequest) (executor.StepOutcome, error) {
	output := fmt.Sprintf("[dry-run] %s: %s", req.Action, req.Instruction)
	if len(req.Skills) > 0 {
		names := make([]string, 0, len(req.Skills))
		for _, s := range req.Skills {
			names = append(names, s.Name)
		}
		output += fmt.Sprintf(" (skills: %s)", strings.Join(names, ", "))
	}
	return executor.StepOutcome{Status: plan.StepCompleted, Output: output}, nil
}

// Func adapts a function to executor.Performer.
type Func func(ctx context.Context, req executor.StepRequest) (executor.StepOutcome, error)

// PerformStep implements executor.Performer
func (f Func) PerformStep(ctx context.Context, req executor.StepRequest) (executor.StepOutcome, error) {
	return f(ctx, req)
}

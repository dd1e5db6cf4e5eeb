package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/engine"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/presenter"
)

var runCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Execute a dispatched plan",
	Long: `Execute the steps of a saved plan in order and print each step result.

Exit codes: 0 completed, 1 rejected, 2 handed off to another agent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if p.Done() {
			return errors.Errorf("plan %s already finished: %s", p.ID, p.Outcome)
		}

		follow, _ := cmd.Flags().GetBool("follow-handoffs")
		return runPlan(cmd, a, p, follow || cfg.Engine.FollowHandoffs)
	},
}

// runPlan runs p, saving every plan of the chain as it finishes.
func runPlan(cmd *cobra.Command, a *app, p *plan.ExecutionPlan, follow bool) error {
	ctx := logger.WithFields(cmd.Context(), map[string]any{"plan_id": p.ID})
	asJSON, _ := cmd.Flags().GetBool("json")

	var saveErr error
	result := a.engine.Run(ctx, p, engine.RunOptions{
		FollowHandoffs: follow,
		OnStep: func(current *plan.ExecutionPlan, r plan.StepResult) {
			if !asJSON {
				presenter.Step(r)
			}
		},
		OnPlan: func(done *plan.ExecutionPlan) {
			if err := a.store.Save(ctx, done); err != nil {
				saveErr = errors.Wrapf(err, "failed to save plan %s", done.ID)
			}
			if !asJSON && done.Outcome.Kind == plan.OutcomeHandedOff && follow {
				presenter.Section(fmt.Sprintf("Handing off to %s", done.Outcome.Target))
			}
		},
	})
	if saveErr != nil {
		logger.G(ctx).WithError(saveErr).Error("plan state was not persisted")
	}

	if asJSON {
		if err := presenter.JSON(result.Chain); err != nil {
			return err
		}
	} else {
		presenter.Separator()
		presenter.Outcome(result.Final)
	}

	if code := result.ExitCode(); code != engine.ExitCompleted {
		return &exitCodeError{code: code}
	}
	return nil
}

func init() {
	runCmd.Flags().Bool("follow-handoffs", false, "Follow handoffs to related agents")
	runCmd.Flags().Bool("json", false, "Print the executed plans as JSON")
}

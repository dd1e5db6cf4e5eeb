package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/presenter"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <task...>",
	Short: "Select an agent for a task and save its execution plan",
	Long: `Match the task against every agent's triggers and focus areas, select the
best agent and workflow, and save a pending execution plan. Run it later with
'switchboard run <plan-id>'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		task := strings.Join(args, " ")

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.engine.Dispatch(ctx, task)
		if err != nil {
			var ambiguous *dispatch.AmbiguousError
			if errors.As(err, &ambiguous) {
				presenter.Warning("The task matches several agents equally; rephrase it or name the domain more precisely")
				presenter.Candidates(ambiguous.Candidates)
				return &exitCodeError{code: 1}
			}
			return err
		}

		if err := a.store.Save(ctx, p); err != nil {
			return errors.Wrap(err, "failed to save plan")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return presenter.JSON(p)
		}

		presenter.Success(fmt.Sprintf("Dispatched to %s", p.Agent.Name))
		presenter.Info(fmt.Sprintf("Workflow: %s (%d steps)", p.Workflow.Name, len(p.Workflow.Steps)))
		presenter.Info(fmt.Sprintf("Plan:     %s", p.ID))

		if run, _ := cmd.Flags().GetBool("run"); run {
			follow, _ := cmd.Flags().GetBool("follow-handoffs")
			return runPlan(cmd, a, p, follow || cfg.Engine.FollowHandoffs)
		}
		return nil
	},
}

func init() {
	dispatchCmd.Flags().Bool("json", false, "Print the plan as JSON")
	dispatchCmd.Flags().Bool("run", false, "Run the plan immediately")
	dispatchCmd.Flags().Bool("follow-handoffs", false, "With --run, follow handoffs to related agents")
}

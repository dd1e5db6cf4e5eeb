package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/presenter"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect saved execution plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved plans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		flags := cmd.Flags()
		agent, _ := flags.GetString("agent")
		outcome, _ := flags.GetString("outcome")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		plans, err := store.List(ctx, planstore.ListOptions{
			Agent:   agent,
			Outcome: plan.OutcomeKind(outcome),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return err
		}

		if asJSON, _ := flags.GetBool("json"); asJSON {
			return presenter.JSON(plans)
		}
		if len(plans) == 0 {
			presenter.Info("No plans found")
			return nil
		}
		for _, p := range plans {
			fmt.Printf("%s  %s  %-24s %-22s %s\n",
				p.ID, p.CreatedAt.Local().Format("2006-01-02 15:04"), p.Agent.Name, p.Outcome, truncate(p.Task, 50))
		}
		return nil
	},
}

var plansShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan and its step results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return presenter.JSON(p)
		}

		presenter.Section("Plan " + p.ID)
		presenter.Info("Task:     " + p.Task)
		presenter.Info(fmt.Sprintf("Agent:    %s (%s)", p.Agent.Name, p.Agent.Category))
		presenter.Info(fmt.Sprintf("Workflow: %s", p.Workflow.Name))
		presenter.Info(fmt.Sprintf("Registry: version %d", p.RegistryVersion))
		if p.ParentID != "" {
			presenter.Info(fmt.Sprintf("Parent:   %s (depth %d)", p.ParentID, p.Depth))
		}
		presenter.Separator()
		for _, r := range p.Results {
			presenter.Step(r)
		}
		for i := p.NextStep(); i < len(p.Workflow.Steps); i++ {
			s := p.Workflow.Steps[i]
			presenter.Info(fmt.Sprintf("  [%d] %s (pending) %s", i+1, s.Action, s.Instruction))
		}
		presenter.Separator()
		presenter.Outcome(p.Outcome)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	plansListCmd.Flags().String("agent", "", "Only plans dispatched to this agent")
	plansListCmd.Flags().String("outcome", "", "Only plans with this outcome (pending, completed, handed_off, rejected)")
	plansListCmd.Flags().Int("limit", 20, "Maximum number of plans")
	plansListCmd.Flags().Int("offset", 0, "Number of plans to skip")
	plansListCmd.Flags().Bool("json", false, "Print as JSON")
	plansShowCmd.Flags().Bool("json", false, "Print as JSON")

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansShowCmd)
}

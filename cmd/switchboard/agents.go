package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/presenter"
	"github.com/jingkaihe/switchboard/pkg/server"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent registry",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		holder, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}

		agents := holder.Current().AllAgents()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out := make([]server.AgentSummary, len(agents))
			for i, a := range agents {
				out[i] = server.NewAgentSummary(a)
			}
			return presenter.JSON(out)
		}

		if len(agents) == 0 {
			presenter.Warning("No agents found")
			return nil
		}
		for _, a := range agents {
			fmt.Printf("%-28s %-15s %s\n", a.Name, a.Category, a.Description)
		}
		return nil
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show an agent's triggers, boundaries and workflows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		agent, err := holder.Current().Lookup(args[0])
		if err != nil {
			return err
		}

		view := server.NewAgentView(agent)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return presenter.JSON(view)
		}

		presenter.Section(fmt.Sprintf("%s (%s)", view.Name, view.Category))
		if view.Description != "" {
			presenter.Info(view.Description)
		}
		presenter.Info("Triggers: " + strings.Join(view.Triggers, "; "))
		for _, f := range view.FocusAreas {
			presenter.Info(fmt.Sprintf("Focus:    %s [%s]", f.Name, strings.Join(f.Keywords, ", ")))
		}
		presenter.Info("Will:     " + strings.Join(view.Will, ", "))
		if len(view.WillNot) > 0 {
			presenter.Info("Will not: " + strings.Join(view.WillNot, ", "))
		}
		if len(view.Related) > 0 {
			presenter.Info("Related:  " + strings.Join(view.Related, ", "))
		}
		for _, s := range view.Skills {
			presenter.Info(fmt.Sprintf("Skill:    %s (%s)", s.Name, s.Tier))
		}
		for _, w := range view.Flows {
			presenter.Separator()
			presenter.Info(fmt.Sprintf("Workflow %s", w.Name))
			if w.When != "" {
				presenter.Info("  when: " + w.When)
			}
			for i, s := range w.Steps {
				presenter.Info(fmt.Sprintf("  %d. [%s] %s", i+1, s.Action, s.Instruction))
			}
		}
		return nil
	},
}

func init() {
	agentsListCmd.Flags().Bool("json", false, "Print as JSON")
	agentsShowCmd.Flags().Bool("json", false, "Print as JSON")
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
}

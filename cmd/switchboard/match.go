package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/presenter"
	"github.com/jingkaihe/switchboard/pkg/server"
)

var matchCmd = &cobra.Command{
	Use:   "match <task...>",
	Short: "Show how every agent scores against a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		eng, err := newEngine(holder)
		if err != nil {
			return err
		}

		candidates := eng.Match(strings.Join(args, " "))
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return presenter.JSON(server.NewCandidateViews(candidates))
		}
		presenter.Candidates(candidates)
		return nil
	},
}

func init() {
	matchCmd.Flags().Bool("json", false, "Print candidates as JSON")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/switchboard/pkg/registry"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of agent catalogs and front matter",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		out, err := registry.Schema()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
